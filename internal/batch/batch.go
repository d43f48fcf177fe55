// Package batch orchestrates chunked batch transcription: normalizing input
// audio, splitting it into bounded segments, transcribing them strictly in
// order, and persisting progress after every chunk so a crash loses at most
// one chunk of work.
//
// Two entry points exist. Run is the full pipeline over a complete recording,
// used as the authoritative final pass when a batch-mode session closes.
// ProcessTail is the incremental variant driven by the session's periodic
// timer while recording is still open: it transcribes only the unprocessed
// tail of a snapshot as a single unit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/remoteree/patient-note-taker-asean/internal/resilience"
	"github.com/remoteree/patient-note-taker-asean/internal/transcript"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
	"github.com/remoteree/patient-note-taker-asean/pkg/store"
)

// MinSegmentSeconds is the short-audio floor: segments below it are skipped
// rather than submitted, matching the snapshot floor of the container
// builder.
const MinSegmentSeconds = 1.0

// Status is the lifecycle state of one batch job.
type Status string

const (
	StatusInitializing     Status = "initializing"
	StatusNormalizing      Status = "normalizing"
	StatusSplitting        Status = "splitting"
	StatusProcessingChunks Status = "processing_chunks"
	StatusCompleted        Status = "completed"
	StatusPartial          Status = "partially_completed"
	StatusFailed           Status = "failed"
)

// Job is one sequential processing run over a set of chunks.
type Job struct {
	// ID identifies the run in logs.
	ID string

	// SessionID is the consultation the job belongs to.
	SessionID string

	// Chunks is the ordered list of segment paths.
	Chunks []string

	// CurrentIndex is the chunk being (or about to be) processed.
	CurrentIndex int

	// FullTranscript is the space-joined concatenation, in order, of every
	// non-empty chunk result processed so far. Append-only.
	FullTranscript string

	// DetectedLanguage is set at most once, from the first chunk that
	// reports one.
	DetectedLanguage string

	// Status is the job's lifecycle state.
	Status Status
}

// Splitter is the audio-processing collaborator the pipeline drives. The
// split package provides the production implementation over ffmpeg.
type Splitter interface {
	Split(ctx context.Context, path string) ([]string, error)
	Duration(ctx context.Context, path string) (float64, error)
	ExtractFrom(ctx context.Context, path string, startSeconds float64) (string, error)
	Normalize(ctx context.Context, path string) (string, error)
}

// SummaryTrigger is the external collaborator that turns a finished
// transcript into a clinical note. Only the trigger lives in this engine.
type SummaryTrigger interface {
	GenerateSummary(ctx context.Context, sessionID, transcriptText, language string) error
}

// Config holds a Pipeline's collaborators.
type Config struct {
	Splitter Splitter
	Provider asr.BatchProvider
	Guard    *transcript.Guard
	Store    store.Store
	Notifier transcript.Notifier
	Summary  SummaryTrigger

	// Breaker guards vendor calls. Optional; nil disables breaking.
	Breaker *resilience.Breaker

	// ChunkTimeout bounds one vendor call including polling. Default 5m.
	ChunkTimeout time.Duration
}

// Pipeline runs batch transcription jobs. Safe for concurrent use across
// sessions; one session never runs two jobs at once (the session controller
// guarantees that with its tick guard).
type Pipeline struct {
	cfg Config
}

// New creates a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 5 * time.Minute
	}
	if cfg.Notifier == nil {
		cfg.Notifier = transcript.NopNotifier{}
	}
	return &Pipeline{cfg: cfg}
}

// Run executes the full pipeline over the complete recording at path.
// The returned Job reports the terminal status; the error is non-nil only
// when the pipeline could not process at all (normalize/split failure), in
// which case the job status is StatusFailed.
//
// Normalized and chunk intermediate files are always deleted before Run
// returns, whatever path the run took.
func (p *Pipeline) Run(ctx context.Context, sessionID, path, language string) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    StatusInitializing,
	}
	log := slog.With("session_id", sessionID, "job_id", job.ID)

	var intermediates []string
	defer func() {
		for _, f := range intermediates {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				log.Warn("intermediate file cleanup failed", "path", f, "err", err)
			}
		}
	}()

	job.Status = StatusNormalizing
	normalized, err := p.cfg.Splitter.Normalize(ctx, path)
	if err != nil {
		job.Status = StatusFailed
		return job, fmt.Errorf("batch: normalize: %w", err)
	}
	intermediates = append(intermediates, normalized)

	job.Status = StatusSplitting
	chunks, err := p.cfg.Splitter.Split(ctx, normalized)
	if err != nil {
		job.Status = StatusFailed
		return job, fmt.Errorf("batch: split: %w", err)
	}
	intermediates = append(intermediates, chunks...)
	job.Chunks = chunks

	total := len(chunks)
	if err := p.cfg.Store.SetProgress(ctx, sessionID, 0, total); err != nil {
		log.Warn("record total chunks failed", "err", err)
	}
	log.Info("batch job starting", "chunks", total, "language", language)

	job.Status = StatusProcessingChunks
	quotaHit := false
	authHit := false
	for i, chunk := range chunks {
		job.CurrentIndex = i
		res, err := p.transcribeChunk(ctx, chunk, language)
		if err != nil {
			if asr.IsQuota(err) {
				// Aborts the job but keeps what exists: the transcript so far
				// is already persisted chunk by chunk.
				log.Warn("vendor quota exhausted, stopping job", "chunk", i, "err", err)
				quotaHit = true
				break
			}
			if asr.IsAuth(err) {
				// Dead credentials will not come back for the next chunk.
				log.Error("vendor rejected credentials, stopping job", "chunk", i, "err", err)
				authHit = true
				break
			}
			// Everything else is contained to this chunk: it contributes
			// nothing and the job moves on.
			log.Warn("chunk transcription failed, continuing", "chunk", i, "err", err)
			continue
		}

		if res.DetectedLanguage != "" && job.DetectedLanguage == "" {
			job.DetectedLanguage = res.DetectedLanguage
			if err := p.cfg.Store.SetDetectedLanguage(ctx, sessionID, res.DetectedLanguage); err != nil {
				log.Warn("record detected language failed", "err", err)
			}
		}

		if res.Text != "" {
			if job.FullTranscript != "" {
				job.FullTranscript += " "
			}
			job.FullTranscript += res.Text
			if _, err := p.cfg.Guard.Merge(ctx, sessionID, job.FullTranscript); err != nil {
				log.Error("persist after chunk failed", "chunk", i, "err", err)
			}
		}

		processed := i + 1
		if err := p.cfg.Store.SetProgress(ctx, sessionID, processed, total); err != nil {
			log.Warn("record chunk progress failed", "err", err)
		}
		p.cfg.Notifier.PushUpdate(transcript.Update{
			SessionID:        sessionID,
			Text:             job.FullTranscript,
			Progress:         transcript.NewProgress(processed, total),
			DetectedLanguage: job.DetectedLanguage,
		})
	}

	if quotaHit {
		job.Status = StatusPartial
		if err := p.cfg.Store.SetStatus(ctx, sessionID, store.StatusPartial); err != nil {
			log.Error("record partial status failed", "err", err)
		}
		p.cfg.Notifier.PushError(sessionID, "transcription stopped early: provider quota exceeded")
		return job, nil
	}

	if authHit {
		job.Status = StatusFailed
		if err := p.cfg.Store.SetStatus(ctx, sessionID, store.StatusFailed); err != nil {
			log.Error("record failed status failed", "err", err)
		}
		p.cfg.Notifier.PushError(sessionID, "transcription failed: provider rejected credentials")
		return job, nil
	}

	job.Status = StatusCompleted
	if err := p.cfg.Store.SetStatus(ctx, sessionID, store.StatusCompleted); err != nil {
		log.Error("record completed status failed", "err", err)
	}
	p.cfg.Notifier.PushUpdate(transcript.Update{
		SessionID:        sessionID,
		Text:             job.FullTranscript,
		IsFinal:          true,
		Progress:         transcript.NewProgress(total, total),
		DetectedLanguage: job.DetectedLanguage,
	})

	if p.cfg.Summary != nil && job.FullTranscript != "" {
		lang := job.DetectedLanguage
		if lang == "" {
			lang = language
		}
		if err := p.cfg.Summary.GenerateSummary(ctx, sessionID, job.FullTranscript, lang); err != nil {
			log.Error("summary trigger failed", "err", err)
		} else if err := p.cfg.Store.SetHasSummary(ctx, sessionID, true); err != nil {
			log.Warn("record summary flag failed", "err", err)
		}
	}

	log.Info("batch job finished", "status", job.Status, "transcript_len", len(job.FullTranscript))
	return job, nil
}

// ProcessTail is the incremental variant used while recording is still open.
// It extracts the unprocessed tail of snapshotPath starting at fromSeconds,
// transcribes it as a single unit when it clears the short-audio floor, and
// persists accumulated + tail text through the guard.
//
// It returns the new accumulated text and the duration covered by the
// snapshot. The caller must advance the session's processed-duration
// watermark to covered on a nil error — including the skipped-too-short case,
// so the same silent span is never submitted twice. The snapshot and every
// file derived from it are deleted before returning.
func (p *Pipeline) ProcessTail(ctx context.Context, sessionID, snapshotPath string, fromSeconds float64, language, accumulated string) (newText string, covered float64, err error) {
	log := slog.With("session_id", sessionID)

	intermediates := []string{snapshotPath}
	defer func() {
		for _, f := range intermediates {
			if rmErr := os.Remove(f); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn("tail cleanup failed", "path", f, "err", rmErr)
			}
		}
	}()

	covered, err = p.cfg.Splitter.Duration(ctx, snapshotPath)
	if err != nil {
		return accumulated, 0, fmt.Errorf("batch: probe snapshot: %w", err)
	}

	tail, err := p.cfg.Splitter.ExtractFrom(ctx, snapshotPath, fromSeconds)
	if err != nil {
		return accumulated, covered, fmt.Errorf("batch: extract tail: %w", err)
	}
	intermediates = append(intermediates, tail)

	normalized, err := p.cfg.Splitter.Normalize(ctx, tail)
	if err != nil {
		return accumulated, covered, fmt.Errorf("batch: normalize tail: %w", err)
	}
	intermediates = append(intermediates, normalized)

	segSeconds, err := p.cfg.Splitter.Duration(ctx, normalized)
	if err != nil {
		return accumulated, covered, fmt.Errorf("batch: probe tail: %w", err)
	}
	if segSeconds < MinSegmentSeconds {
		// Expected when the speaker pauses; not an error. The caller still
		// advances the watermark so this span is never retried.
		log.Debug("tail below short-audio floor, skipping", "seconds", segSeconds)
		return accumulated, covered, nil
	}

	res, err := p.transcribeChunk(ctx, normalized, language)
	if err != nil {
		if asr.IsTooShort(err) {
			log.Debug("vendor rejected tail as too short, skipping")
			return accumulated, covered, nil
		}
		return accumulated, covered, fmt.Errorf("batch: transcribe tail: %w", err)
	}

	if res.Text != "" {
		if accumulated != "" {
			accumulated += " "
		}
		accumulated += res.Text
		if _, err := p.cfg.Guard.Merge(ctx, sessionID, accumulated); err != nil {
			log.Error("persist tail failed", "err", err)
		}
		p.cfg.Notifier.PushUpdate(transcript.Update{
			SessionID:        sessionID,
			Text:             accumulated,
			DetectedLanguage: res.DetectedLanguage,
		})
	}
	return accumulated, covered, nil
}

// transcribeChunk calls the vendor with a bounded wait, routed through the
// breaker when one is configured. Benign too-short failures do not count
// toward opening the breaker.
func (p *Pipeline) transcribeChunk(ctx context.Context, path, language string) (asr.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
	defer cancel()

	if p.cfg.Breaker == nil {
		return p.cfg.Provider.Transcribe(callCtx, path, language)
	}

	var res asr.Result
	var benign error
	err := p.cfg.Breaker.Do(func() error {
		var callErr error
		res, callErr = p.cfg.Provider.Transcribe(callCtx, path, language)
		if asr.IsTooShort(callErr) {
			benign = callErr
			return nil
		}
		return callErr
	})
	if benign != nil {
		return asr.Result{}, benign
	}
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return asr.Result{}, asr.Transient("breaker", err)
		}
		return asr.Result{}, err
	}
	return res, nil
}
