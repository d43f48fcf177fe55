package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/remoteree/patient-note-taker-asean/internal/batch"
	"github.com/remoteree/patient-note-taker-asean/internal/route"
	"github.com/remoteree/patient-note-taker-asean/internal/transcript"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
	"github.com/remoteree/patient-note-taker-asean/pkg/audio/wav"
	"github.com/remoteree/patient-note-taker-asean/pkg/store"
)

// ErrNoAdapter means routing picked a provider no adapter was configured for.
var ErrNoAdapter = errors.New("session: no adapter configured for provider")

// defaultTickInterval is how often a batch-mode session runs an incremental
// transcription pass while recording is still open.
const defaultTickInterval = 30 * time.Second

// Config holds a Controller's collaborators.
type Config struct {
	Router   *route.Router
	Registry *Registry
	Builder  *wav.Builder
	Store    store.Store
	Guard    *transcript.Guard
	Notifier transcript.Notifier
	Summary  batch.SummaryTrigger

	// Streaming maps provider kinds to their streaming adapters.
	Streaming map[asr.Kind]asr.StreamingProvider

	// Pipelines maps provider kinds to batch pipelines built over the
	// corresponding batch adapters.
	Pipelines map[asr.Kind]*batch.Pipeline

	// TickInterval overrides the incremental pass cadence. Default 30s.
	TickInterval time.Duration
}

// Controller drives session lifecycles: attach, audio forwarding, periodic
// incremental processing, and the three teardown paths (stop, cancel, and
// post-disconnect batch finalization).
type Controller struct {
	cfg Config
}

// NewController creates a Controller from cfg.
func NewController(cfg Config) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Notifier == nil {
		cfg.Notifier = transcript.NopNotifier{}
	}
	return &Controller{cfg: cfg}
}

// Start attaches a new session to the consultation. The consultation must
// exist and be in a recordable state, and must not already have a live
// session. When detectLanguage is set the provider is asked to identify the
// spoken language instead of being pinned to the consultation's language.
//
// On success the session is registered, its container is open, and mode-
// specific background work is running. ctx governs that background work.
func (c *Controller) Start(ctx context.Context, consultationID string, detectLanguage bool) (*Session, error) {
	cons, err := c.cfg.Store.Get(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("session: load consultation: %w", err)
	}
	if !cons.Status.Recordable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRecordable, consultationID, cons.Status)
	}

	language := cons.Language
	if detectLanguage || language == "" {
		language = asr.LanguageAuto
	}

	decision, err := c.cfg.Router.Select(ctx, language)
	if err != nil {
		return nil, fmt.Errorf("session: route: %w", err)
	}

	s := newSession(consultationID, language, decision)
	// Seed from whatever a previous connection already transcribed, so a
	// reconnect keeps growing the same transcript.
	s.setAccumulated(cons.Transcript)

	if err := c.cfg.Registry.add(s); err != nil {
		return nil, err
	}
	if _, err := c.cfg.Builder.Open(consultationID); err != nil {
		c.cfg.Registry.remove(consultationID)
		return nil, fmt.Errorf("session: open container: %w", err)
	}

	if err := c.cfg.Store.SetStatus(ctx, consultationID, store.StatusRecording); err != nil {
		slog.Warn("record recording status failed", "session_id", consultationID, "err", err)
	}

	switch decision.Mode {
	case route.ModeRealtime:
		provider, ok := c.cfg.Streaming[decision.Provider]
		if !ok {
			c.teardownFailedStart(s)
			return nil, fmt.Errorf("%w: %s (streaming)", ErrNoAdapter, decision.Provider)
		}
		handle, err := provider.StartStream(ctx, asr.StreamConfig{
			SampleRate: wav.SampleRate,
			Channels:   wav.Channels,
			Language:   language,
		})
		if err != nil {
			c.teardownFailedStart(s)
			return nil, fmt.Errorf("session: start stream: %w", err)
		}
		s.stream = handle
		go c.consumeStream(ctx, s, handle)

	case route.ModeBatch:
		if _, ok := c.cfg.Pipelines[decision.Provider]; !ok {
			c.teardownFailedStart(s)
			return nil, fmt.Errorf("%w: %s (batch)", ErrNoAdapter, decision.Provider)
		}
		go c.tickLoop(ctx, s)
	}

	slog.Info("session started",
		"session_id", consultationID,
		"language", language,
		"mode", decision.Mode,
		"provider", decision.Provider,
	)
	return s, nil
}

func (c *Controller) teardownFailedStart(s *Session) {
	c.cfg.Builder.Cancel(s.ID)
	c.cfg.Registry.remove(s.ID)
	s.signalStop()
	close(s.done)
}

// HandleAudio accepts one binary audio frame from the client: it is always
// appended to the container, and in realtime mode also forwarded to the
// provider stream.
func (c *Controller) HandleAudio(s *Session, frame []byte) {
	c.cfg.Builder.WriteChunk(s.ID, frame)
	if s.stream != nil {
		if err := s.stream.SendAudio(frame); err != nil {
			slog.Warn("forward audio to stream failed", "session_id", s.ID, "err", err)
		}
	}
}

// Stop is the graceful teardown path. In realtime mode it drains the stream's
// final text and persists it. In batch mode it finalizes the container and
// runs the full pipeline as the authoritative pass, in the background, so a
// client that disconnects right after stopping still gets its transcript
// persisted. Done() closes when everything has finished.
func (c *Controller) Stop(ctx context.Context, s *Session) {
	c.cfg.Registry.remove(s.ID)
	s.signalStop()

	switch s.Route.Mode {
	case route.ModeRealtime:
		c.finishRealtime(ctx, s)
		close(s.done)
	case route.ModeBatch:
		go func() {
			// The session must finish even when the connection's context is
			// already dead.
			c.finishBatch(context.WithoutCancel(ctx), s)
			close(s.done)
		}()
	}
}

// Cancel discards the session: the container is deleted, nothing further is
// persisted, and the consultation returns to a recordable state.
func (c *Controller) Cancel(ctx context.Context, s *Session) {
	c.cfg.Registry.remove(s.ID)
	s.signalStop()
	if s.stream != nil {
		_ = s.stream.Close()
	}
	c.cfg.Builder.Cancel(s.ID)
	if err := c.cfg.Store.SetStatus(ctx, s.ID, store.StatusScheduled); err != nil {
		slog.Warn("reset status after cancel failed", "session_id", s.ID, "err", err)
	}
	slog.Info("session cancelled", "session_id", s.ID)
	close(s.done)
}

// consumeStream relays provider transcripts to the client: partials are
// transient display text, finals grow the accumulated transcript and are
// persisted through the guard as they land.
func (c *Controller) consumeStream(ctx context.Context, s *Session, handle asr.StreamHandle) {
	partials := handle.Partials()
	finals := handle.Finals()
	for partials != nil || finals != nil {
		select {
		case <-s.stop:
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.cfg.Notifier.PushUpdate(transcript.Update{SessionID: s.ID, Text: t.Text})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			acc := s.appendFinal(t.Text)
			if _, err := c.cfg.Guard.Merge(ctx, s.ID, acc); err != nil {
				slog.Warn("persist streaming final failed", "session_id", s.ID, "err", err)
			}
			c.cfg.Notifier.PushUpdate(transcript.Update{SessionID: s.ID, Text: acc})
		}
	}
}

func (c *Controller) finishRealtime(ctx context.Context, s *Session) {
	final, err := s.stream.FinalText(ctx)
	if err != nil {
		slog.Warn("stream final text failed, keeping accumulated transcript", "session_id", s.ID, "err", err)
	}
	if final == "" {
		final = s.Accumulated()
	}

	if _, err := c.cfg.Builder.Close(s.ID); err != nil && !errors.Is(err, wav.ErrEmptyRecording) {
		slog.Warn("finalize container failed", "session_id", s.ID, "err", err)
	}

	if final == "" {
		if err := c.cfg.Store.SetStatus(ctx, s.ID, store.StatusFailed); err != nil {
			slog.Error("record failed status failed", "session_id", s.ID, "err", err)
		}
		c.cfg.Notifier.PushError(s.ID, "no speech was transcribed")
		return
	}

	if _, err := c.cfg.Guard.Merge(ctx, s.ID, final); err != nil {
		slog.Error("persist final transcript failed", "session_id", s.ID, "err", err)
	}
	if err := c.cfg.Store.SetStatus(ctx, s.ID, store.StatusCompleted); err != nil {
		slog.Error("record completed status failed", "session_id", s.ID, "err", err)
	}
	c.cfg.Notifier.PushUpdate(transcript.Update{SessionID: s.ID, Text: final, IsFinal: true})
	c.maybeSummarize(ctx, s, final)

	slog.Info("realtime session finished", "session_id", s.ID, "transcript_len", len(final))
}

func (c *Controller) finishBatch(ctx context.Context, s *Session) {
	// One last incremental pass over whatever the ticker had not reached yet,
	// so a listener sees the closing seconds without waiting for the full
	// pass. The full pipeline below re-reads everything and the persistence
	// guard keeps whichever result is longer.
	c.runTick(ctx, s)

	path, err := c.cfg.Builder.Close(s.ID)
	if err != nil {
		if errors.Is(err, wav.ErrEmptyRecording) {
			slog.Info("batch session closed with no audio", "session_id", s.ID)
			if serr := c.cfg.Store.SetStatus(ctx, s.ID, store.StatusFailed); serr != nil {
				slog.Error("record failed status failed", "session_id", s.ID, "err", serr)
			}
			c.cfg.Notifier.PushError(s.ID, "no audio was recorded")
			return
		}
		slog.Error("finalize container failed", "session_id", s.ID, "err", err)
		if serr := c.cfg.Store.SetStatus(ctx, s.ID, store.StatusFailed); serr != nil {
			slog.Error("record failed status failed", "session_id", s.ID, "err", serr)
		}
		c.cfg.Notifier.PushError(s.ID, "finalizing the recording failed")
		return
	}

	if err := c.cfg.Store.SetStatus(ctx, s.ID, store.StatusProcessing); err != nil {
		slog.Warn("record processing status failed", "session_id", s.ID, "err", err)
	}

	pipeline := c.cfg.Pipelines[s.Route.Provider]
	job, err := pipeline.Run(ctx, s.ID, path, s.Language)
	if err != nil {
		slog.Error("batch finalization failed", "session_id", s.ID, "err", err)
		if serr := c.cfg.Store.SetStatus(ctx, s.ID, store.StatusFailed); serr != nil {
			slog.Error("record failed status failed", "session_id", s.ID, "err", serr)
		}
		c.cfg.Notifier.PushError(s.ID, "transcription failed")
		return
	}
	slog.Info("batch session finished", "session_id", s.ID, "status", job.Status)
}

// tickLoop drives batch-mode incremental passes while the recording is open.
func (c *Controller) tickLoop(ctx context.Context, s *Session) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			c.runTick(ctx, s)
		}
	}
}

// runTick performs one incremental pass: snapshot the container, transcribe
// the unprocessed tail, and advance the watermark on success. A pass that is
// still running when the next tick fires makes the new tick a no-op.
func (c *Controller) runTick(ctx context.Context, s *Session) {
	if !s.tickBusy.CompareAndSwap(false, true) {
		slog.Debug("previous incremental pass still running, skipping tick", "session_id", s.ID)
		return
	}
	defer s.tickBusy.Store(false)

	snap, ok, err := c.cfg.Builder.Snapshot(s.ID)
	if err != nil {
		slog.Warn("snapshot failed", "session_id", s.ID, "err", err)
		return
	}
	if !ok {
		return
	}

	state, err := c.cfg.Builder.State(s.ID)
	if err != nil {
		slog.Warn("read recording state failed", "session_id", s.ID, "err", err)
		return
	}

	pipeline := c.cfg.Pipelines[s.Route.Provider]
	newText, covered, err := pipeline.ProcessTail(ctx, s.ID, snap, state.ProcessedDuration, s.Language, s.Accumulated())
	if err != nil {
		// The watermark stays put, so the same span is retried next tick.
		slog.Warn("incremental pass failed", "session_id", s.ID, "err", err)
		return
	}
	s.setAccumulated(newText)
	if err := c.cfg.Builder.AdvanceProcessed(s.ID, covered); err != nil {
		slog.Warn("advance watermark failed", "session_id", s.ID, "err", err)
	}
}

// maybeSummarize triggers summary generation once per consultation, for
// non-empty transcripts only.
func (c *Controller) maybeSummarize(ctx context.Context, s *Session, text string) {
	if c.cfg.Summary == nil || text == "" {
		return
	}
	cons, err := c.cfg.Store.Get(ctx, s.ID)
	if err != nil {
		slog.Warn("load consultation for summary check failed", "session_id", s.ID, "err", err)
		return
	}
	if cons.HasSummary {
		return
	}
	lang := cons.DetectedLanguage
	if lang == "" {
		lang = s.Language
	}
	if err := c.cfg.Summary.GenerateSummary(ctx, s.ID, text, lang); err != nil {
		slog.Error("summary trigger failed", "session_id", s.ID, "err", err)
		return
	}
	if err := c.cfg.Store.SetHasSummary(ctx, s.ID, true); err != nil {
		slog.Warn("record summary flag failed", "session_id", s.ID, "err", err)
	}
}
