// Package wav assembles raw PCM audio into standard WAV container files,
// incrementally and without knowing the final size up front.
//
// A Builder owns one open recording per session. Frames are appended as they
// arrive; the 44-byte header is written as a placeholder on Open and rewritten
// with the true sizes on Close. While a recording is still growing, Snapshot
// produces a second, fully valid container covering everything written so far
// — the recording file is single-writer and append-only, so snapshot reads
// never race with continued ingestion.
//
// The container format is fixed: mono, 16 kHz, 16-bit little-endian linear PCM.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// SampleRate is the fixed sample rate of every container this package
	// produces.
	SampleRate = 16000

	// Channels is fixed at mono.
	Channels = 1

	// BitsPerSample is fixed at 16-bit PCM.
	BitsPerSample = 16

	// BytesPerSecond is the PCM data rate: SampleRate × Channels × 2.
	BytesPerSecond = SampleRate * Channels * (BitsPerSample / 8)

	// HeaderSize is the fixed RIFF/WAVE header length in bytes.
	HeaderSize = 44

	// MinSnapshotBytes is the snapshot floor: below one second of audio a
	// snapshot is refused, so callers never submit unprocessable fragments
	// to a provider.
	MinSnapshotBytes = BytesPerSecond
)

var (
	// ErrNoRecording is returned when the session has no open recording.
	ErrNoRecording = errors.New("wav: no open recording for session")

	// ErrAlreadyOpen is returned by Open when the session already has a
	// recording in progress.
	ErrAlreadyOpen = errors.New("wav: recording already open for session")

	// ErrEmptyRecording is returned by Close when no data bytes were written.
	ErrEmptyRecording = errors.New("wav: recording contains no audio data")
)

// header mirrors the canonical 44-byte uncompressed-PCM WAV header.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // total file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 = linear PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate × NumChannels × BitsPerSample/8
	BlockAlign    uint16 // NumChannels × BitsPerSample/8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // PCM data bytes
}

// newHeader builds a header describing dataSize bytes of PCM payload.
func newHeader(dataSize uint32) header {
	return header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + HeaderSize - 8,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      BytesPerSecond,
		BlockAlign:    Channels * (BitsPerSample / 8),
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// writeHeader writes h to w in little-endian wire order.
func writeHeader(w io.Writer, h header) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// RecordingState is a point-in-time view of one session's recording progress.
type RecordingState struct {
	// FilePath is the in-progress container file.
	FilePath string

	// BytesWritten counts PCM data bytes received so far (header excluded).
	BytesWritten int64

	// StartTime is when the recording was opened.
	StartTime time.Time

	// ProcessedDuration is the processed-duration watermark in seconds: how
	// much audio has already been handed to a provider. Monotonically
	// non-decreasing and never beyond the written duration.
	ProcessedDuration float64

	// LastProcessedAt is when the watermark last advanced.
	LastProcessedAt time.Time
}

// WrittenDuration returns the duration of audio written so far, in seconds.
func (s RecordingState) WrittenDuration() float64 {
	return float64(s.BytesWritten) / float64(BytesPerSecond)
}

// recording is the live mutable state behind one session's container.
type recording struct {
	mu    sync.Mutex
	file  *os.File
	state RecordingState
	snaps int
}

// Builder creates and owns incremental WAV recordings, one per session id.
// All methods are safe for concurrent use across sessions; within one session
// the owning connection handler is the only writer.
type Builder struct {
	dir string

	mu         sync.Mutex
	recordings map[string]*recording
}

// NewBuilder creates a Builder that stores recordings under dir. The
// directory is created if missing.
func NewBuilder(dir string) (*Builder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wav: create recording dir %q: %w", dir, err)
	}
	return &Builder{
		dir:        dir,
		recordings: make(map[string]*recording),
	}, nil
}

// Open creates the backing file for sessionID with a placeholder header and
// registers the recording. Returns the initial state.
func (b *Builder) Open(sessionID string) (RecordingState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.recordings[sessionID]; ok {
		return RecordingState{}, fmt.Errorf("%w: %s", ErrAlreadyOpen, sessionID)
	}

	path := filepath.Join(b.dir, sessionID+".wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return RecordingState{}, fmt.Errorf("wav: create %q: %w", path, err)
	}

	// Placeholder header; rewritten with true sizes on Close.
	if err := writeHeader(f, newHeader(0)); err != nil {
		f.Close()
		os.Remove(path)
		return RecordingState{}, fmt.Errorf("wav: write placeholder header: %w", err)
	}

	rec := &recording{
		file: f,
		state: RecordingState{
			FilePath:  path,
			StartTime: time.Now().UTC(),
		},
	}
	b.recordings[sessionID] = rec

	slog.Debug("recording opened", "session_id", sessionID, "path", path)
	return rec.state, nil
}

// WriteChunk appends raw PCM bytes to the session's recording. A frame
// arriving after Close or Cancel is logged and dropped; it must not crash
// the session.
func (b *Builder) WriteChunk(sessionID string, pcm []byte) {
	rec := b.get(sessionID)
	if rec == nil {
		slog.Warn("audio frame for unknown recording dropped", "session_id", sessionID, "bytes", len(pcm))
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.file == nil {
		slog.Warn("audio frame after recording close dropped", "session_id", sessionID, "bytes", len(pcm))
		return
	}

	n, err := rec.file.Write(pcm)
	rec.state.BytesWritten += int64(n)
	if err != nil {
		slog.Error("recording write failed", "session_id", sessionID, "err", err)
	}
}

// Snapshot produces a self-contained, fully valid container covering every
// byte written so far, without interrupting ongoing writes. Returns
// ("", false, nil) when fewer than one second of audio has been written.
func (b *Builder) Snapshot(sessionID string) (string, bool, error) {
	rec := b.get(sessionID)
	if rec == nil {
		return "", false, fmt.Errorf("%w: %s", ErrNoRecording, sessionID)
	}

	rec.mu.Lock()
	if rec.file == nil {
		rec.mu.Unlock()
		return "", false, fmt.Errorf("%w: %s", ErrNoRecording, sessionID)
	}
	dataSize := rec.state.BytesWritten
	src := rec.state.FilePath
	rec.snaps++
	seq := rec.snaps
	rec.mu.Unlock()

	if dataSize < MinSnapshotBytes {
		return "", false, nil
	}

	// The writer only ever appends past dataSize, so reading the first
	// dataSize payload bytes from a second handle is race-free.
	in, err := os.Open(src)
	if err != nil {
		return "", false, fmt.Errorf("wav: open recording for snapshot: %w", err)
	}
	defer in.Close()
	if _, err := in.Seek(HeaderSize, io.SeekStart); err != nil {
		return "", false, fmt.Errorf("wav: seek recording data: %w", err)
	}

	dst := fmt.Sprintf("%s.snapshot-%d.wav", src[:len(src)-len(".wav")], seq)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", false, fmt.Errorf("wav: create snapshot %q: %w", dst, err)
	}
	defer out.Close()

	if err := writeHeader(out, newHeader(uint32(dataSize))); err != nil {
		os.Remove(dst)
		return "", false, fmt.Errorf("wav: write snapshot header: %w", err)
	}
	if _, err := io.CopyN(out, in, dataSize); err != nil {
		os.Remove(dst)
		return "", false, fmt.Errorf("wav: copy snapshot data: %w", err)
	}

	slog.Debug("snapshot taken", "session_id", sessionID, "path", dst, "data_bytes", dataSize)
	return dst, true, nil
}

// Close finalizes the recording: the placeholder header is rewritten with the
// true sizes, the file is closed, and the session's builder state is freed.
// Returns the finalized path. Fails with ErrEmptyRecording when zero data
// bytes were written (the empty file is discarded).
func (b *Builder) Close(sessionID string) (string, error) {
	rec := b.take(sessionID)
	if rec == nil {
		return "", fmt.Errorf("%w: %s", ErrNoRecording, sessionID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.file == nil {
		return "", fmt.Errorf("%w: %s", ErrNoRecording, sessionID)
	}

	path := rec.state.FilePath
	dataSize := rec.state.BytesWritten
	f := rec.file
	rec.file = nil

	if dataSize == 0 {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %s", ErrEmptyRecording, sessionID)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return "", fmt.Errorf("wav: seek header: %w", err)
	}
	if err := writeHeader(f, newHeader(uint32(dataSize))); err != nil {
		f.Close()
		return "", fmt.Errorf("wav: finalize header: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("wav: close recording: %w", err)
	}

	slog.Debug("recording finalized", "session_id", sessionID, "path", path, "data_bytes", dataSize)
	return path, nil
}

// Cancel discards the in-flight recording and deletes the file without
// finalizing. Unknown sessions are a no-op.
func (b *Builder) Cancel(sessionID string) {
	rec := b.take(sessionID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.file != nil {
		rec.file.Close()
		rec.file = nil
	}
	os.Remove(rec.state.FilePath)
	slog.Debug("recording cancelled", "session_id", sessionID, "path", rec.state.FilePath)
}

// State returns a copy of the session's recording state.
func (b *Builder) State(sessionID string) (RecordingState, error) {
	rec := b.get(sessionID)
	if rec == nil {
		return RecordingState{}, fmt.Errorf("%w: %s", ErrNoRecording, sessionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, nil
}

// AdvanceProcessed moves the processed-duration watermark forward to seconds.
// The watermark never moves backwards and never beyond the written duration,
// so a span skipped for being too short is still never retried.
func (b *Builder) AdvanceProcessed(sessionID string, seconds float64) error {
	rec := b.get(sessionID)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNoRecording, sessionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if max := rec.state.WrittenDuration(); seconds > max {
		seconds = max
	}
	if seconds > rec.state.ProcessedDuration {
		rec.state.ProcessedDuration = seconds
		rec.state.LastProcessedAt = time.Now().UTC()
	}
	return nil
}

func (b *Builder) get(sessionID string) *recording {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recordings[sessionID]
}

// take removes and returns the session's recording entry.
func (b *Builder) take(sessionID string) *recording {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.recordings[sessionID]
	delete(b.recordings, sessionID)
	return rec
}
