// Package split divides normalized WAV files into bounded-duration segments
// using ffmpeg as an external collaborator, and exposes the related probing
// and extraction helpers the incremental batch pipeline needs.
//
// Segmenting first tries a stream copy, which is cheap but can fail to keep
// every segment independently decodable on some inputs; when that happens a
// re-encoding pass guarantees valid standalone segments. All intermediate
// files live under the splitter's work directory and are the caller's to
// delete.
package split

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultChunkSeconds is the default bounded duration of a batch segment.
const DefaultChunkSeconds = 45

// ErrNoChunks is returned by Split when segmenting produced no output files.
// Callers that require at least one chunk treat this as a hard failure.
var ErrNoChunks = errors.New("split: segmenting produced no chunks")

// runner abstracts process execution so tests can stub out ffmpeg.
type runner interface {
	// Run executes the named tool and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("split: %s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Option is a functional option for configuring a Splitter.
type Option func(*Splitter)

// WithChunkSeconds overrides the bounded segment duration.
func WithChunkSeconds(seconds int) Option {
	return func(s *Splitter) {
		if seconds > 0 {
			s.chunkSeconds = seconds
		}
	}
}

// WithFFmpegPath overrides the ffmpeg binary location.
func WithFFmpegPath(path string) Option {
	return func(s *Splitter) { s.ffmpeg = path }
}

// WithFFprobePath overrides the ffprobe binary location.
func WithFFprobePath(path string) Option {
	return func(s *Splitter) { s.ffprobe = path }
}

// Splitter shells out to ffmpeg/ffprobe. Safe for concurrent use; every
// operation writes to freshly named output files.
type Splitter struct {
	workDir      string
	chunkSeconds int
	ffmpeg       string
	ffprobe      string
	run          runner

	// glob lists files matching a pattern; split out for tests.
	glob func(pattern string) ([]string, error)
}

// New creates a Splitter writing intermediate files under workDir.
func New(workDir string, opts ...Option) *Splitter {
	s := &Splitter{
		workDir:      workDir,
		chunkSeconds: DefaultChunkSeconds,
		ffmpeg:       "ffmpeg",
		ffprobe:      "ffprobe",
		run:          execRunner{},
		glob:         filepath.Glob,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ChunkSeconds returns the configured bounded segment duration.
func (s *Splitter) ChunkSeconds() int { return s.chunkSeconds }

// removeMatches deletes every file matching pattern. Missing files are fine.
func (s *Splitter) removeMatches(pattern string) error {
	matches, err := s.glob(pattern)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Split divides the normalized audio file at path into ordered segments of at
// most the configured duration. A stream-copy segmenting pass is attempted
// first; on failure a re-encoding pass guarantees each produced segment is
// itself valid and independently decodable.
func (s *Splitter) Split(ctx context.Context, path string) ([]string, error) {
	base := filepath.Join(s.workDir, "chunk-"+uuid.NewString())
	pattern := base + "-%03d.wav"

	copyArgs := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "segment",
		"-segment_time", strconv.Itoa(s.chunkSeconds),
		"-c", "copy",
		pattern,
	}
	if _, err := s.run.Run(ctx, s.ffmpeg, copyArgs...); err != nil {
		// Stream copy can break codec alignment on some inputs; re-encode so
		// every segment stands on its own. The failed pass may have written
		// segments already, and ffmpeg refuses to overwrite them (with a null
		// stdin the overwrite prompt reads EOF and aborts), so clear them out
		// first.
		if err := s.removeMatches(base + "-*.wav"); err != nil {
			return nil, fmt.Errorf("split: clear partial segments: %w", err)
		}
		reencodeArgs := []string{
			"-hide_banner", "-loglevel", "error",
			"-i", path,
			"-f", "segment",
			"-segment_time", strconv.Itoa(s.chunkSeconds),
			"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
			pattern,
		}
		if _, err2 := s.run.Run(ctx, s.ffmpeg, reencodeArgs...); err2 != nil {
			return nil, fmt.Errorf("split: segmenting failed (copy: %v): %w", err, err2)
		}
	}

	chunks, err := s.glob(base + "-*.wav")
	if err != nil {
		return nil, fmt.Errorf("split: list segments: %w", err)
	}
	sort.Strings(chunks)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return chunks, nil
}

// Duration probes the audio duration of the file at path, in seconds.
func (s *Splitter) Duration(ctx context.Context, path string) (float64, error) {
	out, err := s.run.Run(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("split: parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

// ExtractFrom produces a new file containing only the audio from startSeconds
// to the end of the input, used by incremental processing to avoid
// re-submitting spans already handed to a provider.
func (s *Splitter) ExtractFrom(ctx context.Context, path string, startSeconds float64) (string, error) {
	out := filepath.Join(s.workDir, "tail-"+uuid.NewString()+".wav")
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(startSeconds, 'f', 3, 64),
		"-i", path,
		"-c", "copy",
		out,
	}
	if _, err := s.run.Run(ctx, s.ffmpeg, args...); err != nil {
		// Seek points that do not land on a block boundary need a re-encode.
		// Remove whatever the copy pass left at the output path so ffmpeg does
		// not abort on its no-overwrite prompt.
		if err := s.removeMatches(out); err != nil {
			return "", fmt.Errorf("split: clear partial tail: %w", err)
		}
		args = []string{
			"-hide_banner", "-loglevel", "error",
			"-ss", strconv.FormatFloat(startSeconds, 'f', 3, 64),
			"-i", path,
			"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
			out,
		}
		if _, err2 := s.run.Run(ctx, s.ffmpeg, args...); err2 != nil {
			return "", fmt.Errorf("split: extract tail (copy: %v): %w", err, err2)
		}
	}
	return out, nil
}

// Normalize converts the file at path to the fixed mono/16 kHz/16-bit WAV
// format every provider adapter expects.
func (s *Splitter) Normalize(ctx context.Context, path string) (string, error) {
	out := filepath.Join(s.workDir, "norm-"+uuid.NewString()+".wav")
	_, err := s.run.Run(ctx, s.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}
