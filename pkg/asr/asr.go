// Package asr defines the uniform capability contract for automatic speech
// recognition backends.
//
// Two capabilities exist. A StreamingProvider keeps a live connection to the
// vendor and emits transcripts incrementally while audio is still being
// spoken. A BatchProvider transcribes a complete, bounded audio file and
// returns once the vendor reports a terminal result. The session controller
// picks exactly one capability per session via the provider router; adding a
// vendor means adding one adapter implementation, never new conditionals at
// the call sites.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package asr

import "context"

// Kind identifies a concrete ASR vendor adapter.
type Kind string

const (
	KindDeepgram Kind = "deepgram"
	KindGoogle   Kind = "google"
	KindWhisper  Kind = "whisper"
	KindAssembly Kind = "assemblyai"
)

// IsValid reports whether k names a known adapter.
func (k Kind) IsValid() bool {
	switch k {
	case KindDeepgram, KindGoogle, KindWhisper, KindAssembly:
		return true
	}
	return false
}

// LanguageAuto is the sentinel language code requesting vendor-side language
// detection. Adapters that cannot detect treat it as their default language.
const LanguageAuto = "auto"

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The ingestion protocol is
	// fixed at 16000.
	SampleRate int

	// Channels is the number of audio channels. Always 1 for this system.
	Channels int

	// Language is the language code for recognition. LanguageAuto or an empty
	// string lets the vendor detect the language, if supported.
	Language string
}

// Transcript is a single recognition fragment emitted by a streaming session.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is an authoritative result. Interim
	// (non-final) fragments are transient: each one replaces its predecessor
	// and must never be appended to the persisted transcript.
	IsFinal bool

	// Confidence is the vendor confidence score (0.0–1.0), zero when the
	// vendor does not report one.
	Confidence float64
}

// Result is the outcome of one batch transcription call.
type Result struct {
	// Text is the transcript of the submitted segment. May be empty when the
	// segment contained no recognisable speech.
	Text string

	// DetectedLanguage is the vendor-reported language code, empty when the
	// vendor was not asked to detect or does not report one.
	DetectedLanguage string
}

// StreamHandle is an open streaming transcription session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so leaks goroutines and the vendor connection. All methods are safe for
// concurrent use.
type StreamHandle interface {
	// SendAudio delivers a chunk of raw little-endian 16-bit PCM audio to the
	// vendor. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns the channel of interim transcripts. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals returns the channel of authoritative transcripts. Closed when
	// the session ends.
	Finals() <-chan Transcript

	// FinalText flushes pending audio, closes the vendor connection, and
	// returns the best complete transcript accumulated over the session's
	// lifetime. It must succeed (returning whatever was accumulated) even when
	// the vendor connection already died.
	FinalText(ctx context.Context) (string, error)

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// StreamingProvider is the low-latency capability: a live vendor connection
// fed frame by frame.
type StreamingProvider interface {
	// StartStream opens a new streaming session. The returned handle is ready
	// to accept audio immediately. The caller owns the handle and must call
	// Close (or FinalText, which implies a flush-and-close) when done.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}

// BatchProvider is the high-latency capability: one bounded audio segment in,
// one terminal result out.
type BatchProvider interface {
	// Transcribe submits the audio file at path and blocks until the vendor
	// reports a terminal state or the bounded wait elapses. language may be
	// LanguageAuto. Failures are classified per the taxonomy in this package;
	// callers route on IsQuota / IsTooShort / IsTransient rather than on
	// vendor-specific error values.
	Transcribe(ctx context.Context, path string, language string) (Result, error)
}
