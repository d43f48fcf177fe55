// Package mock provides test doubles for the asr package interfaces.
//
// Use StreamingProvider to verify that the caller starts sessions with the
// expected StreamConfig, and Stream to feed controlled Transcript values and
// inspect which audio chunks were delivered. BatchProvider returns scripted
// results per call, which is what the batch pipeline tests need to exercise
// skip-and-continue and quota-abort behaviour.
package mock

import (
	"context"
	"sync"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

// StartStreamCall records a single invocation of StreamingProvider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg asr.StreamConfig
}

// StreamingProvider is a mock implementation of asr.StreamingProvider.
type StreamingProvider struct {
	mu sync.Mutex

	// Stream is the handle returned by StartStream. If nil, StartStream
	// returns a new default Stream with buffered channels.
	Stream asr.StreamHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Stream, StartStreamErr.
func (p *StreamingProvider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.StreamHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Stream != nil {
		return p.Stream, nil
	}
	return NewStream(), nil
}

// Stream is a mock implementation of asr.StreamHandle.
type Stream struct {
	mu sync.Mutex

	// PartialsCh and FinalsCh back the Partials and Finals accessors. Tests
	// write to them directly to simulate vendor output.
	PartialsCh chan asr.Transcript
	FinalsCh   chan asr.Transcript

	// SentAudio records every chunk passed to SendAudio.
	SentAudio [][]byte

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// FinalTextResult and FinalTextErr are returned from FinalText.
	FinalTextResult string
	FinalTextErr    error

	closed bool
}

// NewStream creates a Stream with buffered transcript channels.
func NewStream() *Stream {
	return &Stream{
		PartialsCh: make(chan asr.Transcript, 16),
		FinalsCh:   make(chan asr.Transcript, 16),
	}
}

func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.SentAudio = append(s.SentAudio, c)
	return nil
}

// AudioFrames returns a copy of the recorded audio chunks, safe to call
// while another goroutine is still sending.
func (s *Stream) AudioFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SentAudio))
	copy(out, s.SentAudio)
	return out
}

func (s *Stream) Partials() <-chan asr.Transcript { return s.PartialsCh }

func (s *Stream) Finals() <-chan asr.Transcript { return s.FinalsCh }

func (s *Stream) FinalText(_ context.Context) (string, error) {
	_ = s.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalTextResult, s.FinalTextErr
}

// Close closes the transcript channels exactly once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.PartialsCh)
		close(s.FinalsCh)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// TranscribeCall records one invocation of BatchProvider.Transcribe.
type TranscribeCall struct {
	Path     string
	Language string
}

// BatchProvider is a mock implementation of asr.BatchProvider. Each call
// consumes the next entry of Results/Errs; when the script runs out the
// zero Result is returned.
type BatchProvider struct {
	mu sync.Mutex

	// Results and Errs are consumed pairwise per call. A nil entry in Errs
	// means success.
	Results []asr.Result
	Errs    []error

	// Calls records every invocation in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted result.
func (p *BatchProvider) Transcribe(_ context.Context, path, language string) (asr.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Path: path, Language: language})
	i := p.next
	p.next++
	var res asr.Result
	if i < len(p.Results) {
		res = p.Results[i]
	}
	var err error
	if i < len(p.Errs) {
		err = p.Errs[i]
	}
	return res, err
}

// Compile-time interface checks.
var (
	_ asr.StreamingProvider = (*StreamingProvider)(nil)
	_ asr.StreamHandle      = (*Stream)(nil)
	_ asr.BatchProvider     = (*BatchProvider)(nil)
)
