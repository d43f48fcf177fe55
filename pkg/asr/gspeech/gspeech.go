// Package gspeech implements asr.StreamingProvider over the Google Cloud
// Speech-to-Text v2 StreamingRecognize API. Google's five-minute stream cap
// and idle-abort are handled by transparently reopening the gRPC stream
// mid-session.
package gspeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

const (
	endpointPort   = 443
	globalLocation = "global"
)

// Config holds the Google Cloud project settings for the provider.
type Config struct {
	ProjectID       string
	CredentialsJSON string

	// Location selects a regional Speech endpoint; "global" uses the
	// default one. Empty defaults to global.
	Location string

	// Model is the recognizer model, e.g. "chirp_2" or "long".
	Model string
}

// Provider implements asr.StreamingProvider backed by Cloud Speech v2.
type Provider struct {
	cfg Config
}

// New creates a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("gspeech: ProjectID must not be empty")
	}
	if cfg.Location == "" {
		cfg.Location = globalLocation
	}
	return &Provider{cfg: cfg}, nil
}

// StartStream opens a streaming recognition session.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.StreamHandle, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(p.cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("gspeech: detect credentials: %w", asr.ErrAuth)
	}

	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if p.cfg.Location != globalLocation {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", p.cfg.Location, endpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gspeech: new client: %w", err)
	}

	language := cfg.Language
	if language == "" || language == asr.LanguageAuto {
		language = "auto"
	}
	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_", p.cfg.ProjectID, p.cfg.Location)
	sendConfig := func(s speechpb.Speech_StreamingRecognizeClient) error {
		return s.Send(&speechpb.StreamingRecognizeRequest{
			Recognizer: recognizer,
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: &speechpb.StreamingRecognitionConfig{
					Config: &speechpb.RecognitionConfig{
						Model:         p.cfg.Model,
						LanguageCodes: []string{language},
						DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
							ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
								Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
								SampleRateHertz:   int32(cfg.SampleRate),
								AudioChannelCount: int32(cfg.Channels),
							},
						},
						Features: &speechpb.RecognitionFeatures{},
					},
					StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
				},
			},
		})
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gspeech: open stream: %w", err)
	}
	if err := sendConfig(stream); err != nil {
		_ = stream.CloseSend()
		_ = client.Close()
		return nil, fmt.Errorf("gspeech: send config: %w", err)
	}

	sess := &session{
		stream:   stream,
		partials: make(chan asr.Transcript, 64),
		finals:   make(chan asr.Transcript, 64),
		done:     make(chan struct{}),
		newStreamFn: func() (speechpb.Speech_StreamingRecognizeClient, error) {
			next, err := client.StreamingRecognize(ctx)
			if err != nil {
				return nil, err
			}
			if err := sendConfig(next); err != nil {
				_ = next.CloseSend()
				return nil, err
			}
			return next, nil
		},
		closeFn: client.Close,
	}
	sess.startReceiver(stream)
	return sess, nil
}

// session is one live recognition stream. It implements asr.StreamHandle.
type session struct {
	mu     sync.Mutex
	closed bool
	stream speechpb.Speech_StreamingRecognizeClient

	partials chan asr.Transcript
	finals   chan asr.Transcript
	done     chan struct{}
	once     sync.Once
	chanOnce sync.Once

	finalText []string

	newStreamFn func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn     func() error
}

// SendAudio forwards a PCM chunk, reopening the stream once when Google
// aborts it for hitting the duration cap.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: chunk},
	}
	if err := s.stream.Send(req); err != nil {
		if !isReconnectableStreamError(err) {
			return fmt.Errorf("gspeech: send audio: %w", err)
		}
		slog.Warn("speech stream aborted, reopening", "err", err)
		if err := s.reconnectLocked(); err != nil {
			return fmt.Errorf("gspeech: reopen stream: %w", err)
		}
		return s.stream.Send(req)
	}
	return nil
}

func (s *session) Partials() <-chan asr.Transcript { return s.partials }

func (s *session) Finals() <-chan asr.Transcript { return s.finals }

// FinalText closes the session and returns every finalized segment joined in
// arrival order.
func (s *session) FinalText(ctx context.Context) (string, error) {
	if err := s.Close(); err != nil {
		return "", err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.finalText, " "), nil
}

// Close half-closes the gRPC stream and releases the client.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.once.Do(func() { close(s.done) })
	if err := s.stream.CloseSend(); err != nil {
		_ = s.closeFn()
		return fmt.Errorf("gspeech: close stream: %w", err)
	}
	return s.closeFn()
}

func (s *session) reconnectLocked() error {
	_ = s.stream.CloseSend()
	next, err := s.newStreamFn()
	if err != nil {
		return err
	}
	s.stream = next
	s.startReceiver(next)
	slog.Info("speech stream reopened")
	return nil
}

// closeChannels tells consumers no further transcripts will arrive. The
// receiver calls it once the session is winding down for good, never on a
// reconnectable abort, so a replacement receiver can keep dispatching.
func (s *session) closeChannels() {
	s.chanOnce.Do(func() {
		close(s.partials)
		close(s.finals)
	})
}

// startReceiver drains recognition responses from one stream incarnation.
func (s *session) startReceiver(stream speechpb.Speech_StreamingRecognizeClient) {
	go func() {
		for {
			resp, err := stream.Recv()
			if err != nil {
				s.mu.Lock()
				closed := s.closed
				current := s.stream == stream
				fatal := current && !closed && !isReconnectableStreamError(err)
				if fatal {
					// No replacement is coming; refuse further sends too.
					s.closed = true
				}
				s.mu.Unlock()

				switch {
				case closed:
					// Normal wind-down after Close drained the stream.
					s.closeChannels()
				case fatal:
					slog.Error("speech stream receive failed", "err", err)
					s.once.Do(func() { close(s.done) })
					s.closeChannels()
					if s.closeFn != nil {
						_ = s.closeFn()
					}
				default:
					// Reconnectable abort, or this incarnation was already
					// replaced: SendAudio runs the replacement stream and
					// its receiver keeps the channels.
				}
				return
			}
			for _, result := range resp.GetResults() {
				if len(result.GetAlternatives()) == 0 {
					continue
				}
				alt := result.GetAlternatives()[0]
				t := asr.Transcript{
					Text:       alt.GetTranscript(),
					IsFinal:    result.GetIsFinal(),
					Confidence: float64(alt.GetConfidence()),
				}
				s.dispatch(t)
			}
		}
	}()
}

func (s *session) dispatch(t asr.Transcript) {
	if t.IsFinal && t.Text != "" {
		s.mu.Lock()
		s.finalText = append(s.finalText, t.Text)
		s.mu.Unlock()
	}
	ch := s.partials
	if t.IsFinal {
		ch = s.finals
	}
	select {
	case ch <- t:
	case <-s.done:
	}
}

// isReconnectableStreamError reports whether the stream died for a reason the
// session should survive: Google caps streams at five minutes and aborts idle
// ones.
func isReconnectableStreamError(err error) bool {
	if err == io.EOF || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}

var _ asr.StreamingProvider = (*Provider)(nil)
