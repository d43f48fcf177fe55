// Package whisperapi implements asr.BatchProvider over OpenAI's hosted
// Whisper transcription endpoint.
package whisperapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

const defaultModel = "whisper-1"

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API base URL. Tests point this at a local server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements asr.BatchProvider using the OpenAI SDK.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("whisperapi: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe uploads the audio file and returns its transcription. The
// verbose response format is requested so the model's language identification
// comes back alongside the text.
func (p *Provider) Transcribe(ctx context.Context, path, language string) (asr.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisperapi: open audio: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:           f,
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if language != "" && language != asr.LanguageAuto {
		params.Language = oai.String(language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Result{}, classify(err)
	}

	return asr.Result{
		Text:             strings.TrimSpace(resp.Text),
		DetectedLanguage: detectedLanguage(resp),
	}, nil
}

// detectedLanguage pulls the verbose-format language field, which the typed
// Transcription struct does not model.
func detectedLanguage(resp *oai.Transcription) string {
	field, ok := resp.JSON.ExtraFields["language"]
	if !ok {
		return ""
	}
	return strings.Trim(field.Raw(), `"`)
}

// classify maps SDK errors onto the shared failure taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("whisperapi: %w", asr.ErrTimeout)
	}

	var apiErr *oai.Error
	if !errors.As(err, &apiErr) {
		return asr.Transient("whisperapi: transcribe", err)
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("whisperapi: http %d: %w", apiErr.StatusCode, asr.ErrAuth)
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("whisperapi: http %d: %w", apiErr.StatusCode, asr.ErrQuotaExceeded)
	case apiErr.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "too short"):
		return fmt.Errorf("whisperapi: %w", asr.ErrTooShortAudio)
	default:
		return asr.Transient("whisperapi: transcribe", err)
	}
}

var _ asr.BatchProvider = (*Provider)(nil)
