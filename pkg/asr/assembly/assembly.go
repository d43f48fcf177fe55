// Package assembly implements asr.BatchProvider over the AssemblyAI REST
// API: the audio file is uploaded, a transcription job is submitted, and the
// job is polled until it reaches a terminal state or the bounded wait
// expires.
package assembly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

const (
	defaultBaseURL      = "https://api.assemblyai.com/v2"
	defaultPollInterval = 3 * time.Second
	defaultMaxWait      = 5 * time.Minute
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Tests point this at a local server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithPollInterval overrides the job polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithMaxWait overrides the bounded wait for a job to finish.
func WithMaxWait(d time.Duration) Option {
	return func(p *Provider) { p.maxWait = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.http = c }
}

// Provider implements asr.BatchProvider backed by AssemblyAI.
type Provider struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxWait      time.Duration
	http         *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assembly: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		pollInterval: defaultPollInterval,
		maxWait:      defaultMaxWait,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type submitRequest struct {
	AudioURL       string `json:"audio_url"`
	LanguageCode   string `json:"language_code,omitempty"`
	LanguageDetect bool   `json:"language_detection,omitempty"`
}

type jobResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
	Error        string `json:"error"`
}

// Transcribe runs the upload → submit → poll sequence for one audio file.
func (p *Provider) Transcribe(ctx context.Context, path, language string) (asr.Result, error) {
	audioURL, err := p.upload(ctx, path)
	if err != nil {
		return asr.Result{}, err
	}

	jobID, err := p.submit(ctx, audioURL, language)
	if err != nil {
		return asr.Result{}, err
	}

	return p.poll(ctx, jobID)
}

func (p *Provider) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("assembly: open audio: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/upload", f)
	if err != nil {
		return "", fmt.Errorf("assembly: build upload request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := p.do(req, "upload", &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", asr.Transient("assembly: upload", errors.New("empty upload_url in response"))
	}
	return out.UploadURL, nil
}

func (p *Provider) submit(ctx context.Context, audioURL, language string) (string, error) {
	body := submitRequest{AudioURL: audioURL}
	if language == "" || language == asr.LanguageAuto {
		body.LanguageDetect = true
	} else {
		body.LanguageCode = language
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("assembly: encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("assembly: build submit request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var out jobResponse
	if err := p.do(req, "submit", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", asr.Transient("assembly: submit", errors.New("empty job id in response"))
	}
	return out.ID, nil
}

// poll queries the job until it completes, errors, or the bounded wait runs
// out.
func (p *Provider) poll(ctx context.Context, jobID string) (asr.Result, error) {
	deadline := time.Now().Add(p.maxWait)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/transcript/"+jobID, nil)
		if err != nil {
			return asr.Result{}, fmt.Errorf("assembly: build poll request: %w", err)
		}
		req.Header.Set("Authorization", p.apiKey)

		var job jobResponse
		if err := p.do(req, "poll", &job); err != nil {
			return asr.Result{}, err
		}

		switch job.Status {
		case "completed":
			return asr.Result{
				Text:             strings.TrimSpace(job.Text),
				DetectedLanguage: job.LanguageCode,
			}, nil
		case "error":
			return asr.Result{}, classifyJobError(job.Error)
		}

		if time.Now().After(deadline) {
			return asr.Result{}, fmt.Errorf("assembly: job %s after %s: %w", jobID, p.maxWait, asr.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return asr.Result{}, fmt.Errorf("assembly: poll job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// do executes req and decodes a JSON body into out, mapping non-2xx statuses
// onto the failure taxonomy.
func (p *Provider) do(req *http.Request, op string, out any) error {
	resp, err := p.http.Do(req)
	if err != nil {
		return asr.Transient("assembly: "+op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return asr.ClassifyHTTPStatus("assembly: "+op, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return asr.Transient("assembly: "+op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyJobError maps a terminal job error message onto the taxonomy.
// AssemblyAI rejects sub-minimum recordings with a duration complaint.
func classifyJobError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "too short") || strings.Contains(lower, "duration") {
		return fmt.Errorf("assembly: job failed: %s: %w", msg, asr.ErrTooShortAudio)
	}
	return asr.Transient("assembly: job", errors.New(msg))
}

var _ asr.BatchProvider = (*Provider)(nil)
