package assembly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.wav")
	if err := os.WriteFile(path, []byte("RIFFfakeaudio"), 0o644); err != nil {
		t.Fatalf("write temp audio: %v", err)
	}
	return path
}

// fakeAPI is a minimal AssemblyAI stand-in: one upload, one submit, then a
// scripted sequence of poll responses.
type fakeAPI struct {
	t            *testing.T
	polls        []jobResponse
	pollCount    atomic.Int32
	submittedReq submitRequest
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(uploadResponse{UploadURL: "https://cdn.example/upload/abc"})
	})
	mux.HandleFunc("POST /transcript", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.submittedReq); err != nil {
			f.t.Errorf("decode submit: %v", err)
		}
		json.NewEncoder(w).Encode(jobResponse{ID: "job-1", Status: "queued"})
	})
	mux.HandleFunc("GET /transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		i := int(f.pollCount.Add(1)) - 1
		if i >= len(f.polls) {
			i = len(f.polls) - 1
		}
		json.NewEncoder(w).Encode(f.polls[i])
	})
	return mux
}

func newTestProvider(t *testing.T, api *fakeAPI) *Provider {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	p, err := New("key",
		WithBaseURL(srv.URL),
		WithPollInterval(time.Millisecond),
		WithMaxWait(time.Second),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestTranscribeFullSequence(t *testing.T) {
	api := &fakeAPI{t: t, polls: []jobResponse{
		{ID: "job-1", Status: "processing"},
		{ID: "job-1", Status: "completed", Text: "sawasdee krub", LanguageCode: "th"},
	}}
	p := newTestProvider(t, api)

	res, err := p.Transcribe(context.Background(), writeTempAudio(t), "th")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "sawasdee krub" {
		t.Errorf("text = %q", res.Text)
	}
	if res.DetectedLanguage != "th" {
		t.Errorf("detected language = %q", res.DetectedLanguage)
	}
	if api.submittedReq.LanguageCode != "th" || api.submittedReq.LanguageDetect {
		t.Errorf("submit request = %+v, want pinned language", api.submittedReq)
	}
	if got := api.pollCount.Load(); got != 2 {
		t.Errorf("polls = %d, want 2", got)
	}
}

func TestTranscribeAutoEnablesDetection(t *testing.T) {
	api := &fakeAPI{t: t, polls: []jobResponse{
		{ID: "job-1", Status: "completed", Text: "hola", LanguageCode: "es"},
	}}
	p := newTestProvider(t, api)

	if _, err := p.Transcribe(context.Background(), writeTempAudio(t), asr.LanguageAuto); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !api.submittedReq.LanguageDetect || api.submittedReq.LanguageCode != "" {
		t.Errorf("submit request = %+v, want language detection", api.submittedReq)
	}
}

func TestTranscribeJobError(t *testing.T) {
	api := &fakeAPI{t: t, polls: []jobResponse{
		{ID: "job-1", Status: "error", Error: "upstream decode failure"},
	}}
	p := newTestProvider(t, api)

	_, err := p.Transcribe(context.Background(), writeTempAudio(t), "en")
	if !asr.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestTranscribeJobTooShort(t *testing.T) {
	api := &fakeAPI{t: t, polls: []jobResponse{
		{ID: "job-1", Status: "error", Error: "Audio duration is too short"},
	}}
	p := newTestProvider(t, api)

	_, err := p.Transcribe(context.Background(), writeTempAudio(t), "en")
	if !asr.IsTooShort(err) {
		t.Fatalf("err = %v, want too-short", err)
	}
}

func TestTranscribePollTimeout(t *testing.T) {
	api := &fakeAPI{t: t, polls: []jobResponse{
		{ID: "job-1", Status: "processing"},
	}}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	p, err := New("key",
		WithBaseURL(srv.URL),
		WithPollInterval(time.Millisecond),
		WithMaxWait(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), writeTempAudio(t), "en")
	if !asr.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestUploadAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"bad api key"}`)
	}))
	t.Cleanup(srv.Close)
	p, err := New("bad-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), writeTempAudio(t), "en")
	if !asr.IsAuth(err) {
		t.Fatalf("err = %v, want auth", err)
	}
}

func TestQuotaFailureOnSubmit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(uploadResponse{UploadURL: "https://cdn.example/u"})
	})
	mux.HandleFunc("POST /transcript", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), writeTempAudio(t), "en")
	if !asr.IsQuota(err) {
		t.Fatalf("err = %v, want quota", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}
