package whisperapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	oai "github.com/openai/openai-go"

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

func TestTranscribeSendsExpectedForm(t *testing.T) {
	var gotModel, gotFormat, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","language":"english","duration":1.5}`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), writeTempAudio(t), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q, want %q", res.Text, "hello world")
	}
	if res.DetectedLanguage != "english" {
		t.Errorf("detected language = %q, want %q", res.DetectedLanguage, "english")
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q, want verbose_json", gotFormat)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q, want en", gotLanguage)
	}
}

func TestTranscribeAutoOmitsLanguage(t *testing.T) {
	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), writeTempAudio(t), asr.LanguageAuto); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLanguage != "" {
		t.Errorf("language param = %q, want empty for auto detection", gotLanguage)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), "/does/not/exist.wav", "en"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		label string
	}{
		{"unauthorized", &oai.Error{StatusCode: http.StatusUnauthorized}, asr.IsAuth, "auth"},
		{"forbidden", &oai.Error{StatusCode: http.StatusForbidden}, asr.IsAuth, "auth"},
		{"quota", &oai.Error{StatusCode: http.StatusTooManyRequests}, asr.IsQuota, "quota"},
		{"too short", &oai.Error{StatusCode: http.StatusBadRequest, Message: "Audio file is too short"}, asr.IsTooShort, "too-short"},
		{"server error", &oai.Error{StatusCode: http.StatusInternalServerError}, asr.IsTransient, "transient"},
		{"deadline", context.DeadlineExceeded, asr.IsTimeout, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !tt.check(got) {
				t.Errorf("classify(%v) = %v, want %s", tt.err, got, tt.label)
			}
		})
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}
