package config_test

import (
	"strings"
	"testing"

	"github.com/remoteree/patient-note-taker-asean/internal/config"
)

func TestValidate_DuplicateRouteLanguages(t *testing.T) {
	yaml := `
routing:
  - language: en
    provider: deepgram
  - language: en
    provider: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate language, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_NegativeBatchValues(t *testing.T) {
	yaml := `
batch:
  chunk_seconds: -1
  tick_interval: -30s
  chunk_timeout: -5m
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative batch values, got nil")
	}
	for _, field := range []string{"chunk_seconds", "tick_interval", "chunk_timeout"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s, got: %v", field, err)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	// errors.Join should report every failure, not just the first.
	yaml := `
server:
  log_level: loud
routing:
  - language: en
    provider: siri
batch:
  chunk_seconds: -10
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "siri", "chunk_seconds"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestApplyEnv_OverridesSecrets(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-env")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("NOTETAKER_JWT_SECRET", "jwt-env")
	t.Setenv("NOTETAKER_POSTGRES_DSN", "postgres://env/db")

	cfg := &config.Config{}
	cfg.Providers.Deepgram.APIKey = "dg-file"
	cfg.Providers.AssemblyAI.APIKey = "aai-file"

	if err := config.ApplyEnv(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Providers.Deepgram.APIKey != "dg-env" {
		t.Errorf("deepgram api key: got %q, want env override", cfg.Providers.Deepgram.APIKey)
	}
	if cfg.Providers.Whisper.APIKey != "sk-env" {
		t.Errorf("whisper api key: got %q, want env override", cfg.Providers.Whisper.APIKey)
	}
	if cfg.Server.JWTSecret != "jwt-env" {
		t.Errorf("jwt secret: got %q, want env override", cfg.Server.JWTSecret)
	}
	if cfg.Store.PostgresDSN != "postgres://env/db" {
		t.Errorf("postgres dsn: got %q, want env override", cfg.Store.PostgresDSN)
	}
	// Variables that are unset leave the file value intact.
	if cfg.Providers.AssemblyAI.APIKey != "aai-file" {
		t.Errorf("assemblyai api key: got %q, want file value kept", cfg.Providers.AssemblyAI.APIKey)
	}
}

func TestApplyEnv_EmptyEnvKeepsFileValues(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")

	cfg := &config.Config{}
	cfg.Providers.Deepgram.APIKey = "dg-file"

	if err := config.ApplyEnv(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Deepgram.APIKey != "dg-file" {
		t.Errorf("deepgram api key: got %q, want %q", cfg.Providers.Deepgram.APIKey, "dg-file")
	}
}
