package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

// Load reads the YAML configuration file at path, applies the environment
// overlay, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result,
// without the environment overlay. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse decodes YAML strictly: unknown fields are rejected, so a typoed key
// fails loudly instead of silently using a default.
func parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverlay carries the secrets that may be injected from the environment
// instead of the config file. A non-empty variable overrides the file value.
type envOverlay struct {
	DeepgramAPIKey        string `env:"DEEPGRAM_API_KEY"`
	GoogleCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	OpenAIAPIKey          string `env:"OPENAI_API_KEY"`
	AssemblyAIAPIKey      string `env:"ASSEMBLYAI_API_KEY"`
	JWTSecret             string `env:"NOTETAKER_JWT_SECRET"`
	PostgresDSN           string `env:"NOTETAKER_POSTGRES_DSN"`
}

// ApplyEnv overlays environment-provided secrets onto cfg.
func ApplyEnv(cfg *Config) error {
	var overlay envOverlay
	if err := env.Parse(&overlay); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	if overlay.DeepgramAPIKey != "" {
		cfg.Providers.Deepgram.APIKey = overlay.DeepgramAPIKey
	}
	if overlay.GoogleCredentialsJSON != "" {
		cfg.Providers.Google.CredentialsJSON = overlay.GoogleCredentialsJSON
	}
	if overlay.OpenAIAPIKey != "" {
		cfg.Providers.Whisper.APIKey = overlay.OpenAIAPIKey
	}
	if overlay.AssemblyAIAPIKey != "" {
		cfg.Providers.AssemblyAI.APIKey = overlay.AssemblyAIAPIKey
	}
	if overlay.JWTSecret != "" {
		cfg.Server.JWTSecret = overlay.JWTSecret
	}
	if overlay.PostgresDSN != "" {
		cfg.Store.PostgresDSN = overlay.PostgresDSN
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.JWTSecret == "" {
		slog.Warn("server.jwt_secret is empty; every connection will be rejected")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; transcripts will only be held in memory")
	}

	languagesSeen := make(map[string]int, len(cfg.Routing))
	for i, rc := range cfg.Routing {
		prefix := fmt.Sprintf("routing[%d]", i)
		if rc.Language == "" {
			errs = append(errs, fmt.Errorf("%s.language is required", prefix))
		} else {
			if prev, ok := languagesSeen[rc.Language]; ok {
				errs = append(errs, fmt.Errorf("%s.language %q is a duplicate of routing[%d]", prefix, rc.Language, prev))
			}
			languagesSeen[rc.Language] = i
		}
		if !asr.Kind(rc.Provider).IsValid() {
			errs = append(errs, fmt.Errorf("%s.provider %q is invalid; valid values: deepgram, google, whisper, assemblyai", prefix, rc.Provider))
		} else if !rc.Disabled && !providerConfigured(cfg, asr.Kind(rc.Provider)) {
			slog.Warn("routed provider has no credentials configured; sessions in this language will fail to start",
				"language", rc.Language,
				"provider", rc.Provider,
			)
		}
	}

	if cfg.Batch.ChunkSeconds < 0 {
		errs = append(errs, fmt.Errorf("batch.chunk_seconds %d must not be negative", cfg.Batch.ChunkSeconds))
	}
	if cfg.Batch.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("batch.tick_interval %s must not be negative", cfg.Batch.TickInterval))
	}
	if cfg.Batch.ChunkTimeout < 0 {
		errs = append(errs, fmt.Errorf("batch.chunk_timeout %s must not be negative", cfg.Batch.ChunkTimeout))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	return errors.Join(errs...)
}

// providerConfigured reports whether the vendor has enough configuration to
// be constructed.
func providerConfigured(cfg *Config, kind asr.Kind) bool {
	switch kind {
	case asr.KindDeepgram:
		return cfg.Providers.Deepgram.APIKey != ""
	case asr.KindGoogle:
		return cfg.Providers.Google.ProjectID != ""
	case asr.KindWhisper:
		return cfg.Providers.Whisper.APIKey != ""
	case asr.KindAssembly:
		return cfg.Providers.AssemblyAI.APIKey != ""
	}
	return false
}
