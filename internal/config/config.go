// Package config provides the configuration schema, loader, env overlay, and
// file watcher for the note taker service.
package config

import (
	"fmt"
	"time"

	"github.com/remoteree/patient-note-taker-asean/internal/route"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Providers ProvidersConfig `yaml:"providers"`
	Routing   []RouteConfig   `yaml:"routing"`
	Batch     BatchConfig     `yaml:"batch"`
}

// ServerConfig holds network, auth, and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// RecordingDir is where in-progress audio containers are written.
	RecordingDir string `yaml:"recording_dir"`

	// JWTSecret signs and verifies connection credentials. Usually injected
	// from the environment rather than the file.
	JWTSecret string `yaml:"jwt_secret"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// StoreConfig selects the consultation store backend.
type StoreConfig struct {
	// PostgresDSN is the PostgreSQL connection string. When empty the
	// service runs on the in-memory store, which is only useful for local
	// development.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ProvidersConfig holds per-vendor adapter settings. A vendor with no
// credentials is simply not constructed; routing to it then fails at session
// start.
type ProvidersConfig struct {
	Deepgram   DeepgramConfig `yaml:"deepgram"`
	Google     GoogleConfig   `yaml:"google"`
	Whisper    WhisperConfig  `yaml:"whisper"`
	AssemblyAI AssemblyConfig `yaml:"assemblyai"`
}

// DeepgramConfig configures the Deepgram streaming adapter.
type DeepgramConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// GoogleConfig configures the Cloud Speech streaming adapter.
type GoogleConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsJSON string `yaml:"credentials_json"`
	Location        string `yaml:"location"`
	Model           string `yaml:"model"`
}

// WhisperConfig configures the OpenAI Whisper batch adapter.
type WhisperConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AssemblyConfig configures the AssemblyAI batch adapter.
type AssemblyConfig struct {
	APIKey string `yaml:"api_key"`
}

// RouteConfig maps one language code to a provider. The routing list
// overrides the built-in defaults; languages absent from it fall through to
// them.
type RouteConfig struct {
	// Language is the language code, or "auto".
	Language string `yaml:"language"`

	// Provider is the provider kind: deepgram, google, whisper, assemblyai.
	Provider string `yaml:"provider"`

	// Disabled removes the entry without deleting it from the file. A
	// disabled language falls through to the defaults.
	Disabled bool `yaml:"disabled"`
}

// BatchConfig tunes the batch processing pipeline.
type BatchConfig struct {
	// ChunkSeconds is the segment length for chunk splitting. Default 45.
	ChunkSeconds int `yaml:"chunk_seconds"`

	// TickInterval is the cadence of incremental passes while a batch-mode
	// recording is open. Default 30s.
	TickInterval Duration `yaml:"tick_interval"`

	// ChunkTimeout bounds one provider call including polling. Default 5m.
	ChunkTimeout Duration `yaml:"chunk_timeout"`

	// FFmpegPath and FFprobePath override the binaries resolved from PATH.
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// RoutingDirectory converts the routing list into the directory the provider
// router consults. Disabled entries are carried through as disabled so the
// router treats them as missing.
func (c *Config) RoutingDirectory() route.StaticDirectory {
	dir := make(route.StaticDirectory, len(c.Routing))
	for _, rc := range c.Routing {
		dir[rc.Language] = route.Entry{
			Provider: asr.Kind(rc.Provider),
			Enabled:  !rc.Disabled,
		}
	}
	return dir
}
