// Command notetaker is the transcription session and batch processing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/remoteree/patient-note-taker-asean/internal/batch"
	"github.com/remoteree/patient-note-taker-asean/internal/config"
	"github.com/remoteree/patient-note-taker-asean/internal/health"
	"github.com/remoteree/patient-note-taker-asean/internal/observe"
	"github.com/remoteree/patient-note-taker-asean/internal/resilience"
	"github.com/remoteree/patient-note-taker-asean/internal/route"
	"github.com/remoteree/patient-note-taker-asean/internal/server"
	"github.com/remoteree/patient-note-taker-asean/internal/session"
	"github.com/remoteree/patient-note-taker-asean/internal/transcript"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr/assembly"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr/deepgram"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr/gspeech"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr/whisperapi"
	"github.com/remoteree/patient-note-taker-asean/pkg/audio/split"
	"github.com/remoteree/patient-note-taker-asean/pkg/audio/wav"
	"github.com/remoteree/patient-note-taker-asean/pkg/store"
	"github.com/remoteree/patient-note-taker-asean/pkg/store/memstore"
	"github.com/remoteree/patient-note-taker-asean/pkg/store/postgres"
)

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "notetaker: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "notetaker: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it live.
	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("notetaker starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "notetaker"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Consultation store ────────────────────────────────────────────────────
	var (
		st       store.Store
		checkers []health.Checker
	)
	if cfg.Store.PostgresDSN != "" {
		pg, err := postgres.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		st = pg
		checkers = append(checkers, health.StoreChecker(pg))
		slog.Info("connected to postgres")
	} else {
		slog.Warn("no postgres dsn configured, consultations live in memory only")
		st = memstore.New()
	}

	// ── Recording directory + container builder ───────────────────────────────
	recordingDir := cfg.Server.RecordingDir
	if recordingDir == "" {
		recordingDir = "recordings"
	}
	if err := os.MkdirAll(recordingDir, 0o755); err != nil {
		slog.Error("failed to create recording directory", "dir", recordingDir, "err", err)
		return 1
	}
	checkers = append(checkers, health.RecordingDirChecker(recordingDir))

	builder, err := wav.NewBuilder(recordingDir)
	if err != nil {
		slog.Error("failed to initialise container builder", "err", err)
		return 1
	}

	// ── ASR adapters ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinAdapters(reg)

	streaming, err := buildStreamingAdapters(cfg, reg)
	if err != nil {
		slog.Error("failed to build streaming adapters", "err", err)
		return 1
	}

	hub := server.NewHub()
	guard := transcript.NewGuard(st)

	splitter, err := newSplitter(cfg, recordingDir)
	if err != nil {
		slog.Error("failed to initialise chunk splitter", "err", err)
		return 1
	}

	pipelines, err := buildPipelines(cfg, reg, splitter, guard, st, hub)
	if err != nil {
		slog.Error("failed to build batch pipelines", "err", err)
		return 1
	}

	printStartupSummary(cfg, streaming, pipelines)

	// ── Routing + session controller ──────────────────────────────────────────
	directory := route.NewDynamicDirectory(cfg.RoutingDirectory())
	registry := session.NewRegistry()

	controller := session.NewController(session.Config{
		Router:       route.New(directory),
		Registry:     registry,
		Builder:      builder,
		Store:        st,
		Guard:        guard,
		Notifier:     hub,
		Streaming:    streaming,
		Pipelines:    pipelines,
		TickInterval: cfg.Batch.TickInterval.Std(),
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.RoutingChanged {
			directory.Swap(new.RoutingDirectory())
			slog.Info("routing table updated", "changed_languages", len(d.RouteChanges))
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Config{
		ListenAddr:  listenAddr,
		TLSCertFile: tlsCert(cfg),
		TLSKeyFile:  tlsKey(cfg),
		Controller:  controller,
		Registry:    registry,
		Hub:         hub,
		Verifier:    server.NewTokenVerifier(cfg.Server.JWTSecret),
		Store:       st,
		Health:      health.New(checkers...),
		Metrics:     observe.DefaultMetrics(),
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Adapter wiring ────────────────────────────────────────────────────────────

// registerBuiltinAdapters wires the vendor adapter factories into reg.
func registerBuiltinAdapters(reg *config.Registry) {
	reg.RegisterStreaming(asr.KindDeepgram, func(pc *config.ProvidersConfig) (asr.StreamingProvider, error) {
		var opts []deepgram.Option
		if pc.Deepgram.Model != "" {
			opts = append(opts, deepgram.WithModel(pc.Deepgram.Model))
		}
		return deepgram.New(pc.Deepgram.APIKey, opts...)
	})

	reg.RegisterStreaming(asr.KindGoogle, func(pc *config.ProvidersConfig) (asr.StreamingProvider, error) {
		return gspeech.New(gspeech.Config{
			ProjectID:       pc.Google.ProjectID,
			CredentialsJSON: pc.Google.CredentialsJSON,
			Location:        pc.Google.Location,
			Model:           pc.Google.Model,
		})
	})

	reg.RegisterBatch(asr.KindWhisper, func(pc *config.ProvidersConfig) (asr.BatchProvider, error) {
		var opts []whisperapi.Option
		if pc.Whisper.Model != "" {
			opts = append(opts, whisperapi.WithModel(pc.Whisper.Model))
		}
		if pc.Whisper.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(pc.Whisper.BaseURL))
		}
		return whisperapi.New(pc.Whisper.APIKey, opts...)
	})

	reg.RegisterBatch(asr.KindAssembly, func(pc *config.ProvidersConfig) (asr.BatchProvider, error) {
		return assembly.New(pc.AssemblyAI.APIKey)
	})
}

// buildStreamingAdapters constructs a streaming adapter for every vendor with
// credentials configured. Vendors without credentials are simply absent;
// routing to them fails at session start with a specific error.
func buildStreamingAdapters(cfg *config.Config, reg *config.Registry) (map[asr.Kind]asr.StreamingProvider, error) {
	out := make(map[asr.Kind]asr.StreamingProvider)

	if cfg.Providers.Deepgram.APIKey != "" {
		p, err := reg.CreateStreaming(asr.KindDeepgram, &cfg.Providers)
		if err != nil {
			return nil, fmt.Errorf("create deepgram adapter: %w", err)
		}
		out[asr.KindDeepgram] = p
		slog.Info("adapter created", "provider", asr.KindDeepgram, "capability", "streaming")
	}
	if cfg.Providers.Google.ProjectID != "" {
		p, err := reg.CreateStreaming(asr.KindGoogle, &cfg.Providers)
		if err != nil {
			return nil, fmt.Errorf("create google speech adapter: %w", err)
		}
		out[asr.KindGoogle] = p
		slog.Info("adapter created", "provider", asr.KindGoogle, "capability", "streaming")
	}
	return out, nil
}

// newSplitter builds the ffmpeg-backed chunk splitter working under a
// dedicated subdirectory of the recording dir.
func newSplitter(cfg *config.Config, recordingDir string) (*split.Splitter, error) {
	workDir := filepath.Join(recordingDir, "chunks")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}

	var opts []split.Option
	if cfg.Batch.ChunkSeconds > 0 {
		opts = append(opts, split.WithChunkSeconds(cfg.Batch.ChunkSeconds))
	}
	if cfg.Batch.FFmpegPath != "" {
		opts = append(opts, split.WithFFmpegPath(cfg.Batch.FFmpegPath))
	}
	if cfg.Batch.FFprobePath != "" {
		opts = append(opts, split.WithFFprobePath(cfg.Batch.FFprobePath))
	}
	return split.New(workDir, opts...), nil
}

// buildPipelines constructs one batch pipeline per configured batch vendor,
// each behind its own circuit breaker.
func buildPipelines(
	cfg *config.Config,
	reg *config.Registry,
	splitter *split.Splitter,
	guard *transcript.Guard,
	st store.Store,
	hub *server.Hub,
) (map[asr.Kind]*batch.Pipeline, error) {
	out := make(map[asr.Kind]*batch.Pipeline)

	build := func(kind asr.Kind) error {
		p, err := reg.CreateBatch(kind, &cfg.Providers)
		if err != nil {
			return fmt.Errorf("create %s adapter: %w", kind, err)
		}
		out[kind] = batch.New(batch.Config{
			Splitter:     splitter,
			Provider:     p,
			Guard:        guard,
			Store:        st,
			Notifier:     hub,
			Breaker:      resilience.NewBreaker(resilience.BreakerConfig{Name: string(kind)}),
			ChunkTimeout: cfg.Batch.ChunkTimeout.Std(),
		})
		slog.Info("adapter created", "provider", kind, "capability", "batch")
		return nil
	}

	if cfg.Providers.Whisper.APIKey != "" {
		if err := build(asr.KindWhisper); err != nil {
			return nil, err
		}
	}
	if cfg.Providers.AssemblyAI.APIKey != "" {
		if err := build(asr.KindAssembly); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, streaming map[asr.Kind]asr.StreamingProvider, pipelines map[asr.Kind]*batch.Pipeline) {
	adapters := make([]string, 0, len(streaming)+len(pipelines))
	for kind := range streaming {
		adapters = append(adapters, string(kind)+"/streaming")
	}
	for kind := range pipelines {
		adapters = append(adapters, string(kind)+"/batch")
	}

	storeKind := "in-memory"
	if cfg.Store.PostgresDSN != "" {
		storeKind = "postgres"
	}

	slog.Info("startup summary",
		"adapters", adapters,
		"store", storeKind,
		"routing_overrides", len(cfg.Routing),
		"tls", cfg.Server.TLS != nil,
	)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func tlsCert(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.CertFile
}

func tlsKey(cfg *config.Config) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return cfg.Server.TLS.KeyFile
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
