package config_test

import (
	"testing"

	"github.com/remoteree/patient-note-taker-asean/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Routing: []config.RouteConfig{
			{Language: "en", Provider: "deepgram"},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.RoutingChanged {
		t.Error("expected RoutingChanged=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if len(d.RouteChanges) != 0 {
		t.Errorf("expected 0 route changes, got %d", len(d.RouteChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_RouteProviderChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Routing: []config.RouteConfig{{Language: "en", Provider: "deepgram"}},
	}
	new := &config.Config{
		Routing: []config.RouteConfig{{Language: "en", Provider: "whisper"}},
	}

	d := config.Diff(old, new)
	if !d.RoutingChanged {
		t.Fatal("expected RoutingChanged=true")
	}
	if len(d.RouteChanges) != 1 {
		t.Fatalf("expected 1 route change, got %d", len(d.RouteChanges))
	}
	rc := d.RouteChanges[0]
	if rc.Language != "en" || !rc.Changed || rc.Added || rc.Removed {
		t.Errorf("unexpected route diff: %+v", rc)
	}
}

func TestDiff_RouteDisabledCountsAsChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Routing: []config.RouteConfig{{Language: "th", Provider: "whisper"}},
	}
	new := &config.Config{
		Routing: []config.RouteConfig{{Language: "th", Provider: "whisper", Disabled: true}},
	}

	d := config.Diff(old, new)
	if !d.RoutingChanged {
		t.Fatal("expected RoutingChanged=true")
	}
	if len(d.RouteChanges) != 1 || !d.RouteChanges[0].Changed {
		t.Errorf("unexpected route changes: %+v", d.RouteChanges)
	}
}

func TestDiff_RouteAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Routing: []config.RouteConfig{{Language: "en", Provider: "deepgram"}},
	}
	new := &config.Config{
		Routing: []config.RouteConfig{
			{Language: "en", Provider: "deepgram"},
			{Language: "vi", Provider: "whisper"},
		},
	}

	d := config.Diff(old, new)
	if !d.RoutingChanged {
		t.Fatal("expected RoutingChanged=true")
	}
	if len(d.RouteChanges) != 1 {
		t.Fatalf("expected 1 route change, got %d", len(d.RouteChanges))
	}
	rc := d.RouteChanges[0]
	if rc.Language != "vi" || !rc.Added {
		t.Errorf("unexpected route diff: %+v", rc)
	}
}

func TestDiff_RouteRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Routing: []config.RouteConfig{
			{Language: "en", Provider: "deepgram"},
			{Language: "ms", Provider: "whisper"},
		},
	}
	new := &config.Config{
		Routing: []config.RouteConfig{{Language: "en", Provider: "deepgram"}},
	}

	d := config.Diff(old, new)
	if !d.RoutingChanged {
		t.Fatal("expected RoutingChanged=true")
	}
	if len(d.RouteChanges) != 1 {
		t.Fatalf("expected 1 route change, got %d", len(d.RouteChanges))
	}
	rc := d.RouteChanges[0]
	if rc.Language != "ms" || !rc.Removed {
		t.Errorf("unexpected route diff: %+v", rc)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Routing: []config.RouteConfig{
			{Language: "en", Provider: "deepgram"},
			{Language: "th", Provider: "whisper"},
		},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Routing: []config.RouteConfig{
			{Language: "en", Provider: "google"},
			{Language: "id", Provider: "whisper"},
		},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff: %+v", d)
	}
	if !d.RoutingChanged {
		t.Fatal("expected RoutingChanged=true")
	}
	if len(d.RouteChanges) != 3 {
		t.Fatalf("expected 3 route changes, got %d: %+v", len(d.RouteChanges), d.RouteChanges)
	}

	byLang := make(map[string]config.RouteDiff, len(d.RouteChanges))
	for _, rc := range d.RouteChanges {
		byLang[rc.Language] = rc
	}
	if !byLang["en"].Changed {
		t.Errorf("en should be changed: %+v", byLang["en"])
	}
	if !byLang["th"].Removed {
		t.Errorf("th should be removed: %+v", byLang["th"])
	}
	if !byLang["id"].Added {
		t.Errorf("id should be added: %+v", byLang["id"])
	}
}
