package config

// ConfigDiff describes what changed between two configs. Only fields that can
// be safely hot-reloaded are tracked: the log level and the routing table.
// Everything else (listen address, store backend, provider credentials)
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RoutingChanged bool
	RouteChanges   []RouteDiff
}

// RouteDiff describes what changed for a single language between two configs.
type RouteDiff struct {
	Language string
	Added    bool
	Removed  bool
	Changed  bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldRoutes := make(map[string]RouteConfig, len(old.Routing))
	for _, rc := range old.Routing {
		oldRoutes[rc.Language] = rc
	}
	newRoutes := make(map[string]RouteConfig, len(new.Routing))
	for _, rc := range new.Routing {
		newRoutes[rc.Language] = rc
	}

	for _, rc := range old.Routing {
		nc, exists := newRoutes[rc.Language]
		if !exists {
			d.RouteChanges = append(d.RouteChanges, RouteDiff{Language: rc.Language, Removed: true})
			d.RoutingChanged = true
			continue
		}
		if nc != rc {
			d.RouteChanges = append(d.RouteChanges, RouteDiff{Language: rc.Language, Changed: true})
			d.RoutingChanged = true
		}
	}
	for _, rc := range new.Routing {
		if _, exists := oldRoutes[rc.Language]; !exists {
			d.RouteChanges = append(d.RouteChanges, RouteDiff{Language: rc.Language, Added: true})
			d.RoutingChanged = true
		}
	}

	return d
}
