// Package route decides, once per session, which ASR capability and vendor a
// session uses based on its language code.
//
// The language-to-provider directory is owned by an external admin
// collaborator and consumed read-only here. The directory lookup is
// authoritative; DefaultRoutes is the one hard-coded fallback table, used only
// when the directory has no usable entry for a language. Keeping the decision
// in this single package means adding a vendor touches one adapter and one
// table, not call sites.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

// Mode selects the session's transcription path, fixed for the session's
// whole duration.
type Mode string

const (
	// ModeRealtime streams audio to a live vendor connection.
	ModeRealtime Mode = "realtime"

	// ModeBatch records locally and submits snapshots and chunks as discrete
	// jobs.
	ModeBatch Mode = "batch"
)

// ErrNoProvider means neither the directory nor the default table yields a
// usable provider for the language. Fatal to session establishment.
var ErrNoProvider = errors.New("route: no usable provider for language")

// Entry is one language-to-provider directory record.
type Entry struct {
	// Provider is the adapter that handles this language.
	Provider asr.Kind

	// Enabled gates the entry; a disabled entry behaves as missing.
	Enabled bool
}

// Directory looks up the externally managed language-to-provider mapping.
type Directory interface {
	// Lookup returns the entry for language and whether one exists.
	Lookup(ctx context.Context, language string) (Entry, bool, error)
}

// StaticDirectory is a Directory backed by a fixed map, typically built from
// configuration at startup.
type StaticDirectory map[string]Entry

func (d StaticDirectory) Lookup(_ context.Context, language string) (Entry, bool, error) {
	e, ok := d[language]
	return e, ok, nil
}

// streamingCapable records which adapters expose the live streaming
// capability. Everything else is reached through the batch path.
var streamingCapable = map[asr.Kind]bool{
	asr.KindDeepgram: true,
	asr.KindGoogle:   true,
}

// DefaultRoutes is the documented last-resort mapping applied when the
// directory has no usable entry. English and auto-detect go to the streaming
// vendor; the Southeast Asian launch languages go through batch Whisper,
// which handles them with better accuracy than the streaming vendors.
var DefaultRoutes = map[string]Entry{
	asr.LanguageAuto: {Provider: asr.KindWhisper, Enabled: true},
	"en":             {Provider: asr.KindDeepgram, Enabled: true},
	"th":             {Provider: asr.KindWhisper, Enabled: true},
	"vi":             {Provider: asr.KindWhisper, Enabled: true},
	"id":             {Provider: asr.KindWhisper, Enabled: true},
	"ms":             {Provider: asr.KindWhisper, Enabled: true},
	"tl":             {Provider: asr.KindWhisper, Enabled: true},
}

// defaultFallback covers languages absent from every table. Whisper accepts
// arbitrary language hints, so routing there never strands a session.
var defaultFallback = Entry{Provider: asr.KindWhisper, Enabled: true}

// Decision is the fixed routing outcome for one session.
type Decision struct {
	Mode     Mode
	Provider asr.Kind
}

// Router resolves languages to routing decisions.
type Router struct {
	dir Directory
}

// New creates a Router consulting dir. dir may be nil, in which case only the
// default table applies.
func New(dir Directory) *Router {
	return &Router{dir: dir}
}

// Select resolves the routing decision for language. The directory entry
// wins when present and enabled; otherwise the default table, then the
// universal fallback. Streaming-capable providers yield ModeRealtime.
func (r *Router) Select(ctx context.Context, language string) (Decision, error) {
	entry, ok, err := r.lookup(ctx, language)
	if err != nil {
		return Decision{}, fmt.Errorf("route: directory lookup for %q: %w", language, err)
	}
	if !ok {
		slog.Debug("no directory entry for language, using default route", "language", language)
		entry, ok = DefaultRoutes[language]
		if !ok {
			entry = defaultFallback
		}
	}

	if !entry.Provider.IsValid() {
		return Decision{}, fmt.Errorf("%w: %q resolves to unknown provider %q", ErrNoProvider, language, entry.Provider)
	}

	mode := ModeBatch
	if streamingCapable[entry.Provider] {
		mode = ModeRealtime
	}
	return Decision{Mode: mode, Provider: entry.Provider}, nil
}

// lookup consults the directory, treating disabled entries as missing.
func (r *Router) lookup(ctx context.Context, language string) (Entry, bool, error) {
	if r.dir == nil {
		return Entry{}, false, nil
	}
	entry, ok, err := r.dir.Lookup(ctx, language)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok || !entry.Enabled {
		return Entry{}, false, nil
	}
	return entry, true, nil
}
