// Package transcript carries the transcript update types shared by every
// producer, and the persistence guard that makes their writes safe to apply
// in any order.
//
// Several producers write transcripts for the same session: streaming finals,
// periodic incremental batch saves, the authoritative final pipeline pass, and
// error-path saves. Instead of coordinating them with a lock, the guard
// replaces last-writer-wins with longest-wins: a candidate is persisted only
// when it is strictly longer than what is already stored. Transcripts only
// ever grow, so the longest candidate is always the most complete one and the
// stored value can never regress, whatever the interleaving.
package transcript

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/remoteree/patient-note-taker-asean/pkg/store"
)

// Progress is the per-chunk batch progress attached to an Update.
type Progress struct {
	// Percent is processed/total × 100, rounded to the nearest integer.
	Percent int

	// Processed and Total are the raw chunk counters.
	Processed int
	Total     int
}

// NewProgress computes a Progress from raw chunk counters.
func NewProgress(processed, total int) *Progress {
	p := &Progress{Processed: processed, Total: total}
	if total > 0 {
		p.Percent = int(float64(processed)/float64(total)*100 + 0.5)
	}
	return p
}

// Update is the unit pushed to a session's listening client.
type Update struct {
	// SessionID identifies the consultation session.
	SessionID string

	// Text is the transcript content. For interim streaming updates this is
	// transient display text; for everything else it is the accumulated
	// transcript so far.
	Text string

	// IsFinal marks the authoritative end-of-processing update.
	IsFinal bool

	// Progress is the batch chunk progress, nil for streaming updates.
	Progress *Progress

	// DetectedLanguage is set once the vendor reports a detected language.
	DetectedLanguage string
}

// Notifier pushes progress and error events to whatever client is listening
// on the session, if any. Implementations must tolerate pushes after the
// listener is gone.
type Notifier interface {
	// PushUpdate delivers a transcript update. Best-effort.
	PushUpdate(u Update)

	// PushError delivers a terminal error event for the session. Best-effort.
	PushError(sessionID, message string)
}

// NopNotifier discards all events. Used when a session outlives its client.
type NopNotifier struct{}

func (NopNotifier) PushUpdate(Update) {}

func (NopNotifier) PushError(string, string) {}

// Guard enforces monotonic transcript growth on the way into the store.
type Guard struct {
	store store.Store
}

// NewGuard creates a Guard writing through s.
func NewGuard(s store.Store) *Guard {
	return &Guard{store: s}
}

// Merge persists candidate for the session only when it is strictly longer
// than the currently stored transcript (or the stored one is empty). Reports
// whether the write was applied.
func (g *Guard) Merge(ctx context.Context, sessionID, candidate string) (bool, error) {
	if candidate == "" {
		return false, nil
	}

	current, err := g.store.Transcript(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("transcript guard: load current: %w", err)
	}
	if len(candidate) <= len(current) {
		slog.Debug("transcript merge skipped",
			"session_id", sessionID,
			"candidate_len", len(candidate),
			"current_len", len(current),
		)
		return false, nil
	}

	if err := g.store.SetTranscript(ctx, sessionID, candidate); err != nil {
		return false, fmt.Errorf("transcript guard: persist: %w", err)
	}
	return true, nil
}
