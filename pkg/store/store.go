// Package store defines the narrow persistence interface the transcription
// engine uses to read and write a consultation's transcript, status, and
// per-chunk progress fields.
//
// Consultation CRUD, search, and ownership live in an external collaborator;
// this package only carries the fields the engine itself mutates. Two
// implementations exist: postgres (production) and memstore (tests, local
// development without a database).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no consultation exists for the given id.
var ErrNotFound = errors.New("store: consultation not found")

// Status is the consultation lifecycle state as seen by the engine.
type Status string

const (
	// StatusScheduled means the consultation exists but recording has not
	// started. Recordable.
	StatusScheduled Status = "scheduled"

	// StatusRecording means an audio connection is (or was) attached.
	// Recordable, so a dropped client may reconnect.
	StatusRecording Status = "recording"

	// StatusProcessing means the final batch pipeline is running.
	StatusProcessing Status = "processing"

	// StatusCompleted means transcription finished over every chunk.
	StatusCompleted Status = "completed"

	// StatusPartial means transcription stopped early (quota) but a partial
	// transcript was preserved.
	StatusPartial Status = "partially_completed"

	// StatusFailed means transcription produced an error and no further
	// processing will happen. The consultation record itself is kept;
	// deleting it is a lifecycle decision outside this engine.
	StatusFailed Status = "failed"
)

// Recordable reports whether a new audio connection may attach in this state.
func (s Status) Recordable() bool {
	return s == StatusScheduled || s == StatusRecording
}

// Consultation is the engine's view of one consultation record.
type Consultation struct {
	ID               string
	Language         string
	Status           Status
	Transcript       string
	DetectedLanguage string
	ProcessedChunks  int
	TotalChunks      int
	HasSummary       bool
	UpdatedAt        time.Time
}

// Store is the session store contract. Implementations must be safe for
// concurrent use; different sessions write to different rows, and the
// persistence guard serialises nothing — it relies on transcript writes
// being longest-wins at the caller level.
type Store interface {
	// Get loads the consultation record. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (Consultation, error)

	// SetStatus updates the lifecycle status.
	SetStatus(ctx context.Context, id string, status Status) error

	// Transcript returns the currently persisted transcript text.
	Transcript(ctx context.Context, id string) (string, error)

	// SetTranscript overwrites the persisted transcript. Callers must apply
	// the monotonic-growth rule before calling; see the transcript package.
	SetTranscript(ctx context.Context, id string, text string) error

	// SetProgress records per-chunk batch progress for the consultation.
	SetProgress(ctx context.Context, id string, processed, total int) error

	// SetDetectedLanguage records the vendor-detected language. Written at
	// most once per consultation by the engine.
	SetDetectedLanguage(ctx context.Context, id string, language string) error

	// SetHasSummary marks that a summary was generated for the consultation.
	SetHasSummary(ctx context.Context, id string, has bool) error
}
