// Package session holds the per-connection transcription session state
// machine and the registry that enforces one live session per consultation.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/remoteree/patient-note-taker-asean/internal/route"
	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

var (
	// ErrDuplicateSession means a live session already exists for the
	// consultation. The second connection is rejected, never superseded.
	ErrDuplicateSession = errors.New("session: consultation already has a live session")

	// ErrNotRecordable means the consultation's status does not admit a new
	// audio connection.
	ErrNotRecordable = errors.New("session: consultation not in a recordable state")
)

// Session is the live state of one attached audio connection.
type Session struct {
	// ID is the consultation id the session is bound to.
	ID string

	// Language is the requested language code, or asr.LanguageAuto.
	Language string

	// Route is the routing decision, fixed for the session's lifetime.
	Route route.Decision

	mu          sync.Mutex
	accumulated string
	stream      asr.StreamHandle

	// tickBusy guards against overlapping incremental passes.
	tickBusy atomic.Bool

	// stop ends the session's background goroutines; done closes when all
	// processing, including any post-disconnect batch finalization, ended.
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(id, language string, decision route.Decision) *Session {
	return &Session{
		ID:       id,
		Language: language,
		Route:    decision,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Accumulated returns the transcript text gathered so far.
func (s *Session) Accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated
}

func (s *Session) setAccumulated(text string) {
	s.mu.Lock()
	s.accumulated = text
	s.mu.Unlock()
}

// appendFinal adds a finalized streaming segment and returns the new
// accumulated text.
func (s *Session) appendFinal(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text != "" {
		if s.accumulated != "" {
			s.accumulated += " "
		}
		s.accumulated += text
	}
	return s.accumulated
}

func (s *Session) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once the session has fully finished, including background
// batch finalization after the client disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Registry tracks live sessions by consultation id. A consultation admits at
// most one live session at a time.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// add registers s, failing with ErrDuplicateSession when the consultation
// already has a live session.
func (r *Registry) add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns the live session for the consultation, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// remove drops the consultation's registry entry. Idempotent, so concurrent
// teardown paths may both call it.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
