// Package memstore is an in-memory store.Store implementation for tests and
// for running the service locally without PostgreSQL.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/remoteree/patient-note-taker-asean/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store holds consultation records in a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	byID map[string]store.Consultation
}

// New creates an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]store.Consultation)}
}

// Put inserts or replaces a consultation record. Test seeding helper; the
// engine itself never creates consultations.
func (s *Store) Put(c store.Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	s.byID[c.ID] = c
}

func (s *Store) Get(_ context.Context, id string) (store.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return store.Consultation{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return c, nil
}

func (s *Store) SetStatus(_ context.Context, id string, status store.Status) error {
	return s.update(id, func(c *store.Consultation) { c.Status = status })
}

func (s *Store) Transcript(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return c.Transcript, nil
}

func (s *Store) SetTranscript(_ context.Context, id string, text string) error {
	return s.update(id, func(c *store.Consultation) { c.Transcript = text })
}

func (s *Store) SetProgress(_ context.Context, id string, processed, total int) error {
	return s.update(id, func(c *store.Consultation) {
		c.ProcessedChunks = processed
		c.TotalChunks = total
	})
}

func (s *Store) SetDetectedLanguage(_ context.Context, id string, language string) error {
	return s.update(id, func(c *store.Consultation) { c.DetectedLanguage = language })
}

func (s *Store) SetHasSummary(_ context.Context, id string, has bool) error {
	return s.update(id, func(c *store.Consultation) { c.HasSummary = has })
}

func (s *Store) update(id string, fn func(*store.Consultation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	s.byID[id] = c
	return nil
}
