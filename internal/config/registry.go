package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested provider kind.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider kinds to their constructor functions for each ASR
// capability. main registers the built-in adapters; tests register mocks.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	streaming map[asr.Kind]func(*ProvidersConfig) (asr.StreamingProvider, error)
	batch     map[asr.Kind]func(*ProvidersConfig) (asr.BatchProvider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		streaming: make(map[asr.Kind]func(*ProvidersConfig) (asr.StreamingProvider, error)),
		batch:     make(map[asr.Kind]func(*ProvidersConfig) (asr.BatchProvider, error)),
	}
}

// RegisterStreaming registers a streaming adapter factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterStreaming(kind asr.Kind, factory func(*ProvidersConfig) (asr.StreamingProvider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming[kind] = factory
}

// RegisterBatch registers a batch adapter factory under kind.
func (r *Registry) RegisterBatch(kind asr.Kind, factory func(*ProvidersConfig) (asr.BatchProvider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch[kind] = factory
}

// CreateStreaming instantiates the streaming adapter registered under kind.
// Returns [ErrProviderNotRegistered] when no factory exists for it.
func (r *Registry) CreateStreaming(kind asr.Kind, cfg *ProvidersConfig) (asr.StreamingProvider, error) {
	r.mu.RLock()
	factory, ok := r.streaming[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: streaming/%q", ErrProviderNotRegistered, kind)
	}
	return factory(cfg)
}

// CreateBatch instantiates the batch adapter registered under kind.
func (r *Registry) CreateBatch(kind asr.Kind, cfg *ProvidersConfig) (asr.BatchProvider, error) {
	r.mu.RLock()
	factory, ok := r.batch[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: batch/%q", ErrProviderNotRegistered, kind)
	}
	return factory(cfg)
}

// StreamingKinds returns the kinds with a registered streaming factory.
func (r *Registry) StreamingKinds() []asr.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]asr.Kind, 0, len(r.streaming))
	for k := range r.streaming {
		kinds = append(kinds, k)
	}
	return kinds
}

// BatchKinds returns the kinds with a registered batch factory.
func (r *Registry) BatchKinds() []asr.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]asr.Kind, 0, len(r.batch))
	for k := range r.batch {
		kinds = append(kinds, k)
	}
	return kinds
}
