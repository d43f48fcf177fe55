// Package resilience provides the circuit breaker guarding external ASR
// vendor calls.
//
// A sequential batch job calls its vendor once per chunk with a bounded wait
// per call. When the vendor is down outright, paying that full wait on every
// remaining chunk turns one outage into minutes of stalled progress; the
// breaker trips after a run of consecutive failures and fails the remaining
// calls immediately, which the batch pipeline treats as ordinary transient
// chunk failures. A classic three-state breaker (closed → open → half-open)
// is enough here — there is exactly one caller per breaker and no fallback
// vendor to fail over to.
//
// All methods are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker is open and the cooldown has not
// yet elapsed. Satisfies errors.Is against itself only; callers classify it
// as transient.
var ErrOpen = errors.New("resilience: breaker is open")

// State is the breaker's operating mode.
type State int

const (
	// Closed forwards all calls.
	Closed State = iota

	// Open rejects calls until the cooldown elapses.
	Open

	// HalfOpen lets a limited number of probe calls through to test whether
	// the vendor recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker. Zero values get defaults suited to batch
// vendor calls.
type BreakerConfig struct {
	// Name labels the breaker in logs, typically the vendor kind.
	Name string

	// Threshold is the consecutive-failure count that opens the breaker.
	// Default 3 — with a bounded wait per chunk, three dead calls already
	// cost real wall-clock time.
	Threshold int

	// Cooldown is how long the breaker stays open before probing again.
	// Default 60s.
	Cooldown time.Duration

	// Probes is how many consecutive half-open successes close the breaker.
	// Default 2.
	Probes int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a Breaker from cfg, applying defaults for zero fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
	}
}

// Do runs fn unless the breaker is open. A non-nil error from fn counts
// toward opening the breaker; callers that do not want a benign failure to
// count (for example audio below the vendor's minimum length) must absorb it
// inside fn.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

// allow reports whether a call may proceed, handling the open→half-open
// transition when the cooldown has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = HalfOpen
		b.successes = 0
		slog.Info("breaker probing vendor again", "name", b.name)
		return true
	case HalfOpen:
		// One probe at a time is plenty for a sequential pipeline; additional
		// concurrent callers wait out the probe.
		return b.successes < b.probes
	}
	return false
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ok {
		b.failures++
		b.successes = 0
		if b.state == HalfOpen || (b.state == Closed && b.failures >= b.threshold) {
			b.state = Open
			b.openedAt = time.Now()
			slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
		}
		return
	}

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.probes {
			b.state = Closed
			b.failures = 0
			slog.Info("breaker closed after successful probes", "name", b.name)
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
