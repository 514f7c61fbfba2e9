// Package resilience protects the core from unresponsive model backends.
//
// The central type is [Breaker], a three-state circuit breaker
// (closed → open → half-open). [Guard] keeps one breaker per bus subject so
// that a dead image service does not slow down text generation: once a
// backend has timed out repeatedly its breaker opens and further requests
// fail fast until a probe succeeds.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the
// cool-down has not yet elapsed.
var ErrOpen = errors.New("resilience: backend circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards all calls.
	Closed State = iota

	// Open rejects calls immediately until the cool-down elapses.
	Open

	// HalfOpen lets a single probe call through; its outcome decides
	// whether the breaker closes or re-opens.
	HalfOpen
)

// String returns the human-readable state name.
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

// BreakerConfig tunes a [Breaker]. Zero fields get defaults.
type BreakerConfig struct {
	// Subject labels the breaker in logs (typically the bus subject).
	Subject string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// CoolDown is how long the breaker stays open before allowing a probe.
	// Default: 30 s.
	CoolDown time.Duration
}

// Breaker is a minimal three-state circuit breaker with a single-probe
// half-open phase.
type Breaker struct {
	subject   string
	threshold int
	coolDown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Breaker{
		subject:   cfg.Subject,
		threshold: cfg.Threshold,
		coolDown:  cfg.CoolDown,
	}
}

// Do runs fn when the breaker allows it. In the open state it returns
// [ErrOpen] without calling fn; after the cool-down one probe is let
// through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.coolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = false
		slog.Info("backend breaker half-open", "subject", b.subject)
		fallthrough
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	probe := b.state == HalfOpen
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probe)
	} else {
		b.pass(probe)
	}
	return err
}

// CurrentState returns the breaker state at this instant.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// fail records a failed call. Caller holds b.mu.
func (b *Breaker) fail(probe bool) {
	if probe {
		b.state = Open
		b.openedAt = time.Now()
		b.probing = false
		slog.Warn("backend breaker re-opened", "subject", b.subject)
		return
	}
	b.failures++
	if b.failures >= b.threshold && b.state == Closed {
		b.state = Open
		b.openedAt = time.Now()
		slog.Warn("backend breaker opened",
			"subject", b.subject,
			"consecutive_failures", b.failures)
	}
}

// pass records a successful call. Caller holds b.mu.
func (b *Breaker) pass(probe bool) {
	if probe {
		slog.Info("backend breaker closed", "subject", b.subject)
	}
	b.state = Closed
	b.failures = 0
	b.probing = false
}

// Guard lazily maintains one [Breaker] per subject.
type Guard struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGuard creates a Guard whose breakers share cfg (Subject is set per
// breaker).
func NewGuard(cfg BreakerConfig) *Guard {
	return &Guard{cfg: cfg, breakers: map[string]*Breaker{}}
}

// Do runs fn through the breaker for subject, creating it on first use.
// A nil Guard forwards fn unguarded, so wiring the guard stays optional.
func (g *Guard) Do(subject string, fn func() error) error {
	if g == nil {
		return fn()
	}
	g.mu.Lock()
	b, ok := g.breakers[subject]
	if !ok {
		cfg := g.cfg
		cfg.Subject = subject
		b = NewBreaker(cfg)
		g.breakers[subject] = b
	}
	g.mu.Unlock()
	return b.Do(fn)
}
