package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of a backend circuit breaker.
type BreakerState int

const (
	// StateClosed lets every query through.
	StateClosed BreakerState = iota

	// StateOpen rejects queries until the cooldown has passed.
	StateOpen

	// StateHalfOpen lets a single trial query through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBackendUnavailable is returned by a guarded backend while its breaker
// rejects queries.
var ErrBackendUnavailable = errors.New("search backend unavailable")

const (
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 30 * time.Second
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker
	// (default: 3).
	Threshold int

	// Cooldown is how long an open breaker rejects queries before probing
	// (default: 30s).
	Cooldown time.Duration

	Logger *slog.Logger
}

// Breaker stops a failing backend from being queried again and again within
// one run. It is safe for concurrent use.
type Breaker struct {
	config BreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultBreakerThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultBreakerCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{config: cfg, now: time.Now}
}

// State returns the current state, moving an open breaker whose cooldown has
// passed to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Do runs fn unless the breaker rejects it. Context cancellation does not
// count as a backend failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrBackendUnavailable
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.success()
	case ctx.Err() != nil:
		b.release()
	default:
		b.failure()
	}
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
	}
	return true
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.config.Threshold {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// transition must be called with mu held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.config.Logger.Info("search breaker state change",
		"from", from.String(),
		"to", to.String(),
		"failures", b.failures)
}

// guardedBackend wraps a Backend with a Breaker.
type guardedBackend struct {
	Backend
	breaker *Breaker
}

// Guard wraps backend so that queries fail fast with ErrBackendUnavailable
// once it keeps failing.
func Guard(backend Backend, breaker *Breaker) Backend {
	return &guardedBackend{Backend: backend, breaker: breaker}
}

func (g *guardedBackend) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	var hits []Result
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		r, err := g.Backend.Search(ctx, query, maxResults)
		if err != nil {
			return fmt.Errorf("%s: %w", g.Backend.Name(), err)
		}
		hits = r
		return nil
	})
	return hits, err
}
