// Package breaker implements a circuit breaker: three states (closed,
// open, half-open), a failure threshold that trips the breaker, and a
// cooldown after which a single trial call decides whether to close
// again. Its one user in this tree is the cache's Redis L2 tier; the
// durable store and the pub/sub bus call their backends without a
// breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute without invoking op when the breaker is
// open and the cooldown has not yet elapsed.
var ErrOpen = errors.New("breaker: circuit open")

// Config tunes the breaker's trip and recovery behavior.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping
	Cooldown         time.Duration // time in Open before a trial is allowed
	HalfOpenMax      int           // concurrent trial calls allowed while half-open
}

// DefaultConfig is the configuration the cache uses for its Redis
// breaker: five consecutive failures trip it, then a 30s cooldown
// before the next trial.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenMax: 1}
}

// Breaker wraps calls to a possibly-failing dependency.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenInUse   int

	onStateChange func(from, to State)
}

// New creates a Breaker with the given config. A zero-value Config falls
// back to DefaultConfig.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// OnStateChange registers a callback invoked whenever the breaker
// transitions states; used to emit metrics and log lines.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateOpen {
		b.openedAt = time.Now()
	}
	cb := b.onStateChange
	if cb != nil {
		go cb(from, to)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow reports whether a call may proceed, and whether it is a
// half-open trial (which must report its outcome precisely).
func (b *Breaker) allow() (ok bool, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			b.halfOpenInUse = 1
			return true, true
		}
		return false, false
	case StateHalfOpen:
		if b.halfOpenInUse < b.cfg.HalfOpenMax {
			b.halfOpenInUse++
			return true, true
		}
		return false, false
	default:
		return false, false
	}
}

func (b *Breaker) report(trial, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.halfOpenInUse--
	}

	if success {
		b.consecutiveFail = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.consecutiveFail++
	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		return
	}
	if b.state == StateClosed && b.consecutiveFail >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
	}
}

// Execute runs op if the breaker currently allows it. If the breaker is
// open and no trial slot is available, fallback runs instead (fallback
// may be nil, in which case ErrOpen is returned directly).
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context) error) error {
	allowed, trial := b.allow()
	if !allowed {
		if fallback != nil {
			return fallback(ctx)
		}
		return ErrOpen
	}

	err := op(ctx)
	b.report(trial, err == nil)
	return err
}
