package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the circuit breaker's position.
type BreakerState int

const (
	// StateClosed lets requests through.
	StateClosed BreakerState = iota
	// StateOpen rejects requests until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets a single trial call through to test recovery.
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

// ErrBreakerOpen is returned for calls rejected while the circuit is
// open.
var ErrBreakerOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when the circuit opens and recovers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a trial
	// call is allowed.
	ResetTimeout time.Duration

	// OnStateChange observes transitions.
	OnStateChange func(from, to BreakerState)
}

// BreakerConfigFrom builds a BreakerConfig from the two knobs the
// config file exposes, filling the rest with defaults.
func BreakerConfigFrom(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Breaker is a circuit breaker for one upstream endpoint. A successful
// half-open trial call closes the circuit; a failed one reopens it.
type Breaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time

	now func() time.Time
}

// NewBreaker builds a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Guard runs fn through the breaker, returning ErrBreakerOpen without
// calling fn while the circuit is open.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State reports the breaker's position, accounting for an elapsed
// reset timeout.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrBreakerOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
