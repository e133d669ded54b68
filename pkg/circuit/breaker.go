package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int32

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
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Breaker guards calls to an external collaborator. After MaxFailures
// consecutive failures it rejects calls until Timeout has elapsed, then lets
// HalfOpenMax probe calls through.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	halfOpenMax int
	isFailure   func(error) bool
	now         func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	inFlight      int
	openedAt      time.Time
	onStateChange func(name string, from, to State)
}

// Config holds circuit breaker configuration
type Config struct {
	Name        string
	MaxFailures int
	Timeout     time.Duration
	HalfOpenMax int
	// IsFailure decides which errors count against the breaker. Business
	// rejections (insufficient balance, blocked payee) should not trip it.
	// Defaults to every non-nil error.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		timeout:       cfg.Timeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		now:           cfg.Now,
		state:         StateClosed,
		onStateChange: cfg.OnStateChange,
	}
}

// Execute runs fn with circuit breaker protection. The error returned by fn
// is passed through unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allowRequest(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return ErrCircuitOpen
		}
		b.transitionTo(StateHalfOpen)
		b.inFlight = 1
		return nil
	case StateHalfOpen:
		if b.inFlight >= b.halfOpenMax {
			return ErrTooManyRequests
		}
		b.inFlight++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && b.isFailure(err)

	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.maxFailures {
			b.open()
		}
	case StateHalfOpen:
		b.inFlight--
		if failed {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.halfOpenMax {
			b.transitionTo(StateClosed)
		}
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState
	b.failures = 0
	b.successes = 0
	b.inFlight = 0

	if b.onStateChange != nil {
		b.onStateChange(b.name, oldState, newState)
	}
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns current failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset resets the circuit breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.failures = 0
}

// ForceOpen forces the circuit breaker to open state
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open()
}
