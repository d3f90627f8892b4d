package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned while the breaker rejects calls. It matches
// ErrCircuitOpen with errors.Is.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s is recovering, please try again in %d seconds", e.Name, e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (e *OpenError) RetryAfterSeconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	// IsFailure decides which errors count towards the threshold. Errors it
	// rejects pass through without touching the breaker. Nil counts every error.
	IsFailure     func(error) bool
	OnStateChange func(name string, from State, to State)
	Logger        *zap.Logger
	Now           func() time.Time
}

type CircuitBreaker struct {
	name             string
	failureThreshold uint32
	cooldown         time.Duration
	isFailure        func(error) bool
	onStateChange    func(name string, from State, to State)
	logger           *zap.Logger
	now              func() time.Time

	mu          sync.Mutex
	state       State
	failures    uint32
	lastFailure time.Time
	openedAt    time.Time
}

type Counts struct {
	ConsecutiveFailures uint32
	LastFailure         time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
		logger:           cfg.Logger,
		now:              cfg.Now,
	}

	if cb.failureThreshold == 0 {
		cb.failureThreshold = 3
	}
	if cb.cooldown == 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.isFailure == nil {
		cb.isFailure = func(error) bool { return true }
	}
	if cb.logger == nil {
		cb.logger = zap.NewNop()
	}
	if cb.now == nil {
		cb.now = time.Now
	}

	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.currentState(now) == StateOpen {
		return &OpenError{Name: cb.name, RetryAfter: cb.openedAt.Add(cb.cooldown).Sub(now)}
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state := cb.currentState(now)

	switch {
	case err == nil:
		cb.failures = 0
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, context.Canceled):
	case cb.isFailure(err):
		cb.failures++
		cb.lastFailure = now
		if state == StateClosed && cb.failures >= cb.failureThreshold {
			cb.openedAt = now
			cb.setState(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	if cb.state == StateOpen && !now.Before(cb.openedAt.Add(cb.cooldown)) {
		cb.failures = 0
		cb.setState(StateClosed)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
		zap.Uint32("failures", cb.failures),
	)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.currentState(cb.now())
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Counts{ConsecutiveFailures: cb.failures, LastFailure: cb.lastFailure}
}
