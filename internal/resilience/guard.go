package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/retry"
)

type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	// Transient selects the failures that are retried and counted by the
	// breaker. Everything else is returned to the caller untouched.
	Transient func(error) bool
	Logger    *zap.Logger
	Now       func() time.Time
}

// Guard pairs one shared circuit breaker with a retry policy. A single
// Guard is meant to be shared by every caller of the protected dependency.
type Guard struct {
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewGuard(name string, cfg Config) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	cb := circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		IsFailure:        cfg.Transient,
		Logger:           cfg.Logger,
		Now:              cfg.Now,
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	})

	retryConfig := retry.Config{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     10 * cfg.RetryDelay,
		Multiplier:   2.0,
		Retryable:    cfg.Transient,
		Logger:       cfg.Logger,
	}
	if retryConfig.MaxAttempts <= 0 {
		retryConfig.MaxAttempts = 1
	}
	if retryConfig.InitialDelay <= 0 {
		retryConfig.InitialDelay = time.Second
		retryConfig.MaxDelay = 10 * time.Second
	}

	metrics.CircuitState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))

	return &Guard{cb: cb, retryConfig: retryConfig}
}

func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.cb.Execute(ctx, func() error {
		return retry.Do(ctx, g.retryConfig, func() error {
			return fn(ctx)
		})
	})
}

func (g *Guard) State() circuitbreaker.State {
	return g.cb.State()
}

func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := g.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
