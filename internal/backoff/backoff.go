// Package backoff wraps remote calls with an exponential retry policy:
// 1s initial delay, doubling to a 60s ceiling, five attempts, ±20% jitter.
// Only transient failures (rate limits, server errors, transport timeouts)
// are retried; client and auth errors are surfaced immediately.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// Retryable marks an error as transient. Errors implementing it (or wrapping
// one that does) are retried by Execute.
type Retryable interface {
	Retryable() bool
}

// Config holds the retry policy knobs.
type Config struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
	JitterFrac   float64
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 1 * time.Second,
		Multiplier:   2,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  5,
		JitterFrac:   0.2,
	}
}

// Executor retries an operation according to its Config. Sleep and the jitter
// source are swappable so tests can assert the delay sequence without waiting.
type Executor struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64 // uniform in [0,1)
}

// New returns an Executor with the given config and real sleeping.
func New(cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Executor{cfg: cfg, sleep: sleepWithContext, rand: rand.Float64}
}

// NewWithClock returns an Executor whose sleeping and jitter are controlled
// by the caller. Intended for tests.
func NewWithClock(cfg Config, sleep func(ctx context.Context, d time.Duration) error, randFn func() float64) *Executor {
	e := New(cfg)
	if sleep != nil {
		e.sleep = sleep
	}
	if randFn != nil {
		e.rand = randFn
	}
	return e
}

// Execute runs op, retrying transient failures until the attempt ceiling is
// reached. The last error is returned once attempts are exhausted; persisting
// that failure state is the caller's job.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	delay := e.cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == e.cfg.MaxAttempts {
			return lastErr
		}
		if err := e.sleep(ctx, e.jitter(delay)); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * e.cfg.Multiplier)
		if delay > e.cfg.MaxDelay {
			delay = e.cfg.MaxDelay
		}
	}
	return lastErr
}

// Run is a convenience wrapper for operations that return a value.
func Run[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// jitter spreads d by ±JitterFrac to avoid synchronized retry storms.
func (e *Executor) jitter(d time.Duration) time.Duration {
	if e.cfg.JitterFrac <= 0 {
		return d
	}
	span := 2 * e.cfg.JitterFrac * float64(d)
	return time.Duration(float64(d) - e.cfg.JitterFrac*float64(d) + e.rand()*span)
}

// IsRetryable reports whether err is transient: it implements Retryable, is a
// network timeout, or wraps context.DeadlineExceeded from a remote call.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
