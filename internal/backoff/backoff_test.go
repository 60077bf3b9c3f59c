package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Retryable() bool { return true }

func collectSleeps(sleeps *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	var sleeps []time.Duration
	e := NewWithClock(DefaultConfig(), collectSleeps(&sleeps), nil)

	calls := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeps)
}

func TestExecute_ExhaustsAttemptsOnPersistentTransientError(t *testing.T) {
	var sleeps []time.Duration
	// Zero jitter so the delay sequence is exact.
	cfg := DefaultConfig()
	cfg.JitterFrac = 0
	e := NewWithClock(cfg, collectSleeps(&sleeps), nil)

	calls := 0
	cause := &transientErr{msg: "503 service unavailable"}
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})
	require.ErrorIs(t, err, cause)
	require.Equal(t, 5, calls)
	// Four sleeps separate five attempts, doubling from one second.
	require.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, sleeps)
}

func TestExecute_DelayCappedAtMaxDelay(t *testing.T) {
	var sleeps []time.Duration
	cfg := Config{
		InitialDelay: 1 * time.Second,
		Multiplier:   2,
		MaxDelay:     4 * time.Second,
		MaxAttempts:  6,
		JitterFrac:   0,
	}
	e := NewWithClock(cfg, collectSleeps(&sleeps), nil)

	err := e.Execute(context.Background(), func(ctx context.Context) error {
		return &transientErr{msg: "429"}
	})
	require.Error(t, err)
	require.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second,
	}, sleeps)
}

func TestExecute_JitterSpreadsDelays(t *testing.T) {
	cfg := DefaultConfig()

	// rand() == 0 pins each delay at its lower bound (-20%).
	var low []time.Duration
	e := NewWithClock(cfg, collectSleeps(&low), func() float64 { return 0 })
	_ = e.Execute(context.Background(), func(ctx context.Context) error {
		return &transientErr{msg: "503"}
	})
	require.Equal(t, 800*time.Millisecond, low[0])

	// rand() just below 1 approaches the upper bound (+20%).
	var high []time.Duration
	e = NewWithClock(cfg, collectSleeps(&high), func() float64 { return 0.999999 })
	_ = e.Execute(context.Background(), func(ctx context.Context) error {
		return &transientErr{msg: "503"}
	})
	require.InDelta(t, float64(1200*time.Millisecond), float64(high[0]), float64(time.Millisecond))
}

func TestExecute_TerminalErrorNotRetried(t *testing.T) {
	var sleeps []time.Duration
	e := NewWithClock(DefaultConfig(), collectSleeps(&sleeps), nil)

	calls := 0
	terminal := errors.New("400 bad request")
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	})
	require.ErrorIs(t, err, terminal)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeps)
}

func TestExecute_StopsWhenContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewWithClock(DefaultConfig(), func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}, nil)

	err := e.Execute(ctx, func(ctx context.Context) error {
		return &transientErr{msg: "503"}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecute_RecoversMidSequence(t *testing.T) {
	var sleeps []time.Duration
	cfg := DefaultConfig()
	cfg.JitterFrac = 0
	e := NewWithClock(cfg, collectSleeps(&sleeps), nil)

	calls := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &transientErr{msg: "timeout"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeps)
}

func TestRun_ReturnsValue(t *testing.T) {
	e := NewWithClock(DefaultConfig(), func(ctx context.Context, d time.Duration) error { return nil }, nil)

	calls := 0
	v, err := Run(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &transientErr{msg: "502"}
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable marker", &transientErr{msg: "503"}, true},
		{"wrapped retryable marker", fmt.Errorf("call failed: %w", &transientErr{msg: "429"}), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", errors.New("404 not found"), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}
