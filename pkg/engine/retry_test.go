package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func newTestExecutor(sleeper *recordingSleeper) *RetryExecutor {
	return NewRetryExecutor(WithSleeper(sleeper.Sleep))
}

func throttled() error {
	return NewTransientError("throttled", "", "", TransientDetail{})
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	got, err := Execute(context.Background(), newTestExecutor(sleeper), DefaultRetryPolicy("deploy"),
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.Delays())
}

func TestExecute_TransientThenSuccess(t *testing.T) {
	for k := 1; k < 4; k++ {
		sleeper := &recordingSleeper{}
		calls := 0
		policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, ActivityLabel: "deploy"}

		got, err := Execute(context.Background(), newTestExecutor(sleeper), policy,
			func(ctx context.Context) (int, error) {
				calls++
				if calls <= k {
					return 0, throttled()
				}
				return calls, nil
			})

		require.NoError(t, err)
		assert.Equal(t, k+1, got)
		assert.Equal(t, k+1, calls)
		assert.Len(t, sleeper.Delays(), k)
	}
}

func TestExecute_AlwaysTransientExhausts(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, ActivityLabel: "deploy"}

	_, err := Execute(context.Background(), newTestExecutor(sleeper), policy,
		func(ctx context.Context) (struct{}, error) {
			calls++
			return struct{}{}, throttled()
		})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())

	perr, ok := AsProvisioningError(err)
	require.True(t, ok)
	assert.Equal(t, CategoryTransient, perr.Category)
	detail, ok := perr.Detail.(TransientDetail)
	require.True(t, ok)
	assert.Equal(t, 3, detail.AttemptCount)
}

func TestExecute_FatalFirstDoesNotRetry(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	_, err := Execute(context.Background(), newTestExecutor(sleeper), DefaultRetryPolicy("deploy"),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, NewAuthorizationError("denied", ResourceTypeKeyVault, "kv-app-dev", AuthorizationDetail{})
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.Delays())
	assert.True(t, IsAuthorization(err))
}

func TestExecute_UnknownErrorNormalized(t *testing.T) {
	sleeper := &recordingSleeper{}
	raw := errors.New("boom")

	_, err := Execute(context.Background(), newTestExecutor(sleeper), DefaultRetryPolicy("deploy"),
		func(ctx context.Context) (int, error) {
			return 0, raw
		})

	perr, ok := AsProvisioningError(err)
	require.True(t, ok)
	assert.Equal(t, CategoryProvisioningFailed, perr.Category)
	assert.Equal(t, ErrCodeUnknown, perr.Code)
	assert.ErrorIs(t, err, raw)
	assert.Empty(t, sleeper.Delays())
}

func TestExecute_ProviderStatusRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, ActivityLabel: "deploy"}

	_, err := Execute(context.Background(), newTestExecutor(sleeper), policy,
		func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, &StatusError{StatusCode: 503, Message: "unavailable"}
			}
			return 1, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
}

func TestExecute_RetriesFailureWithTransientCause(t *testing.T) {
	tests := map[string]error{
		"taxonomy cause":   NewTransientError("busy", "", "", TransientDetail{}),
		"raw status cause": &StatusError{StatusCode: 429, Message: "throttled"},
	}
	for name, cause := range tests {
		t.Run(name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			calls := 0
			policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, ActivityLabel: "deploy"}

			_, err := Execute(context.Background(), newTestExecutor(sleeper), policy,
				func(ctx context.Context) (int, error) {
					calls++
					return 0, NewProvisioningFailedError("deployment failed", "", "", ProvisioningFailedDetail{}).WithCause(cause)
				})

			require.Error(t, err)
			assert.True(t, IsRetryable(err))
			assert.Equal(t, 3, calls)
			assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
			assert.Equal(t, CategoryProvisioningFailed, CategoryOf(err))
		})
	}
}

func TestExecute_CustomClassifier(t *testing.T) {
	errLeaseHeld := errors.New("lease held by another writer")
	classifier := NewClassifier(func(err error) (Classification, bool) {
		if errors.Is(err, errLeaseHeld) {
			return Classification{Transient: true, Code: "LeaseHeld"}, true
		}
		return Classification{}, false
	})

	sleeper := &recordingSleeper{}
	executor := NewRetryExecutor(WithSleeper(sleeper.Sleep), WithClassifier(classifier))
	assert.Same(t, classifier, executor.Classifier())

	calls := 0
	got, err := Execute(context.Background(), executor, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, ActivityLabel: "deploy"},
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errLeaseHeld
			}
			return calls, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Len(t, sleeper.Delays(), 2)

	// The default classifier treats the same error as fatal.
	calls = 0
	_, err = Execute(context.Background(), newTestExecutor(&recordingSleeper{}), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, ActivityLabel: "deploy"},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errLeaseHeld
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetryAfterHintIsHonoured(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, ActivityLabel: "deploy"}

	_, err := Execute(context.Background(), newTestExecutor(sleeper), policy,
		func(ctx context.Context) (int, error) {
			calls++
			switch calls {
			case 1:
				return 0, &StatusError{StatusCode: 429, RetryAfter: 5 * time.Second}
			case 2, 3:
				return 0, &StatusError{StatusCode: 429}
			}
			return calls, nil
		})

	require.NoError(t, err)
	// the hint lifts the first delay; later delays never fall below it
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, sleeper.Delays())
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	exec := NewRetryExecutor(WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := Execute(ctx, exec, DefaultRetryPolicy("deploy"), func(ctx context.Context) (int, error) {
		calls++
		return 0, throttled()
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CategoryProvisioningFailed, CategoryOf(err))
}

func TestExecute_InvalidPolicy(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), NewRetryExecutor(), RetryPolicy{MaxAttempts: 0},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, nil
		})

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Zero(t, calls)
}

func TestExecute_HookObservesRetries(t *testing.T) {
	sleeper := &recordingSleeper{}
	var attempts []int
	exec := NewRetryExecutor(
		WithSleeper(sleeper.Sleep),
		WithRetryHook(func(label string, attempt int, delay time.Duration, err *ProvisioningError) {
			assert.Equal(t, "lookup", label)
			attempts = append(attempts, attempt)
		}),
	)

	err := exec.Do(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, ActivityLabel: "lookup"},
		func(ctx context.Context) error { return throttled() })

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))

	p.MaxDelay = 3 * time.Second
	assert.Equal(t, 3*time.Second, p.Backoff(3))
	assert.Equal(t, 3*time.Second, p.Backoff(40))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
