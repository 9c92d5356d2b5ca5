package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// RetryHook observes each retry boundary: the attempt that failed, the delay
// before the next one, and the failure.
type RetryHook func(label string, attempt int, delay time.Duration, err *ProvisioningError)

// RetryExecutor runs operations under a RetryPolicy, retrying transient
// failures with exponential backoff.
type RetryExecutor struct {
	classifier *Classifier
	sleep      Sleeper
	logger     zerolog.Logger
	hooks      []RetryHook
}

// RetryOption configures a RetryExecutor.
type RetryOption func(*RetryExecutor)

// WithClassifier sets the classifier used to detect transient failures.
func WithClassifier(c *Classifier) RetryOption {
	return func(r *RetryExecutor) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) RetryOption {
	return func(r *RetryExecutor) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithRetryLogger sets the logger for retry boundaries.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(r *RetryExecutor) {
		r.logger = logger.With().Str("component", "retry").Logger()
	}
}

// WithRetryHook registers a hook called at every retry boundary.
func WithRetryHook(h RetryHook) RetryOption {
	return func(r *RetryExecutor) {
		if h != nil {
			r.hooks = append(r.hooks, h)
		}
	}
}

// NewRetryExecutor creates a retry executor.
func NewRetryExecutor(opts ...RetryOption) *RetryExecutor {
	r := &RetryExecutor{
		classifier: NewClassifier(),
		sleep:      SleepContext,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classifier returns the executor's classifier.
func (r *RetryExecutor) Classifier() *Classifier {
	return r.classifier
}

// Do runs op under policy. See Execute.
func (r *RetryExecutor) Do(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, r, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute runs op at most policy.MaxAttempts times. A transient failure is
// retried after BaseDelay * 2^(attempt-1), or the provider's Retry-After hint
// when larger; delays never decrease. When attempts run out the last
// TransientError is returned with AttemptCount set. Any other failure is
// normalized and returned at once.
func Execute[T any](ctx context.Context, r *RetryExecutor, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, NewValidationError(fmt.Sprintf("invalid retry policy: %v", err), "", "",
			ValidationDetail{Rule: "retry_policy", ProvidedValue: policy.MaxAttempts})
	}

	log := r.logger.With().Str("activity", policy.ActivityLabel).Logger()

	var lastDelay time.Duration
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("Activity succeeded after retry")
			}
			return result, nil
		}

		class := r.classifier.Classify(err)
		if !class.Transient {
			return zero, r.classifier.Normalize(err, "", "")
		}

		perr := r.classifier.Normalize(err, "", "").WithAttemptCount(attempt)
		if attempt >= policy.MaxAttempts {
			log.Error().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", policy.MaxAttempts).
				Msg("Activity failed, retries exhausted")
			return zero, perr
		}

		delay := policy.Backoff(attempt)
		if class.RetryAfter > delay {
			delay = class.RetryAfter
		}
		if delay < lastDelay {
			delay = lastDelay
		}
		lastDelay = delay

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Dur("delay", delay).
			Msg("Transient failure, retrying")

		for _, h := range r.hooks {
			h(policy.ActivityLabel, attempt, delay, perr)
		}

		if serr := r.sleep(ctx, delay); serr != nil {
			return zero, NewProvisioningFailedError(
				fmt.Sprintf("%s interrupted during backoff", policy.ActivityLabel), "", "",
				ProvisioningFailedDetail{ErrorDetails: err.Error()}).
				WithCode(ErrCodeCanceled).
				WithCause(serr)
		}
	}
}
