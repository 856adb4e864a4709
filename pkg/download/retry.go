package download

import (
	"context"
	"math/rand"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/pgrab/pgrab/pkg/client"
	"github.com/pgrab/pgrab/pkg/logging"
)

const (
	DefaultMaxAttempts = 3

	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond // do not backoff further than 3 seconds
	retrySleepJitter = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in jitteredBackoff
)

// BackoffFunc returns how long to wait before attempt number attemptNum+1.
type BackoffFunc func(min, max time.Duration, attemptNum int) time.Duration

// RetryPolicy bounds the number of times a fallible network operation is attempted.
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	// Backoff defaults to jitteredBackoff when nil.
	Backoff BackoffFunc
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		MinWait:     retryMinWait,
		MaxWait:     retryMaxWait,
	}
}

// jitteredBackoff is retryablehttp.DefaultBackoff plus a random jitter, so the many
// concurrent chunk requests of an advanced download do not retry in lockstep.
func jitteredBackoff(min, max time.Duration, attemptNum int) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, nil)
	return sleep
}

// NoBackoff retries immediately.
func NoBackoff(time.Duration, time.Duration, int) time.Duration {
	return 0
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) wait(attemptNum int) time.Duration {
	backoff := p.Backoff
	if backoff == nil {
		backoff = jitteredBackoff
	}
	return backoff(p.MinWait, p.MaxWait, attemptNum)
}

// Do runs op until it succeeds, fails with a non-retryable error, or MaxAttempts is
// reached. Exhaustion is reported as a KindRetryExhausted *Error wrapping the last cause.
// The zero-based attempt number is available to op's transport via client.AttemptFromContext.
func (p RetryPolicy) Do(ctx context.Context, target string, op func(ctx context.Context) error) error {
	logger := logging.GetLogger()
	maxAttempts := p.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Error{Kind: KindCanceled, Op: "retry", Target: target, Attempts: attempt - 1, Err: err}
		}
		err := op(client.WithAttempt(ctx, attempt-1))
		if err == nil {
			if attempt > 1 {
				logger.Debug().Str("target", target).Int("attempt", attempt).Msg("Recovered")
			}
			return nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Kind: KindCanceled, Op: "retry", Target: target, Attempts: attempt, Err: ctxErr}
		}
		if !KindOf(err).Retryable() {
			logger.Debug().Err(err).Str("target", target).Int("attempt", attempt).Msg("Not retryable")
			return err
		}
		logger.Warn().
			Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("Attempt failed")
		if attempt == maxAttempts {
			break
		}
		if err := sleepCtx(ctx, p.wait(attempt)); err != nil {
			return &Error{Kind: KindCanceled, Op: "retry", Target: target, Attempts: attempt, Err: err}
		}
	}
	return &Error{Kind: KindRetryExhausted, Op: "retry", Target: target, Attempts: maxAttempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
