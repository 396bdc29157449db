package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/discoflow/discoflow/model"
)

// Retry defaults. The default schedule is 31s + 62s of waiting across
// three attempts; total elapsed retry time must stay below the remote
// credential's validity window, which bounds how far either knob can be
// raised.
const (
	DefaultMaxAttempts = 3
	DefaultBaseWait    = 31 * time.Second
)

// Policy controls the retry budget and backoff for one call.
type Policy struct {
	MaxAttempts int
	BaseWait    time.Duration
}

// withDefaults fills zero fields.
func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseWait <= 0 {
		p.BaseWait = DefaultBaseWait
	}
	return p
}

// AttemptFunc performs a single call attempt.
type AttemptFunc func(ctx context.Context) (any, error)

// Retrier applies exponential backoff around call attempts. It is the
// only place retry decisions are made; the call builder and pagination
// iterator never catch-and-retry themselves.
type Retrier struct {
	logger *zap.Logger

	// OnRetry is invoked before each backoff sleep, for metrics.
	OnRetry func()

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier logging through the given logger.
func NewRetrier(logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		logger: logger,
		sleep:  sleepContext,
	}
}

// Do invokes attempt, retrying per the classifier's verdicts. A fatal
// failure is returned immediately; a benign duplicate yields a nil result
// and nil error (no-op success); a retryable failure sleeps the current
// wait, doubles it, and tries again until the attempt budget is spent,
// at which point the original failure is returned.
func (r *Retrier) Do(ctx context.Context, classifier *Classifier, policy Policy, attempt AttemptFunc) (any, error) {
	policy = policy.withDefaults()
	wait := policy.BaseWait

	for attempts := policy.MaxAttempts; ; attempts-- {
		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}

		switch classifier.Classify(err) {
		case model.ClassFatal:
			return nil, err

		case model.ClassBenignDuplicate:
			r.logger.Info("duplicate creation ignored", zap.Error(err))
			return nil, nil

		case model.ClassRetryable:
			if attempts <= 1 {
				return nil, err
			}
			r.logger.Warn("retrying call",
				zap.Int("attempts_remaining", attempts-1),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			if r.OnRetry != nil {
				r.OnRetry()
			}
			if err := r.sleep(ctx, wait); err != nil {
				return nil, err
			}
			wait *= 2
		}
	}
}

// sleepContext blocks for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
