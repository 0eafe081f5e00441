// Package retry implements the classifier-driven retry policy that wraps
// every language-handler invocation: transient errors are retried with
// exponential backoff, user errors are never retried, and unclassified
// errors get a single extra attempt.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kraklabs/builder/internal/errs"
)

// Policy configures the backoff schedule applied to transient errors.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	Jitter      float64 // fraction, e.g. 0.25 for +/-25%
}

// DefaultPolicy matches the engine's mandated defaults: 3 attempts, 100ms
// base, 2x factor, 5s cap, +/-25% jitter.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Factor: 2.0, MaxDelay: 5 * time.Second, Jitter: 0.25}
}

// FromEnvironment reads BUILDER_RETRY_MAX_ATTEMPTS / BUILDER_RETRY_BASE_DELAY
// style overrides on top of DefaultPolicy; see internal/config for the
// concrete environment binding.
func FromEnvironment(maxAttempts int, baseDelay time.Duration) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		p.BaseDelay = baseDelay
	}
	return p
}

func (p Policy) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = p.Factor
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0 // attempt count governs termination, not elapsed time
	return eb
}

// Node is the minimal state the orchestrator needs from a build node: its
// retry-attempt counter, reset on success and incremented on each retry.
type Node interface {
	RetryAttempt() int
	SetRetryAttempt(int)
}

// Do invokes fn under the retry policy appropriate to fn's returned error's
// classification. It counts attempts on node and resets the counter to zero
// on success.
func Do(ctx context.Context, policy Policy, node Node, fn func(context.Context) error) error {
	var lastErr error
	attempts := 0
	maxAttempts := policy.MaxAttempts

	bo := backoff.WithContext(policy.newBackOff(), ctx)

	operation := func() error {
		attempts++
		node.SetRetryAttempt(attempts - 1)
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		class := errs.Classify(err)
		switch class {
		case errs.ClassUser:
			return backoff.Permanent(err)
		case errs.ClassTransient:
			if attempts >= maxAttempts {
				return backoff.Permanent(err)
			}
			return err
		default: // unknown: single retry
			if attempts >= 2 {
				return backoff.Permanent(err)
			}
			return err
		}
	}

	err := backoff.Retry(operation, bo)
	if err == nil {
		node.SetRetryAttempt(0)
		return nil
	}
	if permanent, ok := err.(*backoff.PermanentError); ok {
		return permanent.Err
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}
