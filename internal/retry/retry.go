// Package retry provides a generic exponential-backoff combinator used
// to wrap flaky PassThru/ISO-TP/UDS operations with automatic retries,
// mirroring the recovery loop the reference tooling built around every
// device call.
package retry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sambrody/motouds/internal/diagerr"
)

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	// Recover, if set, runs between attempts before the next retry is
	// fired (e.g. re-arming a flow-control filter after a bus error).
	Recover func() error
}

// DefaultPolicy matches the reference tooling's retry_with_recovery defaults.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: time.Second, BackoffFactor: 2.0}
}

// Do runs op, retrying on retryable *diagerr.Error values with
// exponential backoff. Non-diagerr errors and non-retryable diagerr
// errors end the loop at once; a non-diagerr error is returned wrapped
// in a KindUnknown *diagerr.Error.
func Do[T any](ctx context.Context, name string, policy Policy, op func(attempt int) (T, error)) (T, error) {
	var zero T
	delay := policy.InitialDelay
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	attempt := 1
	for ; attempt <= policy.MaxAttempts; attempt++ {
		log.WithFields(log.Fields{"op": name, "attempt": attempt, "max": policy.MaxAttempts}).Debug("attempting operation")

		result, err := op(attempt)
		if err == nil {
			if attempt > 1 {
				log.WithFields(log.Fields{"op": name, "attempt": attempt}).Info("operation succeeded after retry")
			}
			return result, nil
		}

		lastErr = err
		de, ok := err.(*diagerr.Error)
		if !ok || !de.Retryable() || attempt == policy.MaxAttempts {
			log.WithFields(log.Fields{"op": name, "attempt": attempt}).WithError(err).Error("operation failed, not retrying")
			break
		}

		log.WithFields(log.Fields{"op": name, "attempt": attempt, "delay": delay}).WithError(err).Warn("operation failed, will retry")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)

		if policy.Recover != nil {
			if rerr := policy.Recover(); rerr != nil {
				log.WithFields(log.Fields{"op": name}).WithError(rerr).Warn("recovery callback failed")
			}
		}
	}

	if de, ok := lastErr.(*diagerr.Error); ok {
		return zero, de
	}
	return zero, diagerr.Wrap(lastErr, diagerr.KindUnknown, diagerr.SeverityCritical,
		fmt.Sprintf("%s failed after %d attempts", name, attempt))
}
