package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// errConcurrentUpdate signals that a conditional update kept losing against
// concurrent writers. It is treated as transient so the whole transaction is
// re-run.
var errConcurrentUpdate = errors.New("row changed concurrently")

// RetryPolicy bounds the local retry of transient storage failures.
// Zero values fall back to 50ms initial interval and 2s total budget.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialInterval: 50 * time.Millisecond, MaxElapsed: 2 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = 50 * time.Millisecond
	}
	b.MaxElapsedTime = p.MaxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 2 * time.Second
	}
	return backoff.WithContext(b, ctx)
}

// Do runs fn until it succeeds, returns a non-transient error, or the retry
// budget is spent. Logical errors are returned unchanged on the first
// attempt. A transient error that survives the budget is wrapped in
// ErrStorageUnavailable.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	var lastTransient error
	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			lastTransient = err
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx), func(err error, next time.Duration) {
		log.Debug().Err(err).Str("op", op).Dur("backoff", next).Msg("retrying transient storage error")
	})
	if err == nil {
		return nil
	}
	if isTransient(err) || (lastTransient != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		cause := err
		if lastTransient != nil {
			cause = lastTransient
		}
		log.Warn().Err(cause).Str("op", op).Msg("storage unavailable")
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, cause)
	}
	return err
}

// isTransient classifies errors eligible for local retry: SQLite busy/locked
// conditions, dropped connections, deadlines and lost conditional updates.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errConcurrentUpdate) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	low := strings.ToLower(err.Error())
	for _, s := range transientMarkers {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"sqlite_locked",
	"(517)", // SQLITE_BUSY_SNAPSHOT
	"(261)", // SQLITE_BUSY_RECOVERY
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
}
