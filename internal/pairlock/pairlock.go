// Package pairlock serializes work on one participant pair.
//
// A pair is identified by Key, which is independent of argument order. The
// lock replaces a database-level named lock: callers go through With so the
// lock is always released, whichever way the guarded function exits.
package pairlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/logging"
	"github.com/zulandar/tradepost/internal/metrics"
	"go.uber.org/zap"
)

// DefaultTimeout bounds how long With waits for a busy pair.
const DefaultTimeout = 5 * time.Second

// Locker hands out exclusive holds on string keys. Acquire blocks until the
// key is free or ctx is done; the returned release func is safe to call more
// than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key returns the canonical "min:max" key for two participant ids.
func Key(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// With runs fn while holding key. A wait longer than timeout fails with a
// retryable Busy error and fn is not run.
func With(ctx context.Context, l Locker, key string, timeout time.Duration, fn func() error) error {
	if l == nil {
		return apperr.Internal(errors.New("nil locker"), "pairlock: %s", key)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	release, err := l.Acquire(actx, key)
	if err != nil {
		metrics.LockWait.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			logging.L().Warn("pairlock: acquire timed out", zap.String("key", key), zap.Duration("timeout", timeout))
			return apperr.Busy("lock_timeout", "conversation is busy, retry shortly")
		}
		return apperr.Internal(err, "pairlock: acquire %s", key)
	}
	metrics.LockWait.WithLabelValues("acquired").Observe(time.Since(start).Seconds())
	defer release()

	return fn()
}
