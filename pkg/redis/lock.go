package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// ErrLockBusy is returned by WithLock when the lock stayed held by someone else for the
// whole wait window.
var ErrLockBusy = errors.New("lock busy")

const lockPollInterval = 25 * time.Millisecond

// Locker is the subset of Client used to serialize work on a key.
type Locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// WithLock runs fn while holding key. A contended lock is polled until wait elapses.
func WithLock(ctx context.Context, l Locker, key string, ttl, wait time.Duration, fn func(context.Context) error) error {
	if l == nil {
		return errors.New("locker is required")
	}
	token := uuid.NewString()
	backoff := retry.WithMaxDuration(wait, retry.NewConstant(lockPollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := l.AcquireLock(ctx, key, token, ttl)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(ErrLockBusy)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = l.ReleaseLock(context.WithoutCancel(ctx), key, token)
	}()
	return fn(ctx)
}
