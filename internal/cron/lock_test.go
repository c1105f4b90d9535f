package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu     sync.Mutex
	owners map[string]string
}

func (f *fakeLocker) AcquireLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.owners[key]; held {
		return false, nil
	}
	f.owners[key] = token
	return true, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[key] == token {
		delete(f.owners, key)
	}
	return nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	locker := &fakeLocker{owners: map[string]string{}}
	first, err := NewRedisLock(locker, "tl:cron-worker:lock:test", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(locker, "tl:cron-worker:lock:test", 0)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// releasing a lock this instance never took leaves the owner in place
	require.NoError(t, second.Release(context.Background()))
	assert.Len(t, locker.owners, 1)

	require.NoError(t, first.Release(context.Background()))
	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "key", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLock(&fakeLocker{owners: map[string]string{}}, "", time.Minute)
	require.Error(t, err)
}
