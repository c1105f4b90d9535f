package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithLockRunsAndReleases(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cart", "sess-1")

	ran := false
	err := WithLock(ctx, client, key, time.Second, 100*time.Millisecond, func(context.Context) error {
		ran = true
		if _, held := mock.data[key]; !held {
			t.Errorf("expected lock to be held while fn runs")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("expected fn to run")
	}
	if _, held := mock.data[key]; held {
		t.Fatalf("expected lock to be released")
	}
}

func TestWithLockBusy(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cart", "sess-2")

	if ok, _ := client.AcquireLock(ctx, key, "other", time.Minute); !ok {
		t.Fatalf("setup acquire failed")
	}

	err := WithLock(ctx, client, key, time.Second, 60*time.Millisecond, func(context.Context) error {
		t.Errorf("fn must not run while the lock is held elsewhere")
		return nil
	})
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy, got %v", err)
	}
}

func TestWithLockPropagatesFnError(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("checkout", "sess-3")
	boom := errors.New("boom")

	err := WithLock(ctx, client, key, time.Second, 50*time.Millisecond, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, held := mock.data[key]; held {
		t.Fatalf("expected lock to be released after failure")
	}
}
