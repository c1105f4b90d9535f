package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

type mockStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *mockStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	val, ok := m.data[key]
	if !ok {
		return "", redislib.Nil
	}
	return val, nil
}

func (m *mockStore) RevokedTokenKey(tokenID string) string {
	return fmt.Sprintf("revoked:%s", tokenID)
}

func newTestManager(store *mockStore, now time.Time) *Manager {
	return &Manager{store: store, keyer: store, now: func() time.Time { return now }}
}

func TestManagerRevokeAndCheck(t *testing.T) {
	store := newMockStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(store, now)
	ctx := context.Background()

	revoked, err := manager.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected fresh token to be active, revoked=%v err=%v", revoked, err)
	}

	if err := manager.Revoke(ctx, "jti-1", now.Add(30*time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if store.ttls["revoked:jti-1"] != 30*time.Minute {
		t.Fatalf("expected ttl to match remaining token lifetime, got %v", store.ttls["revoked:jti-1"])
	}

	revoked, err = manager.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected token to be revoked, revoked=%v err=%v", revoked, err)
	}
}

func TestManagerRevokeExpiredTokenIsNoop(t *testing.T) {
	store := newMockStore()
	now := time.Now()
	manager := newTestManager(store, now)

	if err := manager.Revoke(context.Background(), "jti-old", now.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected no denylist entry for an expired token")
	}
}

func TestManagerRevokeRequiresID(t *testing.T) {
	manager := newTestManager(newMockStore(), time.Now())
	if err := manager.Revoke(context.Background(), " ", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected error for blank token id")
	}
}

func TestManagerIsRevokedPropagatesStoreErrors(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("redis down")
	manager := newTestManager(store, time.Now())

	if _, err := manager.IsRevoked(context.Background(), "jti"); err == nil {
		t.Fatal("expected store error to surface")
	}
}
