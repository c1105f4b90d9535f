package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/threadline-backend/pkg/redis"
)

type sessionBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CartSessionKey(sessionID string) string
}

// Sessions keeps the cart State of each session in Redis. Every save refreshes the TTL.
type Sessions struct {
	backend sessionBackend
	ttl     time.Duration
}

// NewSessions builds the session store.
func NewSessions(backend sessionBackend, ttl time.Duration) (*Sessions, error) {
	if backend == nil {
		return nil, fmt.Errorf("session backend required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &Sessions{backend: backend, ttl: ttl}, nil
}

// Load returns the stored state of sessionID. Unknown sessions start empty.
func (s *Sessions) Load(ctx context.Context, sessionID string) (State, error) {
	raw, err := s.backend.Get(ctx, s.backend.CartSessionKey(sessionID))
	if err != nil {
		if redis.IsMissing(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("load cart session: %w", err)
	}
	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return State{}, fmt.Errorf("decode cart session: %w", err)
	}
	return state, nil
}

// Save writes state for sessionID.
func (s *Sessions) Save(ctx context.Context, sessionID string, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cart session: %w", err)
	}
	if err := s.backend.Set(ctx, s.backend.CartSessionKey(sessionID), string(payload), s.ttl); err != nil {
		return fmt.Errorf("save cart session: %w", err)
	}
	return nil
}

// Delete forgets sessionID.
func (s *Sessions) Delete(ctx context.Context, sessionID string) error {
	if err := s.backend.Del(ctx, s.backend.CartSessionKey(sessionID)); err != nil {
		return fmt.Errorf("delete cart session: %w", err)
	}
	return nil
}
