package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/threadline-backend/pkg/redis"
)

type attemptBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CheckoutKey(sessionID string) string
}

// Attempts keeps the checkout Attempt of each cart session in Redis.
type Attempts struct {
	backend attemptBackend
	ttl     time.Duration
}

func NewAttempts(backend attemptBackend, ttl time.Duration) (*Attempts, error) {
	if backend == nil {
		return nil, fmt.Errorf("attempt backend required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("attempt ttl must be positive")
	}
	return &Attempts{backend: backend, ttl: ttl}, nil
}

// Load returns the attempt of sessionID, or an empty one.
func (a *Attempts) Load(ctx context.Context, sessionID string) (*Attempt, error) {
	raw, err := a.backend.Get(ctx, a.backend.CheckoutKey(sessionID))
	if err != nil {
		if redis.IsMissing(err) {
			return &Attempt{}, nil
		}
		return nil, err
	}
	var attempt Attempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return nil, fmt.Errorf("decode checkout attempt: %w", err)
	}
	return &attempt, nil
}

func (a *Attempts) Save(ctx context.Context, sessionID string, attempt *Attempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("encode checkout attempt: %w", err)
	}
	return a.backend.Set(ctx, a.backend.CheckoutKey(sessionID), string(payload), a.ttl)
}

func (a *Attempts) Delete(ctx context.Context, sessionID string) error {
	return a.backend.Del(ctx, a.backend.CheckoutKey(sessionID))
}
