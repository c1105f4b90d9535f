package webhooks

import (
	"context"
	"errors"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/redis"
)

// DefaultGuardTTL covers the retry window of both processors.
const DefaultGuardTTL = 72 * time.Hour

// IdempotencyGuard applies each processor delivery at most once. A claim is a
// Redis SETNX on `tl:idempotency:<scope>:<event id>` holding the claim time; it
// is released when applying the delivery fails so the processor's retry gets
// another chance.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case strings.TrimSpace(scope) == "":
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

// Do runs apply unless eventID was already claimed. duplicate reports a
// delivery that was acknowledged without running apply.
func (g *IdempotencyGuard) Do(ctx context.Context, eventID string, apply func(context.Context) error) (duplicate bool, err error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, pkgerrors.Invalid("event_id", "webhook delivery has no event id")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	claimed, err := g.store.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook delivery")
	}
	if !claimed {
		return true, nil
	}
	if err := apply(ctx); err != nil {
		// Release even when the request was cancelled mid-apply.
		if delErr := g.store.Del(context.WithoutCancel(ctx), key); delErr != nil {
			return false, errors.Join(err, delErr)
		}
		return false, err
	}
	return false, nil
}
