package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/pkg/enums"
)

// Identity is the signed-in shopper behind a request.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	Role      enums.MemberRole
	TokenID   string
	ExpiresAt time.Time
}

// IsAdmin reports whether the identity may use the back-office.
func (i Identity) IsAdmin() bool {
	return i.Role == enums.MemberRoleAdmin
}

type identityKey struct{}

// ContextWithIdentity stores a verified identity on ctx.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity verified by the auth middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if ctx == nil {
		return nil
	}
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity
}
