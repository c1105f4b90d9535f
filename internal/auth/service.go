package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgAuth "github.com/angelmondragon/threadline-backend/pkg/auth"
	"github.com/angelmondragon/threadline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
)

// Service resolves identities from bearer tokens issued by the identity provider.
type Service interface {
	// Authenticate verifies a raw bearer token and returns its identity.
	Authenticate(ctx context.Context, token string) (*Identity, error)
	// CurrentIdentity returns the still-valid identity of the request, or nil for guests.
	CurrentIdentity(ctx context.Context) (*Identity, error)
	// SignOut revokes the token of the request.
	SignOut(ctx context.Context) error
}

type revocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type service struct {
	jwtCfg      config.JWTConfig
	revocations revocationStore
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	JWTConfig   config.JWTConfig
	Revocations revocationStore
}

// NewService constructs an identity service.
func NewService(params ServiceParams) (Service, error) {
	if params.Revocations == nil {
		return nil, fmt.Errorf("revocation store is required")
	}
	if params.JWTConfig.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &service{
		jwtCfg:      params.JWTConfig,
		revocations: params.Revocations,
	}, nil
}

func (s *service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	claims, err := pkgAuth.ParseAccessToken(s.jwtCfg, token)
	if errors.Is(err, pkgAuth.ErrTokenExpired) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "session expired, sign in again")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}

	identity := &Identity{
		UserID:  userID,
		Email:   claims.Email,
		Role:    claims.EffectiveRole(),
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	if err := s.ensureActive(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *service) CurrentIdentity(ctx context.Context) (*Identity, error) {
	identity := IdentityFromContext(ctx)
	if identity == nil {
		return nil, nil
	}
	if err := s.ensureActive(ctx, identity); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
			return nil, nil
		}
		return nil, err
	}
	return identity, nil
}

func (s *service) SignOut(ctx context.Context) error {
	identity := IdentityFromContext(ctx)
	if identity == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "not signed in")
	}
	if err := s.revocations.Revoke(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	return nil
}

func (s *service) ensureActive(ctx context.Context, identity *Identity) error {
	revoked, err := s.revocations.IsRevoked(ctx, identity.TokenID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session")
	}
	if revoked {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "session ended")
	}
	return nil
}
