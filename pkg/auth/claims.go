package auth

import (
	"fmt"

	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	Role   enums.MemberRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued by the identity provider.
// The user id travels in the registered "sub" claim.
type AccessTokenClaims struct {
	Email string           `json:"email,omitempty"`
	Role  enums.MemberRole `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessTokenClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	return id, nil
}

// EffectiveRole treats a missing role claim as a customer.
func (c *AccessTokenClaims) EffectiveRole() enums.MemberRole {
	if c.Role == "" {
		return enums.MemberRoleCustomer
	}
	return c.Role
}
