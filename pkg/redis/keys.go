package redis

import "strings"

// Every key lives under the "tl" namespace, segments joined by ":".
const (
	keyNamespace      = "tl"
	idempotencyPrefix = "idempotency"
	cartPrefix        = "cart"
	checkoutPrefix    = "checkout"
	shippingPrefix    = "shipping"
	lockPrefix        = "lock"
	sessionPrefix     = "session"
)

// IdempotencyKey returns a namespaced key for idempotency storage.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.buildKey(idempotencyPrefix, scope, id)
}

// CartSessionKey holds the ephemeral cart snapshot of one session.
func (c *Client) CartSessionKey(sessionID string) string {
	return c.buildKey(cartPrefix, sessionPrefix, sessionID)
}

// CheckoutKey holds the in-flight checkout attempt of one cart session.
func (c *Client) CheckoutKey(sessionID string) string {
	return c.buildKey(checkoutPrefix, sessionID)
}

// GuestShippingKey holds the saved shipping details of a guest session.
func (c *Client) GuestShippingKey(sessionID string) string {
	return c.buildKey(shippingPrefix, "guest", sessionID)
}

// LockKey namespaces a mutual-exclusion key.
func (c *Client) LockKey(scope, id string) string {
	return c.buildKey(lockPrefix, scope, id)
}

// RevokedTokenKey marks a signed-out access token.
func (c *Client) RevokedTokenKey(tokenID string) string {
	return c.buildKey(sessionPrefix, "revoked", tokenID)
}

func (c *Client) buildKey(parts ...string) string {
	if len(parts) == 0 {
		return keyNamespace
	}
	clean := []string{keyNamespace}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, ":")
}
