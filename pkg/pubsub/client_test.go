package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		name, project, kind, in, want string
	}{
		{"short topic", "shop", "topics", "threadline-order-events", "projects/shop/topics/threadline-order-events"},
		{"qualified subscription", "shop", "subscriptions", "projects/other/subscriptions/a", "projects/other/subscriptions/a"},
		{"trims", "shop", "subscriptions", "  analytics ", "projects/shop/subscriptions/analytics"},
		{"blank name", "shop", "topics", " ", ""},
		{"blank project", "", "topics", "orders", ""},
		{"wrong kind stays relative", "shop", "topics", "projects/other/subscriptions/a", "projects/shop/topics/projects/other/subscriptions/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resourceName(tc.project, tc.kind, tc.in))
		})
	}
}

func TestNotFoundAware(t *testing.T) {
	assert.NoError(t, notFoundAware("topic", "orders", nil))

	err := notFoundAware("topic", "orders", status.Error(codes.NotFound, "gone"))
	assert.EqualError(t, err, `topic "orders" does not exist`)

	cause := status.Error(codes.PermissionDenied, "nope")
	err = notFoundAware("subscription", "analytics", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("orders"))
	assert.Nil(t, c.Subscription("analytics"))
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
