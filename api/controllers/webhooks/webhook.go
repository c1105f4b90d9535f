package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/threadline-backend/api/responses"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type webhookGuard interface {
	Do(ctx context.Context, eventID string, apply func(context.Context) error) (bool, error)
}

// delivery is a webhook whose signature checked out, decoded and ready to apply.
type delivery struct {
	id    string
	apply func(context.Context) error
}

// receiver verifies the raw body against the request headers and decodes it.
type receiver func(r *http.Request, body []byte) (delivery, error)

// serveWebhook runs the shared read, verify, dedupe and apply flow. Duplicate
// deliveries are acknowledged with 200 so the processor stops retrying.
func serveWebhook(source string, ready func() error, guard webhookGuard, logg *logger.Logger, receive receiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := ready(); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		d, err := receive(r, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		duplicate, err := guard.Do(ctx, d.id, d.apply)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"source":    source,
				"event_id":  d.id,
				"duplicate": duplicate,
			}), "webhook.processed")
		}
		responses.WriteSuccess(w, nil)
	}
}
