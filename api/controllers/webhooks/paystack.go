package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/angelmondragon/threadline-backend/internal/payment"
	paystackwebhook "github.com/angelmondragon/threadline-backend/internal/webhooks/paystack"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

type PaystackWebhookService interface {
	HandleEvent(ctx context.Context, event *paystackwebhook.Event) error
}

// PaystackWebhook applies charge events signed with the secret key (HMAC-SHA512 of the body).
func PaystackWebhook(svc PaystackWebhookService, secret string, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	ready := func() error {
		switch {
		case svc == nil:
			return pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable")
		case strings.TrimSpace(secret) == "":
			return pkgerrors.New(pkgerrors.CodeInternal, "paystack secret not configured")
		}
		return nil
	}
	return serveWebhook("paystack", ready, guard, logg, func(r *http.Request, body []byte) (delivery, error) {
		signature := r.Header.Get(payment.PaystackSignatureHeader)
		if signature == "" {
			return delivery{}, pkgerrors.New(pkgerrors.CodeValidation, "paystack signature missing")
		}
		if !payment.ValidPaystackSignature(secret, body, signature) {
			return delivery{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid paystack signature")
		}

		event := new(paystackwebhook.Event)
		if err := json.Unmarshal(body, event); err != nil {
			return delivery{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event")
		}
		return delivery{
			id:    event.DeliveryID(),
			apply: func(ctx context.Context) error { return svc.HandleEvent(ctx, event) },
		}, nil
	})
}
