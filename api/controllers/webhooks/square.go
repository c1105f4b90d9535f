package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	squarewebhook "github.com/angelmondragon/threadline-backend/internal/webhooks/square"
	"github.com/angelmondragon/threadline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

// SquareSignatureHeader carries the base64 HMAC-SHA256 of notification URL + body.
const SquareSignatureHeader = "X-Square-Hmacsha256-Signature"

type SquareWebhookService interface {
	HandleEvent(ctx context.Context, event *squarewebhook.SquareWebhookEvent) error
}

// SquareWebhook applies signed Square payment events.
func SquareWebhook(svc SquareWebhookService, cfg config.SquareConfig, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	ready := func() error {
		if svc == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable")
		}
		return nil
	}
	return serveWebhook("square", ready, guard, logg, func(r *http.Request, body []byte) (delivery, error) {
		signature := r.Header.Get(SquareSignatureHeader)
		if signature == "" {
			return delivery{}, pkgerrors.New(pkgerrors.CodeValidation, "square signature missing")
		}
		if !validSquareSignature(cfg.WebhookSignatureKey, cfg.WebhookURL, body, signature) {
			return delivery{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature")
		}

		event := new(squarewebhook.SquareWebhookEvent)
		if err := json.Unmarshal(body, event); err != nil {
			return delivery{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event")
		}
		id := strings.TrimSpace(event.EventID)
		if id == "" {
			id = event.Data.ID
		}
		return delivery{
			id:    id,
			apply: func(ctx context.Context) error { return svc.HandleEvent(ctx, event) },
		}, nil
	})
}

func validSquareSignature(key, notificationURL string, body []byte, signature string) bool {
	if key == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
