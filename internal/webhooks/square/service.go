package squarewebhook

import (
	"context"
	"strings"

	"github.com/angelmondragon/threadline-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

const sourceWebhook = "square_webhook"

type orderMarker interface {
	MarkPaidByReference(ctx context.Context, reference, source string) (*orders.OrderDTO, bool, error)
}

type ServiceParams struct {
	Orders orderMarker
	Logger *logger.Logger
}

type Service struct {
	orders orderMarker
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{orders: params.Orders, logg: params.Logger}, nil
}

type SquareWebhookEvent struct {
	EventID string            `json:"event_id"`
	Type    string            `json:"type"`
	Data    SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *SquarePayment `json:"payment"`
}

// SquarePayment is the subset of the Square payment object the storefront reads.
type SquarePayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
}

// HandleEvent processes Square payment events. A COMPLETED payment marks the order
// recorded under its reference (the checkout outcome id) or the payment id as paid.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		p := event.Data.Object.Payment
		if p == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
		}
		ctx = s.logg.WithFields(ctx, map[string]any{
			"square_payment_id": p.ID,
			"square_status":     p.Status,
		})
		if !strings.EqualFold(p.Status, "COMPLETED") {
			s.logg.Debug(ctx, "square.webhook_payment_not_completed")
			return nil
		}
		reference := strings.TrimSpace(p.ReferenceID)
		if reference == "" {
			reference = strings.TrimSpace(p.ID)
		}
		if reference == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment reference missing")
		}
		order, changed, err := s.orders.MarkPaidByReference(ctx, reference, sourceWebhook)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				s.logg.Warn(ctx, "square.webhook_unknown_reference")
				return nil
			}
			return err
		}
		if changed {
			s.logg.Info(s.logg.WithField(ctx, "order_id", order.ID.String()), "square.webhook_order_paid")
		}
		return nil
	default:
		return nil
	}
}
