package paystackwebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/threadline-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

const (
	EventChargeSuccess = "charge.success"

	sourceWebhook = "paystack_webhook"
)

// Event is the envelope Paystack posts to the webhook URL.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	ID        int64    `json:"id"`
	Reference string   `json:"reference"`
	Status    string   `json:"status"`
	Amount    int64    `json:"amount"`
	Currency  string   `json:"currency"`
	PaidAt    string   `json:"paid_at"`
	Customer  Customer `json:"customer"`
}

type Customer struct {
	Email string `json:"email"`
}

// DeliveryID identifies one delivery for the idempotency guard.
func (e Event) DeliveryID() string {
	if e.Data.ID != 0 {
		return fmt.Sprintf("%s:%d", e.Event, e.Data.ID)
	}
	return e.Event + ":" + strings.TrimSpace(e.Data.Reference)
}

type orderMarker interface {
	MarkPaidByReference(ctx context.Context, reference, source string) (*orders.OrderDTO, bool, error)
}

type Service struct {
	orders orderMarker
	logg   *logger.Logger
}

func NewService(orders orderMarker, logg *logger.Logger) (*Service, error) {
	if orders == nil {
		return nil, errors.New("order service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Service{orders: orders, logg: logg}, nil
}

// HandleEvent applies charge.success to the matching order. Unknown references are
// acknowledged: the shopper may have paid without the storefront recording the order.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "paystack event required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"paystack_event": event.Event,
		"reference":      event.Data.Reference,
	})

	switch event.Event {
	case EventChargeSuccess:
		reference := strings.TrimSpace(event.Data.Reference)
		if reference == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "paystack reference missing")
		}
		order, changed, err := s.orders.MarkPaidByReference(ctx, reference, sourceWebhook)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				s.logg.Warn(ctx, "paystack.webhook_unknown_reference")
				return nil
			}
			return err
		}
		if changed {
			s.logg.Info(s.logg.WithField(ctx, "order_id", order.ID.String()), "paystack.webhook_order_paid")
		}
		return nil
	default:
		s.logg.Debug(ctx, "paystack.webhook_ignored")
		return nil
	}
}
