package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/threadline-backend/internal/analytics/types"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/outbox/payloads"
)

type orderPaymentUpdatedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderPaymentUpdatedHandler(w Writer, logg *logger.Logger) Handler {
	return &orderPaymentUpdatedHandler{writer: w, logg: logg}
}

func (h *orderPaymentUpdatedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderPaymentUpdatedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", payload, envelope.EventType)
	}

	row := types.OrderFactRow{
		EventID:        envelope.EventID,
		EventType:      string(envelope.EventType),
		OccurredAt:     occurredAt(envelope, event.UpdatedAt),
		OrderID:        event.OrderID.String(),
		PaymentStatus:  string(event.PaymentStatus),
		PreviousStatus: stringPtr(string(event.PreviousStatus)),
		ReferenceID:    stringPtr(event.ReferenceID),
		Source:         stringPtr(event.Source),
	}

	if err := h.writer.InsertOrderFact(ctx, row); err != nil {
		return err
	}
	h.logg.Info(h.logg.WithField(ctx, "order_id", row.OrderID), "order payment fact recorded")
	return nil
}

func occurredAt(envelope types.Envelope, fallback time.Time) time.Time {
	if !envelope.OccurredAt.IsZero() {
		return envelope.OccurredAt.UTC()
	}
	return fallback.UTC()
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
