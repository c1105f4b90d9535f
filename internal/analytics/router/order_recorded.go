package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/threadline-backend/internal/analytics/types"
	"github.com/angelmondragon/threadline-backend/internal/analytics/writer"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/outbox/payloads"
)

type orderRecordedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderRecordedHandler(w Writer, logg *logger.Logger) Handler {
	return &orderRecordedHandler{writer: w, logg: logg}
}

func (h *orderRecordedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderRecordedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", payload, envelope.EventType)
	}

	items, err := writer.EncodeJSON(event.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	var quantity int64
	for _, item := range event.Items {
		quantity += int64(item.Quantity)
	}

	row := types.OrderFactRow{
		EventID:         envelope.EventID,
		EventType:       string(envelope.EventType),
		OccurredAt:      occurredAt(envelope, event.RecordedAt),
		OrderID:         event.OrderID.String(),
		PaymentStatus:   string(event.PaymentStatus),
		Provider:        stringPtr(string(event.Provider)),
		ReferenceID:     stringPtr(event.ReferenceID),
		OrderTotal:      event.OrderTotal.Rat(),
		ItemCount:       &quantity,
		Items:           items,
		ShippingCity:    stringPtr(event.ShippingCity),
		ShippingState:   stringPtr(event.ShippingState),
		ShippingCountry: stringPtr(event.ShippingCountry),
	}
	if event.UserID != nil {
		row.UserID = stringPtr(event.UserID.String())
	}

	if err := h.writer.InsertOrderFact(ctx, row); err != nil {
		return err
	}
	h.logg.Info(h.logg.WithField(ctx, "order_id", row.OrderID), "order fact recorded")
	return nil
}
