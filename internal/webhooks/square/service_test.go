package squarewebhook

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

type stubMarker struct {
	references []string
	err        error
}

func (s *stubMarker) MarkPaidByReference(_ context.Context, reference, _ string) (*orders.OrderDTO, bool, error) {
	s.references = append(s.references, reference)
	if s.err != nil {
		return nil, false, s.err
	}
	return &orders.OrderDTO{ID: uuid.New()}, true, nil
}

func paymentEvent(status, referenceID string) *SquareWebhookEvent {
	return &SquareWebhookEvent{
		EventID: uuid.NewString(),
		Type:    "payment.updated",
		Data: SquareWebhookData{
			Type: "payment",
			ID:   "pay_1",
			Object: SquareWebhookObject{Payment: &SquarePayment{
				ID:          "pay_1",
				Status:      status,
				ReferenceID: referenceID,
			}},
		},
	}
}

func TestService_CompletedPaymentMarksOrder(t *testing.T) {
	marker := &stubMarker{}
	service, err := NewService(ServiceParams{Orders: marker, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	if err := service.HandleEvent(context.Background(), paymentEvent("COMPLETED", "outcome-1")); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(marker.references) != 1 || marker.references[0] != "outcome-1" {
		t.Fatalf("expected reference outcome-1, got %v", marker.references)
	}
}

func TestService_FallsBackToPaymentID(t *testing.T) {
	marker := &stubMarker{}
	service, _ := NewService(ServiceParams{Orders: marker, Logger: logger.Nop()})

	if err := service.HandleEvent(context.Background(), paymentEvent("COMPLETED", "")); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(marker.references) != 1 || marker.references[0] != "pay_1" {
		t.Fatalf("expected payment id reference, got %v", marker.references)
	}
}

func TestService_PendingPaymentIgnored(t *testing.T) {
	marker := &stubMarker{}
	service, _ := NewService(ServiceParams{Orders: marker, Logger: logger.Nop()})

	if err := service.HandleEvent(context.Background(), paymentEvent("APPROVED", "outcome-1")); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(marker.references) != 0 {
		t.Fatalf("expected no update, got %v", marker.references)
	}
}

func TestService_UnknownOrderAcknowledged(t *testing.T) {
	marker := &stubMarker{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	service, _ := NewService(ServiceParams{Orders: marker, Logger: logger.Nop()})

	if err := service.HandleEvent(context.Background(), paymentEvent("COMPLETED", "outcome-9")); err != nil {
		t.Fatalf("expected acknowledgement, got %v", err)
	}
}

func TestService_MissingPayment(t *testing.T) {
	service, _ := NewService(ServiceParams{Orders: &stubMarker{}, Logger: logger.Nop()})
	event := &SquareWebhookEvent{Type: "payment.updated"}

	err := service.HandleEvent(context.Background(), event)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
