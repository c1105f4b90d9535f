package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/outbox/payloads"
)

func TestDecoderRegistryDecodesRegisteredVersion(t *testing.T) {
	reg := NewDecoderRegistry()
	if err := reg.Register(enums.EventOrderPaymentUpdated, 1, JSON[payloads.OrderPaymentUpdatedEvent]()); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := reg.Decode(enums.EventOrderPaymentUpdated, 1, json.RawMessage(`{"payment_status":"successful","reference_id":"att_7"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, ok := out.(*payloads.OrderPaymentUpdatedEvent)
	if !ok || event.PaymentStatus != enums.PaymentStatusSuccessful || event.ReferenceID != "att_7" {
		t.Fatalf("unexpected output %+v", out)
	}

	if _, err := reg.Decode(enums.EventOrderPaymentUpdated, 2, json.RawMessage(`{}`)); !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("expected ErrNoDecoder for unknown version, got %v", err)
	}
}

func TestDecoderRegistryRejectsBadRegistrations(t *testing.T) {
	reg := NewDecoderRegistry()
	decoder := JSON[payloads.OrderRecordedEvent]()
	if err := reg.Register(enums.EventOrderRecorded, 1, decoder); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(enums.EventOrderRecorded, 1, decoder); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := reg.Register(enums.OutboxEventType("cart_abandoned"), 1, decoder); err == nil {
		t.Fatalf("expected unknown event type to fail")
	}
	if err := reg.Register(enums.EventOrderPaymentUpdated, 0, decoder); err == nil {
		t.Fatalf("expected zero version to fail")
	}
	if err := reg.Register(enums.EventOrderPaymentUpdated, 1, nil); err == nil {
		t.Fatalf("expected nil decoder to fail")
	}
}

func TestJSONDecoderRejectsEmptyPayload(t *testing.T) {
	decode := JSON[payloads.OrderRecordedEvent]()
	for _, raw := range []string{"", "  ", "null"} {
		if _, err := decode(json.RawMessage(raw)); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
