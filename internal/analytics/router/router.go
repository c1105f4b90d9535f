package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/threadline-backend/internal/analytics/types"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/outbox"
	"github.com/angelmondragon/threadline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/threadline-backend/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertOrderFact(ctx context.Context, row types.OrderFactRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

// Router dispatches order envelopes to the handler registered for the event type.
type Router struct {
	decoders *registry.DecoderRegistry
	handlers map[enums.OutboxEventType]Handler
	logg     *logger.Logger
}

type route struct {
	event   enums.OutboxEventType
	decode  registry.Decoder
	handler Handler
}

// NewRouter wires the order handlers. overrides may replace a known event's
// handler but cannot add events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	switch {
	case writer == nil:
		return nil, errors.New("writer is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}

	routes := []route{
		{enums.EventOrderRecorded, registry.JSON[payloads.OrderRecordedEvent](), newOrderRecordedHandler(writer, logg)},
		{enums.EventOrderPaymentUpdated, registry.JSON[payloads.OrderPaymentUpdatedEvent](), newOrderPaymentUpdatedHandler(writer, logg)},
	}
	r := &Router{
		decoders: registry.NewDecoderRegistry(),
		handlers: make(map[enums.OutboxEventType]Handler, len(routes)),
		logg:     logg,
	}
	for _, rt := range routes {
		if err := r.decoders.Register(rt.event, outbox.EnvelopeVersion, rt.decode); err != nil {
			return nil, err
		}
		r.handlers[rt.event] = rt.handler
		if custom := overrides[rt.event]; custom != nil {
			r.handlers[rt.event] = custom
		}
	}
	return r, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	version := envelope.Version
	if version == 0 {
		version = outbox.EnvelopeVersion
	}
	payload, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	return handler.Handle(ctx, envelope, payload)
}
