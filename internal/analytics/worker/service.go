package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/internal/analytics/router"
	"github.com/angelmondragon/threadline-backend/internal/analytics/types"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/metrics"
	"github.com/angelmondragon/threadline-backend/pkg/outbox"
)

const analyticsConsumerName = "order-analytics"

// Handler turns one order envelope into analytics rows.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type eventClaimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// ServiceParams wires the analytics worker. Metrics is optional.
type ServiceParams struct {
	Subscription *gcppubsub.Subscriber
	Handler      Handler
	Guard        eventClaimer
	Logger       *logger.Logger
	Metrics      *metrics.AnalyticsMetrics
}

// Service consumes order events from Pub/Sub. Each event id is claimed in Redis
// before it is handled, so redeliveries do not produce duplicate fact rows.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	guard        eventClaimer
	logg         *logger.Logger
	metrics      *metrics.AnalyticsMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case params.Handler == nil:
		return nil, errors.New("analytics handler is required")
	case params.Guard == nil:
		return nil, errors.New("idempotency guard is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: params.Subscription,
		handler:      params.Handler,
		guard:        params.Guard,
		logg:         params.Logger,
		metrics:      params.Metrics,
	}, nil
}

type processResult struct {
	nack      bool
	outcome   string
	eventType enums.OutboxEventType
}

func ack(outcome string, eventType enums.OutboxEventType) processResult {
	return processResult{outcome: outcome, eventType: eventType}
}

func retry(eventType enums.OutboxEventType) processResult {
	return processResult{nack: true, outcome: metrics.AnalyticsRetried, eventType: eventType}
}

// Run receives messages until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		res := s.process(msgCtx, msg)
		s.metrics.ObserveMessage(string(res.eventType), res.outcome)
		if res.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process never panics on bad input: malformed messages are acked and dropped,
// while infrastructure failures are nacked for redelivery.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := s.buildEnvelope(msg)
	if err != nil {
		warnCtx := s.logg.WithField(ctx, "error", err.Error())
		if errors.Is(err, outbox.ErrUnsupportedVersion) {
			// A newer release wrote it; leave it for a worker that can read it.
			s.logg.Warn(warnCtx, "analytics envelope version not supported yet")
			return retry("")
		}
		s.logg.Warn(warnCtx, "invalid analytics envelope")
		return ack(metrics.AnalyticsDropped, "")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(ctx, "invalid event id")
		return ack(metrics.AnalyticsDropped, envelope.EventType)
	}

	first, err := s.guard.Claim(ctx, analyticsConsumerName, eventID)
	if err != nil {
		s.logg.Error(ctx, "idempotency check failed", err)
		return retry(envelope.EventType)
	}
	if !first {
		s.logg.Info(ctx, "event already processed")
		return ack(metrics.AnalyticsDuplicate, envelope.EventType)
	}

	if err := s.handler.Handle(ctx, *envelope); err != nil {
		if errors.Is(err, router.ErrUnsupportedEventType) {
			s.logg.Warn(ctx, "unsupported analytics event")
			return ack(metrics.AnalyticsDropped, envelope.EventType)
		}
		s.logg.Error(ctx, "handler error", err)
		if releaseErr := s.guard.Release(context.WithoutCancel(ctx), analyticsConsumerName, eventID); releaseErr != nil {
			s.logg.Error(ctx, "release idempotency claim", releaseErr)
		}
		return retry(envelope.EventType)
	}

	if !envelope.OccurredAt.IsZero() {
		s.metrics.ObserveLag(time.Since(envelope.OccurredAt))
	}
	s.logg.Info(ctx, "analytics event handled")
	return ack(metrics.AnalyticsHandled, envelope.EventType)
}

// buildEnvelope combines the message body with its attributes. The attributes are
// authoritative for routing; the body supplies the payload and event time.
func (s *Service) buildEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return nil, err
	}
	attr := func(key string) string {
		return strings.TrimSpace(msg.Attributes[key])
	}

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("occurred_at")); err == nil {
			occurredAt = parsed
		}
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attr("event_id")
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	return &types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       stored.Version,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}
