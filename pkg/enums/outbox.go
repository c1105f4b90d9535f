package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateProduct OutboxAggregateType = "product"
)

var aggregateTypes = newSet("aggregate type", AggregateOrder, AggregateProduct)

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return aggregateTypes.parse(value)
}

// OutboxEventType maps to the event_type column of outbox_events. Each type has
// exactly one payload shape in pkg/outbox/payloads.
type OutboxEventType string

const (
	EventOrderRecorded       OutboxEventType = "order_recorded"
	EventOrderPaymentUpdated OutboxEventType = "order_payment_updated"
)

var outboxEventTypes = newSet("event type", EventOrderRecorded, EventOrderPaymentUpdated)

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.has(e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return outboxEventTypes.parse(value)
}

// OutboxDLQErrorReason records why an event left the outbox without being published.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonUnknownEvent OutboxDLQErrorReason = "unknown_event"
)

var dlqReasons = newSet("dlq reason", OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUnknownEvent)

func (r OutboxDLQErrorReason) IsValid() bool { return dlqReasons.has(r) }
