package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderFactRow mirrors the order_facts BigQuery schema. Recorded and payment
// update events share the table; columns an event does not carry stay NULL.
type OrderFactRow struct {
	EventID         string             `bigquery:"event_id"`
	EventType       string             `bigquery:"event_type"`
	OccurredAt      time.Time          `bigquery:"occurred_at"`
	OrderID         string             `bigquery:"order_id"`
	UserID          *string            `bigquery:"user_id"`
	PaymentStatus   string             `bigquery:"payment_status"`
	PreviousStatus  *string            `bigquery:"previous_status"`
	Provider        *string            `bigquery:"provider"`
	ReferenceID     *string            `bigquery:"reference_id"`
	OrderTotal      *big.Rat           `bigquery:"order_total"`
	ItemCount       *int64             `bigquery:"item_count"`
	Items           cbigquery.NullJSON `bigquery:"items"`
	ShippingCity    *string            `bigquery:"shipping_city"`
	ShippingState   *string            `bigquery:"shipping_state"`
	ShippingCountry *string            `bigquery:"shipping_country"`
	Source          *string            `bigquery:"source"`
}
