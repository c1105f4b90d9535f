package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/threadline-backend/pkg/enums"
)

// OrderRecordedItem is one purchased line inside an OrderRecordedEvent.
type OrderRecordedItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderRecordedEvent is emitted in the same transaction that inserts an order.
type OrderRecordedEvent struct {
	OrderID         uuid.UUID             `json:"order_id"`
	UserID          *uuid.UUID            `json:"user_id,omitempty"`
	OrderTotal      decimal.Decimal       `json:"order_total"`
	PaymentStatus   enums.PaymentStatus   `json:"payment_status"`
	Provider        enums.PaymentProvider `json:"provider"`
	ReferenceID     string                `json:"reference_id"`
	Items           []OrderRecordedItem   `json:"items"`
	ShippingCity    string                `json:"shipping_city"`
	ShippingState   string                `json:"shipping_state"`
	ShippingCountry string                `json:"shipping_country"`
	RecordedAt      time.Time             `json:"recorded_at"`
}

// OrderPaymentUpdatedEvent is emitted when an order's payment status changes after it was recorded.
type OrderPaymentUpdatedEvent struct {
	OrderID        uuid.UUID           `json:"order_id"`
	PreviousStatus enums.PaymentStatus `json:"previous_status"`
	PaymentStatus  enums.PaymentStatus `json:"payment_status"`
	ReferenceID    string              `json:"reference_id"`
	Source         string              `json:"source"`
	UpdatedAt      time.Time           `json:"updated_at"`
}
