package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

// OrderItem is the flat projection of a cart line stored inside an order.
type OrderItem struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Size     string          `json:"size"`
	ImageURL string          `json:"image_url"`
	Category string          `json:"category"`
}

// OrderPayment is the payment outcome embedded in an order.
type OrderPayment struct {
	Status    enums.PaymentStatus   `json:"status"`
	Provider  enums.PaymentProvider `json:"provider"`
	Reference string                `json:"reference"`
	Raw       json.RawMessage       `json:"raw,omitempty"`
}

// OrderDetails is the JSON document persisted in order_history.order_details.
type OrderDetails struct {
	Items    []OrderItem           `json:"items"`
	Shipping types.ShippingDetails `json:"shipping"`
	Payment  OrderPayment          `json:"payment"`
}

// Order is an immutable purchase record. PaymentStatus duplicates
// OrderDetails.Payment.Status so back-office queries can filter on it.
type Order struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID         *uuid.UUID          `gorm:"column:user_id;type:uuid"`
	OrderTotal     decimal.Decimal     `gorm:"column:order_total;type:numeric(12,2);not null"`
	OrderDetails   OrderDetails        `gorm:"column:order_details;type:jsonb;serializer:json;not null"`
	ReferenceID    string              `gorm:"column:reference_id;not null"`
	DeliveryPrice  decimal.Decimal     `gorm:"column:delivery_price;type:numeric(12,2);not null"`
	PaymentStatus  enums.PaymentStatus `gorm:"column:payment_status;not null"`
	IdempotencyKey string              `gorm:"column:idempotency_key;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (Order) TableName() string { return "order_history" }
