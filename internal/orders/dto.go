package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

// OrderPaymentDTO is the payment section of an order response. The raw processor payload
// stays server side.
type OrderPaymentDTO struct {
	Status    enums.PaymentStatus   `json:"status"`
	Provider  enums.PaymentProvider `json:"provider"`
	Reference string                `json:"reference"`
}

// OrderDTO is the order shape returned to shoppers and admins.
type OrderDTO struct {
	ID            uuid.UUID             `json:"id"`
	UserID        *uuid.UUID            `json:"user_id,omitempty"`
	OrderTotal    decimal.Decimal       `json:"order_total"`
	DeliveryPrice decimal.Decimal       `json:"delivery_price"`
	ReferenceID   string                `json:"reference_id"`
	PaymentStatus enums.PaymentStatus   `json:"payment_status"`
	Items         []models.OrderItem    `json:"items"`
	Shipping      types.ShippingDetails `json:"shipping"`
	Payment       OrderPaymentDTO       `json:"payment"`
	CreatedAt     time.Time             `json:"created_at"`
}

// NewOrderDTO maps a stored order.
func NewOrderDTO(order models.Order) OrderDTO {
	items := order.OrderDetails.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	return OrderDTO{
		ID:            order.ID,
		UserID:        order.UserID,
		OrderTotal:    order.OrderTotal,
		DeliveryPrice: order.DeliveryPrice,
		ReferenceID:   order.ReferenceID,
		PaymentStatus: order.PaymentStatus,
		Items:         items,
		Shipping:      order.OrderDetails.Shipping,
		Payment: OrderPaymentDTO{
			Status:    order.OrderDetails.Payment.Status,
			Provider:  order.OrderDetails.Payment.Provider,
			Reference: order.OrderDetails.Payment.Reference,
		},
		CreatedAt: order.CreatedAt,
	}
}

// RecordResult is the outcome of Record. Duplicate is set when the idempotency key
// already had an order and no new row was written.
type RecordResult struct {
	Order     OrderDTO `json:"order"`
	Duplicate bool     `json:"duplicate"`
}

// LatestOrderDTO is the most recent order shown on the admin dashboard.
type LatestOrderDTO struct {
	ID          uuid.UUID       `json:"id"`
	OrderTotal  decimal.Decimal `json:"order_total"`
	ReferenceID string          `json:"reference_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StatsDTO backs the admin dashboard. Orders and Revenue cover the most recent
// StatsWindow orders.
type StatsDTO struct {
	Products    int64           `json:"products"`
	Orders      int             `json:"orders"`
	Revenue     decimal.Decimal `json:"revenue"`
	LatestOrder *LatestOrderDTO `json:"latest_order,omitempty"`
}
