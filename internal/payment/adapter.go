package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/threadline-backend/pkg/config"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/square"
)

// Kind is the processor callback being normalized.
type Kind string

const (
	KindSuccess Kind = "success"
	KindCancel  Kind = "cancel"
)

// Outcome is the normalized result of one payment attempt. ID doubles as the order
// idempotency key and as the reference handed to the processor.
type Outcome struct {
	ID        string                `json:"id"`
	Status    enums.PaymentStatus   `json:"status"`
	Provider  enums.PaymentProvider `json:"provider"`
	Reference string                `json:"reference,omitempty"`
	Raw       json.RawMessage       `json:"raw,omitempty"`
	Persisted bool                  `json:"persisted"`
	OrderID   *uuid.UUID            `json:"order_id,omitempty"`
}

// NewPendingOutcome starts an attempt with a fresh id.
func NewPendingOutcome(provider enums.PaymentProvider) *Outcome {
	return &Outcome{
		ID:       uuid.NewString(),
		Status:   enums.PaymentStatusPending,
		Provider: provider,
	}
}

// LaunchInput carries what the storefront needs to open the processor widget.
type LaunchInput struct {
	Total     decimal.Decimal
	Email     string
	Reference string
	Currency  string
}

// LaunchParams are returned to the client to open the processor widget.
type LaunchParams struct {
	Provider      enums.PaymentProvider `json:"provider"`
	PublicKey     string                `json:"public_key,omitempty"`
	ApplicationID string                `json:"application_id,omitempty"`
	LocationID    string                `json:"location_id,omitempty"`
	Email         string                `json:"email"`
	AmountMinor   int64                 `json:"amount"`
	Currency      string                `json:"currency"`
	Reference     string                `json:"reference"`
}

// NormalizeInput is a raw processor callback plus the attempt it belongs to.
type NormalizeInput struct {
	Kind        Kind
	OutcomeID   string
	AmountMinor int64
	Currency    string
	Email       string
	Payload     json.RawMessage
}

// Adapter is the single integration boundary with a payment processor.
type Adapter interface {
	Provider() enums.PaymentProvider
	Launch(ctx context.Context, input LaunchInput) (*LaunchParams, error)
	Normalize(ctx context.Context, input NormalizeInput) (*Outcome, error)
}

// StatusChecker asks the processor for the authoritative status of a recorded
// reference. Both adapters implement it; the cron worker uses it to settle orders
// whose callback never confirmed the charge.
type StatusChecker interface {
	Provider() enums.PaymentProvider
	CheckStatus(ctx context.Context, reference string) (enums.PaymentStatus, error)
}

// MinorUnits converts a major-unit total into the processor's minor units (total × 100).
func MinorUnits(total decimal.Decimal) int64 {
	return total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// NewAdapter returns the adapter selected by cfg.Payment.
func NewAdapter(cfg config.Config, squareClient *square.Client, logg *logger.Logger) (Adapter, error) {
	switch cfg.Payment.Name() {
	case config.PaymentProviderPaystack:
		adapter, err := NewPaystackAdapter(cfg.Paystack, nil, logg)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case config.PaymentProviderSquare:
		if squareClient == nil {
			return nil, fmt.Errorf("square client required for square payments")
		}
		adapter, err := NewSquareAdapter(squareClient, logg)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Payment.Provider)
	}
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "NGN"
	}
	return code
}
