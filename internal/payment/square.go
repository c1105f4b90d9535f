package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/square"
)

type squarePayments interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	ApplicationID() string
	LocationID() string
}

// SquareAdapter charges Web Payments source tokens through the Square SDK.
type SquareAdapter struct {
	client squarePayments
	logg   *logger.Logger
}

func NewSquareAdapter(client squarePayments, logg *logger.Logger) (*SquareAdapter, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &SquareAdapter{client: client, logg: logg}, nil
}

func (a *SquareAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (a *SquareAdapter) Launch(_ context.Context, input LaunchInput) (*LaunchParams, error) {
	if strings.TrimSpace(input.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	return &LaunchParams{
		Provider:      enums.PaymentProviderSquare,
		ApplicationID: a.client.ApplicationID(),
		LocationID:    a.client.LocationID(),
		Email:         strings.TrimSpace(input.Email),
		AmountMinor:   MinorUnits(input.Total),
		Currency:      normalizeCurrency(input.Currency),
		Reference:     input.Reference,
	}, nil
}

type squareCallback struct {
	SourceID string `json:"source_id"`
}

// Normalize creates the payment for a success callback. The outcome id is the Square
// idempotency key so a retried callback never charges twice. Declined cards yield a
// failed outcome rather than an error.
func (a *SquareAdapter) Normalize(ctx context.Context, input NormalizeInput) (*Outcome, error) {
	outcome := &Outcome{
		ID:       input.OutcomeID,
		Provider: enums.PaymentProviderSquare,
		Raw:      input.Payload,
	}
	switch input.Kind {
	case KindCancel:
		outcome.Status = enums.PaymentStatusCancelled
		return outcome, nil
	case KindSuccess:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment callback %q", input.Kind))
	}

	var cb squareCallback
	if len(input.Payload) > 0 {
		if err := json.Unmarshal(input.Payload, &cb); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid square callback")
		}
	}
	if strings.TrimSpace(cb.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square source token is required")
	}
	// the source token is single use; keep it out of the stored payload
	outcome.Raw = nil

	payment, err := a.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountMinor:    input.AmountMinor,
		Currency:       input.Currency,
		SourceID:       cb.SourceID,
		IdempotencyKey: input.OutcomeID,
		ReferenceID:    input.OutcomeID,
		BuyerEmail:     input.Email,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodePayment) {
			a.logg.Warn(a.logg.WithField(ctx, "outcome_id", input.OutcomeID), "payment.square.declined")
			outcome.Status = enums.PaymentStatusFailed
			outcome.Reference = input.OutcomeID
			return outcome, nil
		}
		return nil, err
	}

	outcome.Reference = derefString(payment.GetID())
	outcome.Status = squareStatus(derefString(payment.GetStatus()))
	if raw, err := json.Marshal(map[string]string{
		"payment_id": outcome.Reference,
		"status":     derefString(payment.GetStatus()),
	}); err == nil {
		outcome.Raw = raw
	}
	return outcome, nil
}

// CheckStatus implements StatusChecker. reference is the Square payment id.
func (a *SquareAdapter) CheckStatus(ctx context.Context, reference string) (enums.PaymentStatus, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	payment, err := a.client.GetPayment(ctx, reference)
	if err != nil {
		return "", err
	}
	return squareStatus(derefString(payment.GetStatus())), nil
}

func squareStatus(raw string) enums.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED", "APPROVED":
		return enums.PaymentStatusSuccessful
	case "CANCELED":
		return enums.PaymentStatusCancelled
	case "FAILED":
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
