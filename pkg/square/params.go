package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

const defaultCurrency = "USD"

// PaymentCreateParams describes one card charge. AmountMinor is in the currency's
// smallest unit.
type PaymentCreateParams struct {
	AmountMinor    int64
	Currency       string
	SourceID       string
	IdempotencyKey string
	ReferenceID    string
	BuyerEmail     string
	Note           string
}

func (p PaymentCreateParams) request(idempotencyKey, locationID string) *sq.CreatePaymentRequest {
	amount := p.AmountMinor
	currency := sq.Currency(normalizeCurrency(p.Currency))
	autocomplete := true
	return &sq.CreatePaymentRequest{
		IdempotencyKey:    idempotencyKey,
		SourceID:          p.SourceID,
		LocationID:        optional(locationID),
		Autocomplete:      &autocomplete,
		AmountMoney:       &sq.Money{Amount: &amount, Currency: &currency},
		ReferenceID:       optional(p.ReferenceID),
		BuyerEmailAddress: optional(p.BuyerEmail),
		Note:              optional(p.Note),
	}
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return defaultCurrency
	}
	return code
}

// optional returns nil for blank values so they are omitted from the request.
func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
