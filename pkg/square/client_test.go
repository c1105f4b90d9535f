package square

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/threadline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

func TestNewIdempotencyKey(t *testing.T) {
	c := &Client{}
	assert.True(t, strings.HasPrefix(c.NewIdempotencyKey("refund"), "refund-"))
	assert.True(t, strings.HasPrefix(c.NewIdempotencyKey("  "), defaultKeyPrefix+"-"))
	assert.NotEqual(t, c.NewIdempotencyKey("x"), c.NewIdempotencyKey("x"))
}

func TestTranslateError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   pkgerrors.Code
	}{
		{"auth category", http.StatusUnauthorized, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`, pkgerrors.CodeUnauthorized},
		{"declined card", http.StatusBadRequest, `{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED"}]}`, pkgerrors.CodePayment},
		{"key reused beats category", http.StatusBadRequest, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"BAD_REQUEST"},{"category":"INVALID_REQUEST_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`, pkgerrors.CodeIdempotency},
		{"rate limited", http.StatusBadRequest, `{"errors":[{"category":"RATE_LIMIT_ERROR","code":"RATE_LIMITED"}]}`, pkgerrors.CodeDependency},
		{"status only", http.StatusNotFound, `not json`, pkgerrors.CodeNotFound},
		{"server error", http.StatusBadGateway, ``, pkgerrors.CodeDependency},
		{"unprocessable", http.StatusUnprocessableEntity, `{}`, pkgerrors.CodeStateConflict},
		{"other 4xx", http.StatusRequestEntityTooLarge, `{}`, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := translateError("op", sqcore.NewAPIError(tc.status, errors.New(tc.body)))
			assert.Equal(t, tc.want, pkgerrors.CodeOf(err))
		})
	}
}

func TestTranslateErrorKeepsSquareDetails(t *testing.T) {
	err := translateError("create payment", sqcore.NewAPIError(http.StatusPaymentRequired,
		errors.New(`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"INSUFFICIENT_FUNDS"}]}`)))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, "square create payment failed", typed.Message())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INSUFFICIENT_FUNDS", details["square_code"])
	assert.Equal(t, "PAYMENT_METHOD_ERROR", details["square_category"])
}

func TestTranslateErrorTransportFailure(t *testing.T) {
	assert.NoError(t, translateError("op", nil))
	err := translateError("op", errors.New("dial tcp: connection refused"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestCreatePaymentAgainstSquareAPI(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v2/payments"), r.URL.Path)
		assert.Equal(t, "Bearer sq-token", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"payment":{"id":"pay_123","status":"COMPLETED","reference_id":"attempt-1"}}`)
	}))
	defer srv.Close()

	c := newClient(srv.URL, "sq-token", "LOC1", logger.Nop())
	payment, err := c.CreatePayment(context.Background(), PaymentCreateParams{
		AmountMinor:    500000,
		Currency:       "ngn",
		SourceID:       "cnon:card-nonce-ok",
		IdempotencyKey: "attempt-1",
		ReferenceID:    "attempt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_123", deref(payment.GetID()))

	assert.Equal(t, "attempt-1", body["idempotency_key"])
	assert.Equal(t, "LOC1", body["location_id"])
	assert.Equal(t, "cnon:card-nonce-ok", body["source_id"])
	assert.Equal(t, true, body["autocomplete"])
	money, _ := body["amount_money"].(map[string]any)
	assert.Equal(t, "NGN", money["currency"])
	assert.EqualValues(t, 500000, money["amount"])
}

func TestCreatePaymentValidatesInput(t *testing.T) {
	c := newClient("http://127.0.0.1:0", "sq-token", "LOC1", logger.Nop())
	_, err := c.CreatePayment(context.Background(), PaymentCreateParams{AmountMinor: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = c.CreatePayment(context.Background(), PaymentCreateParams{SourceID: "cnon:ok"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = c.GetPayment(context.Background(), " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.SquareConfig{LocationID: "LOC1"}, logger.Nop())
	assert.ErrorContains(t, err, "access token")

	_, err = NewClient(ctx, config.SquareConfig{AccessToken: "tok"}, logger.Nop())
	assert.ErrorContains(t, err, "location id")

	_, err = NewClient(ctx, config.SquareConfig{AccessToken: "tok", LocationID: "LOC1"}, nil)
	assert.Error(t, err)
}

func TestNormalizeEnv(t *testing.T) {
	env, err := normalizeEnv(" Production ")
	require.NoError(t, err)
	assert.Equal(t, productionEnv, env)

	env, err = normalizeEnv("")
	require.NoError(t, err)
	assert.Equal(t, sandboxEnv, env)

	_, err = normalizeEnv("staging")
	assert.ErrorContains(t, err, "staging")
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "USD", normalizeCurrency(""))
	assert.Equal(t, "GBP", normalizeCurrency(" gbp "))
	assert.Nil(t, optional("  "))
	assert.Equal(t, "x", *optional(" x "))
}
