package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/threadline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	defaultKeyPrefix = "tl"
)

var endpoints = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Client takes card payments for a single Square location.
type Client struct {
	sdk         *sqclient.Client
	environment string
	locationID  string
	appID       string
	logger      *logger.Logger
}

// NewClient builds a Client from config. The access token and location id are required.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	location := strings.TrimSpace(cfg.LocationID)
	switch {
	case token == "":
		return nil, errors.New("square access token is required")
	case location == "":
		return nil, errors.New("square location id is required")
	}

	c := newClient(endpoints[env], token, location, logg)
	c.environment = env
	c.appID = strings.TrimSpace(cfg.ApplicationID)

	logg.Info(logg.WithFields(ctx, map[string]any{
		"square_env":  env,
		"location_id": location,
	}), "square.client_ready")
	return c, nil
}

func newClient(baseURL, token, locationID string, logg *logger.Logger) *Client {
	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(token),
	)
	return &Client{sdk: sdk, locationID: locationID, logger: logg}
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// ApplicationID is handed to the storefront so it can tokenize cards.
func (c *Client) ApplicationID() string {
	if c == nil {
		return ""
	}
	return c.appID
}

func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

// NewIdempotencyKey returns "<prefix>-<uuid>".
func (c *Client) NewIdempotencyKey(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return prefix + "-" + uuid.NewString()
}

// CreatePayment charges a card token and completes the payment in one call.
// Reusing IdempotencyKey returns the original payment instead of charging again.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	if strings.TrimSpace(params.SourceID) == "" {
		return nil, pkgerrors.Invalid("source_id", "square source token is required")
	}
	if params.AmountMinor <= 0 {
		return nil, pkgerrors.Invalid("amount", "payment amount must be positive")
	}
	key := params.IdempotencyKey
	if strings.TrimSpace(key) == "" {
		key = c.NewIdempotencyKey("payment")
	}

	ctx = c.scope(ctx, "create_payment", map[string]any{
		"reference_id": params.ReferenceID,
		"amount_minor": params.AmountMinor,
		"currency":     normalizeCurrency(params.Currency),
	})
	resp, err := c.sdk.Payments.Create(ctx, params.request(key, c.locationID))
	if err != nil {
		return nil, c.fail(ctx, "create payment", err)
	}
	return c.done(ctx, resp.GetPayment()), nil
}

// GetPayment reads a payment back by its Square id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.Invalid("payment_id", "square payment id is required")
	}
	ctx = c.scope(ctx, "get_payment", map[string]any{"payment_id": paymentID})
	resp, err := c.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	if err != nil {
		return nil, c.fail(ctx, "get payment", err)
	}
	return c.done(ctx, resp.GetPayment()), nil
}

// scope attaches the operation fields to ctx and logs the outbound call.
func (c *Client) scope(ctx context.Context, op string, fields map[string]any) context.Context {
	if c.logger == nil {
		return ctx
	}
	fields["square_op"] = op
	ctx = c.logger.WithFields(ctx, fields)
	c.logger.Debug(ctx, "square.request")
	return ctx
}

func (c *Client) done(ctx context.Context, payment *sq.Payment) *sq.Payment {
	if c.logger != nil {
		c.logger.Info(c.logger.WithFields(ctx, map[string]any{
			"payment_id":     deref(payment.GetID()),
			"payment_status": deref(payment.GetStatus()),
		}), "square.response")
	}
	return payment
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	mapped := translateError(op, err)
	if c.logger != nil {
		c.logger.Warn(c.logger.WithFields(ctx, map[string]any{
			"error_code": string(pkgerrors.CodeOf(mapped)),
			"error":      err.Error(),
		}), "square.error")
	}
	return mapped
}

// Square error categories and codes that decide the domain code ahead of the
// HTTP status. Codes are consulted before categories.
var (
	codeOverrides = map[sq.ErrorCode]pkgerrors.Code{
		sq.ErrorCodeIdempotencyKeyReused:   pkgerrors.CodeIdempotency,
		sq.ErrorCode("CARD_DECLINED"):      pkgerrors.CodePayment,
		sq.ErrorCode("INSUFFICIENT_FUNDS"): pkgerrors.CodePayment,
	}
	categoryOverrides = map[sq.ErrorCategory]pkgerrors.Code{
		sq.ErrorCategoryAuthenticationError:      pkgerrors.CodeUnauthorized,
		sq.ErrorCategory("PAYMENT_METHOD_ERROR"): pkgerrors.CodePayment,
		sq.ErrorCategory("RATE_LIMIT_ERROR"):     pkgerrors.CodeDependency,
	}
)

// translateError maps an SDK failure onto a domain error. Transport failures
// (no API response) are dependency errors.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("square %s failed", op)
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}

	details := apiErrors(apiErr)
	code := statusCode(apiErr.StatusCode)
	if override, ok := overrideFor(details); ok {
		code = override
	}
	wrapped := pkgerrors.Wrap(code, err, msg)
	if len(details) > 0 && details[0] != nil {
		wrapped = wrapped.WithDetails(map[string]any{
			"square_code":     string(details[0].Code),
			"square_category": string(details[0].Category),
		})
	}
	return wrapped
}

func overrideFor(details []*sq.Error) (pkgerrors.Code, bool) {
	for _, d := range details {
		if d == nil {
			continue
		}
		if code, ok := codeOverrides[d.Code]; ok {
			return code, true
		}
	}
	for _, d := range details {
		if d == nil {
			continue
		}
		if code, ok := categoryOverrides[d.Category]; ok {
			return code, true
		}
	}
	return "", false
}

// apiErrors decodes the {"errors": [...]} body the SDK keeps as the wrapped error.
func apiErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body); err != nil {
		return nil
	}
	return body.Errors
}

func statusCode(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusPaymentRequired:
		return pkgerrors.CodePayment
	case status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return pkgerrors.CodeDependency
	case status >= http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func normalizeEnv(raw string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return sandboxEnv, nil
	}
	if _, ok := endpoints[env]; !ok {
		return "", fmt.Errorf("square environment must be %q or %q, got %q", sandboxEnv, productionEnv, raw)
	}
	return env, nil
}
