package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/threadline-backend/pkg/config"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

// PaystackSignatureHeader carries the HMAC-SHA512 of a webhook body.
const PaystackSignatureHeader = "X-Paystack-Signature"

const (
	paystackVerifyAttempts = 3
	paystackVerifyBackoff  = 250 * time.Millisecond
)

// PaystackAdapter normalizes Paystack inline callbacks and optionally verifies them
// server side.
type PaystackAdapter struct {
	cfg    config.PaystackConfig
	client *http.Client
	logg   *logger.Logger
}

// NewPaystackAdapter builds the adapter. A nil httpClient uses a 10s timeout client.
func NewPaystackAdapter(cfg config.PaystackConfig, httpClient *http.Client, logg *logger.Logger) (*PaystackAdapter, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.PublicKey) == "" {
		return nil, fmt.Errorf("paystack public key required")
	}
	if cfg.VerifyTransactions && strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("paystack secret key required to verify transactions")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	return &PaystackAdapter{cfg: cfg, client: httpClient, logg: logg}, nil
}

func (a *PaystackAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPaystack
}

func (a *PaystackAdapter) Launch(_ context.Context, input LaunchInput) (*LaunchParams, error) {
	if strings.TrimSpace(input.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	return &LaunchParams{
		Provider:    enums.PaymentProviderPaystack,
		PublicKey:   a.cfg.PublicKey,
		Email:       strings.TrimSpace(input.Email),
		AmountMinor: MinorUnits(input.Total),
		Currency:    normalizeCurrency(input.Currency),
		Reference:   input.Reference,
	}, nil
}

// Normalize maps an inline callback payload onto an Outcome. The reference is read from
// the top level or from data.reference.
func (a *PaystackAdapter) Normalize(ctx context.Context, input NormalizeInput) (*Outcome, error) {
	reference := ExtractPaystackReference(input.Payload)
	outcome := &Outcome{
		ID:        input.OutcomeID,
		Provider:  enums.PaymentProviderPaystack,
		Reference: reference,
		Raw:       input.Payload,
	}

	switch input.Kind {
	case KindCancel:
		outcome.Status = enums.PaymentStatusCancelled
		return outcome, nil
	case KindSuccess:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment callback %q", input.Kind))
	}

	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference missing from callback")
	}
	if reference != input.OutcomeID {
		a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
			"reference":  reference,
			"outcome_id": input.OutcomeID,
		}), "payment.paystack.reference_mismatch")
	}

	outcome.Status = enums.PaymentStatusSuccessful
	if !a.cfg.VerifyTransactions {
		return outcome, nil
	}

	verified, err := a.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	outcome.Status = verified.Status
	if verified.AmountMinor > 0 && input.AmountMinor > 0 && verified.AmountMinor != input.AmountMinor {
		a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
			"reference": reference,
			"expected":  input.AmountMinor,
			"charged":   verified.AmountMinor,
		}), "payment.paystack.amount_mismatch")
		outcome.Status = enums.PaymentStatusFailed
	}
	return outcome, nil
}

// PaystackVerification is the relevant part of GET /transaction/verify/:reference.
type PaystackVerification struct {
	Reference   string
	Status      enums.PaymentStatus
	AmountMinor int64
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// Verify asks Paystack for the authoritative state of reference. Transport errors and
// 5xx responses are retried.
func (a *PaystackAdapter) Verify(ctx context.Context, reference string) (*PaystackVerification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/transaction/verify/" + url.PathEscape(reference)

	var body paystackVerifyResponse
	backoff := retry.WithMaxRetries(paystackVerifyAttempts-1, retry.NewExponential(paystackVerifyBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.SecretKey)
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("paystack verify returned %d", resp.StatusCode))
		}
		if resp.StatusCode == http.StatusNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment reference not found")
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("paystack verify returned %d", resp.StatusCode)
		}
		return json.Unmarshal(raw, &body)
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		a.logg.Error(a.logg.WithField(ctx, "reference", reference), "payment.paystack.verify_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify paystack transaction")
	}

	return &PaystackVerification{
		Reference:   body.Data.Reference,
		Status:      paystackStatus(body.Data.Status),
		AmountMinor: body.Data.Amount,
	}, nil
}

// CheckStatus implements StatusChecker through the verify endpoint.
func (a *PaystackAdapter) CheckStatus(ctx context.Context, reference string) (enums.PaymentStatus, error) {
	if strings.TrimSpace(a.cfg.SecretKey) == "" {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "paystack secret key not configured")
	}
	verified, err := a.Verify(ctx, reference)
	if err != nil {
		return "", err
	}
	return verified.Status, nil
}

func paystackStatus(raw string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return enums.PaymentStatusSuccessful
	case "abandoned", "reversed":
		return enums.PaymentStatusCancelled
	case "failed":
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

// ExtractPaystackReference reads reference from the top level or from data.reference.
// Each level is checked on its own: a field of the wrong type is skipped, not fatal.
func ExtractPaystackReference(payload json.RawMessage) string {
	top := jsonObject(payload)
	if ref := jsonString(top["reference"]); ref != "" {
		return ref
	}
	return jsonString(jsonObject(top["data"])["reference"])
}

func jsonObject(raw json.RawMessage) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return nil
	}
	return fields
}

func jsonString(raw json.RawMessage) string {
	var value string
	if len(raw) == 0 || json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

// ValidPaystackSignature checks the hex HMAC-SHA512 of body under secret.
func ValidPaystackSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
