package checkoutcontrollers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/api/middleware"
	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/checkout"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

type stubCheckout struct {
	session  checkout.Session
	details  types.ShippingDetails
	decision enums.ProfileDecision
	payload  json.RawMessage
	input    checkout.ConfirmInput
	err      error
}

func (s *stubCheckout) view(session checkout.Session) (*checkout.View, error) {
	s.session = session
	if s.err != nil {
		return nil, s.err
	}
	return &checkout.View{ID: "attempt-1", Stage: enums.CheckoutStageShipping}, nil
}

func (s *stubCheckout) Get(ctx context.Context, session checkout.Session) (*checkout.View, error) {
	return s.view(session)
}

func (s *stubCheckout) Begin(ctx context.Context, session checkout.Session) (*checkout.View, error) {
	return s.view(session)
}

func (s *stubCheckout) SubmitShipping(ctx context.Context, session checkout.Session, details types.ShippingDetails) (*checkout.ShippingResult, error) {
	s.details = details
	view, err := s.view(session)
	if err != nil {
		return nil, err
	}
	return &checkout.ShippingResult{View: view, Prompt: enums.ProfilePromptSave}, nil
}

func (s *stubCheckout) SaveShippingProfile(ctx context.Context, session checkout.Session, decision enums.ProfileDecision) (*checkout.View, error) {
	s.decision = decision
	return s.view(session)
}

func (s *stubCheckout) Back(ctx context.Context, session checkout.Session) (*checkout.View, error) {
	return s.view(session)
}

func (s *stubCheckout) StartPayment(ctx context.Context, session checkout.Session) (*checkout.PaymentLaunch, error) {
	view, err := s.view(session)
	if err != nil {
		return nil, err
	}
	return &checkout.PaymentLaunch{View: view}, nil
}

func (s *stubCheckout) PaymentSucceeded(ctx context.Context, session checkout.Session, payload json.RawMessage) (*checkout.View, error) {
	s.payload = payload
	return s.view(session)
}

func (s *stubCheckout) PaymentCancelled(ctx context.Context, session checkout.Session, payload json.RawMessage) (*checkout.View, error) {
	s.payload = payload
	return s.view(session)
}

func (s *stubCheckout) Confirm(ctx context.Context, session checkout.Session, input checkout.ConfirmInput) (*checkout.ConfirmResult, error) {
	s.input = input
	view, err := s.view(session)
	if err != nil {
		return nil, err
	}
	return &checkout.ConfirmResult{View: view, OrderID: uuid.New(), Next: checkout.OrdersRoute}, nil
}

func withSession(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithCartSession(req.Context(), "sess-9"))
}

const shippingBody = `{"first_name":"Ada","last_name":"Obi","email":"ada.obi@example.com","phone":"+2348000000000","address":"12 Marina Road","city":"Lagos","state":"Lagos","country":"Nigeria","zip":"100001"}`

func TestShippingDecodesDetails(t *testing.T) {
	svc := &stubCheckout{}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/shipping", strings.NewReader(shippingBody)))
	rec := httptest.NewRecorder()

	Shipping(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.details.City != "Lagos" || svc.session.ID != "sess-9" {
		t.Fatalf("unexpected call details=%+v session=%+v", svc.details, svc.session)
	}
	var env struct {
		Data checkout.ShippingResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.Prompt != enums.ProfilePromptSave {
		t.Fatalf("expected save prompt, got %q", env.Data.Prompt)
	}
}

func TestShippingRejectsMissingFields(t *testing.T) {
	svc := &stubCheckout{}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/shipping", strings.NewReader(`{"first_name":"Ada"}`)))
	rec := httptest.NewRecorder()

	Shipping(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestShippingProfileValidatesDecision(t *testing.T) {
	svc := &stubCheckout{}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/shipping/profile", strings.NewReader(`{"decision":"maybe"}`)))
	rec := httptest.NewRecorder()
	ShippingProfile(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	req = withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/shipping/profile", strings.NewReader(`{"decision":"decline"}`)))
	rec = httptest.NewRecorder()
	ShippingProfile(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.decision != enums.ProfileDecisionDecline {
		t.Fatalf("expected decline to pass, got %d %q", rec.Code, svc.decision)
	}
}

func TestPaymentCallbackForwardsPayload(t *testing.T) {
	svc := &stubCheckout{}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/payment/success", strings.NewReader(` {"reference":"ref-1"} `)))
	rec := httptest.NewRecorder()

	PaymentSuccess(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if string(svc.payload) != `{"reference":"ref-1"}` {
		t.Fatalf("unexpected payload %s", svc.payload)
	}
}

func TestPaymentCallbackEmptyBody(t *testing.T) {
	svc := &stubCheckout{}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/payment/cancel", nil))
	rec := httptest.NewRecorder()

	PaymentCancel(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.payload != nil {
		t.Fatalf("expected nil payload, got %s", svc.payload)
	}
}

func TestPaymentCallbackRejectsNonJSON(t *testing.T) {
	svc := &stubCheckout{}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/payment/success", strings.NewReader("reference=abc")))
	rec := httptest.NewRecorder()

	PaymentSuccess(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConfirmPassesIdentity(t *testing.T) {
	svc := &stubCheckout{}
	identity := &auth.Identity{UserID: uuid.New()}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout/confirm", strings.NewReader(`{"confirm":true}`)))
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()

	Confirm(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !svc.input.Confirm || svc.session.Identity == nil || svc.session.Identity.UserID != identity.UserID {
		t.Fatalf("unexpected confirm call input=%+v session=%+v", svc.input, svc.session)
	}
}

func TestBeginStateConflict(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeStateConflict, "cart is empty")}
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/checkout", nil))
	rec := httptest.NewRecorder()

	Begin(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
