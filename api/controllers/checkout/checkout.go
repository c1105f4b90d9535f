package checkoutcontrollers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/threadline-backend/api/middleware"
	"github.com/angelmondragon/threadline-backend/api/responses"
	"github.com/angelmondragon/threadline-backend/api/validators"
	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/checkout"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

const maxCallbackBody = 64 << 10

type profileRequest struct {
	Decision enums.ProfileDecision `json:"decision" validate:"required,oneof=save update decline"`
}

func sessionFromRequest(r *http.Request) checkout.Session {
	return checkout.Session{
		ID:       middleware.CartSessionFromContext(r.Context()),
		Identity: auth.IdentityFromContext(r.Context()),
	}
}

func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
}

type viewFunc func(ctx context.Context, session checkout.Session) (*checkout.View, error)

func viewHandler(call viewFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if call == nil {
			unavailable(w, r, logg)
			return
		}
		view, err := call(r.Context(), sessionFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Get returns the current checkout attempt of the session.
func Get(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return viewHandler(nil, logg)
	}
	return viewHandler(svc.Get, logg)
}

// Begin enters checkout, or resumes the open attempt.
func Begin(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return viewHandler(nil, logg)
	}
	return viewHandler(svc.Begin, logg)
}

func Back(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return viewHandler(nil, logg)
	}
	return viewHandler(svc.Back, logg)
}

func Shipping(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		var details types.ShippingDetails
		if err := validators.DecodeJSONBody(r, &details); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.SubmitShipping(r.Context(), sessionFromRequest(r), details)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ShippingProfile(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		var payload profileRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.SaveShippingProfile(r.Context(), sessionFromRequest(r), payload.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func StartPayment(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		launch, err := svc.StartPayment(r.Context(), sessionFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, launch)
	}
}

type callbackFunc func(ctx context.Context, session checkout.Session, payload json.RawMessage) (*checkout.View, error)

// PaymentSuccess forwards the processor's success callback payload.
func PaymentSuccess(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return callbackHandler(nil, logg)
	}
	return callbackHandler(svc.PaymentSucceeded, logg)
}

// PaymentCancel forwards the processor's cancel callback payload.
func PaymentCancel(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return callbackHandler(nil, logg)
	}
	return callbackHandler(svc.PaymentCancelled, logg)
}

func callbackHandler(call callbackFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if call == nil {
			unavailable(w, r, logg)
			return
		}
		payload, err := readCallback(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := call(r.Context(), sessionFromRequest(r), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func readCallback(r *http.Request) (json.RawMessage, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read callback body")
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback body must be json")
	}
	return json.RawMessage(body), nil
}

// Confirm places the order from REVIEW. The route requires an Idempotency-Key.
func Confirm(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		var input checkout.ConfirmInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Confirm(r.Context(), sessionFromRequest(r), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
