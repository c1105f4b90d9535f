package cartcontrollers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/api/middleware"
	"github.com/angelmondragon/threadline-backend/api/responses"
	"github.com/angelmondragon/threadline-backend/api/validators"
	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
)

type sizeRequest struct {
	Size string `json:"size" validate:"required"`
}

type addLineRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Size      string `json:"size"`
}

type lineMutation func(ctx context.Context, session cart.Session, productID uuid.UUID, size string) (*cart.Snapshot, error)

func sessionFromRequest(r *http.Request) cart.Session {
	session := cart.Session{ID: middleware.CartSessionFromContext(r.Context())}
	if identity := auth.IdentityFromContext(r.Context()); identity != nil {
		id := identity.UserID
		session.UserID = &id
	}
	return session
}

func lineFromPath(r *http.Request) (uuid.UUID, string, error) {
	productID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		return uuid.Nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}
	size, err := validators.PathSizeLabel(chi.URLParam(r, "size"))
	if err != nil {
		return uuid.Nil, "", err
	}
	return productID, size, nil
}

func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
}

// Fetch returns the cart snapshot of the request session.
func Fetch(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		snapshot, err := svc.Get(r.Context(), sessionFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

func SelectSize(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		var payload sizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		size, err := validators.SizeLabel(payload.Size)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snapshot, err := svc.SelectSize(r.Context(), sessionFromRequest(r), size)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// AddLine adds a product to the cart. An empty size falls back to the pending size.
func AddLine(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		var payload addLineRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := uuid.Parse(payload.ProductID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}
		size := strings.TrimSpace(payload.Size)
		if size != "" {
			if size, err = validators.SizeLabel(size); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		snapshot, err := svc.AddLine(r.Context(), sessionFromRequest(r), productID, size)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

func RemoveLine(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return lineHandler(nil, logg)
	}
	return lineHandler(svc.RemoveLine, logg)
}

func Increase(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return lineHandler(nil, logg)
	}
	return lineHandler(svc.IncreaseQuantity, logg)
}

func Decrease(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return lineHandler(nil, logg)
	}
	return lineHandler(svc.DecreaseQuantity, logg)
}

func lineHandler(mutate lineMutation, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mutate == nil {
			unavailable(w, r, logg)
			return
		}
		productID, size, err := lineFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snapshot, err := mutate(r.Context(), sessionFromRequest(r), productID, size)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

func Clear(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		snapshot, err := svc.Clear(r.Context(), sessionFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}
