package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/checkout"
	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/redis"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

// Owner identifies whose profile is addressed: the signed-in user when UserID is set,
// otherwise the guest session.
type Owner struct {
	SessionID string
	UserID    *uuid.UUID
}

// Profile is a saved set of shipping details.
type Profile struct {
	Details   types.ShippingDetails `json:"details"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Service manages the one saved shipping profile per user or guest session.
type Service interface {
	// Get returns the saved profile, or nil when none exists.
	Get(ctx context.Context, owner Owner) (*Profile, error)
	Save(ctx context.Context, owner Owner, details types.ShippingDetails) (*Profile, error)
	Delete(ctx context.Context, owner Owner) error
}

type profileRepository interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.ShippingInfo, error)
	Upsert(ctx context.Context, userID uuid.UUID, details types.ShippingDetails) (*models.ShippingInfo, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type guestStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	GuestShippingKey(sessionID string) string
}

type service struct {
	repo     profileRepository
	guests   guestStore
	guestTTL time.Duration
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the shipping profile service. Guest profiles live as long as the
// cart session (guestTTL).
func NewService(repo profileRepository, guests guestStore, guestTTL time.Duration, logg *logger.Logger) (Service, error) {
	switch {
	case repo == nil:
		return nil, fmt.Errorf("shipping repository required")
	case guests == nil:
		return nil, fmt.Errorf("guest store required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	if guestTTL <= 0 {
		guestTTL = 72 * time.Hour
	}
	return &service{
		repo:     repo,
		guests:   guests,
		guestTTL: guestTTL,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, owner Owner) (*Profile, error) {
	if owner.UserID != nil {
		info, err := s.repo.GetByUser(ctx, *owner.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipping profile")
		}
		return &Profile{Details: info.ShippingInfo, UpdatedAt: info.UpdatedAt}, nil
	}

	key, err := s.guestKey(owner)
	if err != nil {
		return nil, err
	}
	raw, err := s.guests.Get(ctx, key)
	if err != nil {
		if redis.IsMissing(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load guest shipping profile")
	}
	var profile Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "shipping.guest_profile_corrupt")
		return nil, nil
	}
	return &profile, nil
}

// Save validates details and replaces the saved profile with the trimmed copy.
func (s *service) Save(ctx context.Context, owner Owner, details types.ShippingDetails) (*Profile, error) {
	trimmed, err := checkout.ValidateShipping(details)
	if err != nil {
		return nil, err
	}

	if owner.UserID != nil {
		info, err := s.repo.Upsert(ctx, *owner.UserID, trimmed)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save shipping profile")
		}
		s.logg.Info(s.logg.WithUserID(ctx, owner.UserID.String()), "shipping.profile_saved")
		return &Profile{Details: info.ShippingInfo, UpdatedAt: info.UpdatedAt}, nil
	}

	key, err := s.guestKey(owner)
	if err != nil {
		return nil, err
	}
	profile := Profile{Details: trimmed, UpdatedAt: s.now().UTC()}
	payload, err := json.Marshal(profile)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode guest shipping profile")
	}
	if err := s.guests.Set(ctx, key, string(payload), s.guestTTL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save guest shipping profile")
	}
	return &profile, nil
}

func (s *service) Delete(ctx context.Context, owner Owner) error {
	if owner.UserID != nil {
		if err := s.repo.DeleteByUser(ctx, *owner.UserID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "no saved shipping profile")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete shipping profile")
		}
		return nil
	}
	key, err := s.guestKey(owner)
	if err != nil {
		return err
	}
	if err := s.guests.Del(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete guest shipping profile")
	}
	return nil
}

func (s *service) guestKey(owner Owner) (string, error) {
	sessionID := strings.TrimSpace(owner.SessionID)
	if sessionID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "cart session is required")
	}
	return s.guests.GuestShippingKey(sessionID), nil
}
