package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/metrics"
	"github.com/angelmondragon/threadline-backend/pkg/redis"
)

// NoticeRemoteUnavailable is reported when the saved cart of a signed-in user could not
// be read. The session cart is kept and the read is retried on the next request.
const NoticeRemoteUnavailable = "Your saved cart could not be loaded right now"

const lockScope = "cart"

// Session addresses one cart: the opaque session id and the signed-in user, if any.
type Session struct {
	ID     string
	UserID *uuid.UUID
}

// Service exposes the session cart operations.
type Service interface {
	Get(ctx context.Context, session Session) (*Snapshot, error)
	SelectSize(ctx context.Context, session Session, size string) (*Snapshot, error)
	AddLine(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error)
	RemoveLine(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error)
	IncreaseQuantity(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error)
	DecreaseQuantity(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error)
	Clear(ctx context.Context, session Session) (*Snapshot, error)
}

type sessionStore interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Save(ctx context.Context, sessionID string, state State) error
	Delete(ctx context.Context, sessionID string) error
}

type sessionLocker interface {
	redis.Locker
	LockKey(scope, id string) string
}

type remoteReader interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error)
}

type productCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type mirrorEnqueuer interface {
	Enqueue(ctx context.Context, op MirrorOp) bool
}

// ServiceParams bundles the dependencies of the cart service.
type ServiceParams struct {
	Sessions sessionStore
	Locks    sessionLocker
	Remote   remoteReader
	Catalog  productCatalog
	Mirror   mirrorEnqueuer
	Logger   *logger.Logger
	Metrics  *metrics.CartMetrics
	LockTTL  time.Duration
	LockWait time.Duration
}

type service struct {
	sessions sessionStore
	locks    sessionLocker
	remote   remoteReader
	catalog  productCatalog
	mirror   mirrorEnqueuer
	logg     *logger.Logger
	metrics  *metrics.CartMetrics
	lockTTL  time.Duration
	lockWait time.Duration
}

type mutation func(store *Store) (MirrorOp, []string, error)

// NewService builds a cart service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Sessions == nil:
		return nil, fmt.Errorf("session store required")
	case params.Locks == nil:
		return nil, fmt.Errorf("session locker required")
	case params.Remote == nil:
		return nil, fmt.Errorf("remote cart reader required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("product catalog required")
	case params.Mirror == nil:
		return nil, fmt.Errorf("mirror queue required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	lockWait := params.LockWait
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &service{
		sessions: params.Sessions,
		locks:    params.Locks,
		remote:   params.Remote,
		catalog:  params.Catalog,
		mirror:   params.Mirror,
		logg:     params.Logger,
		metrics:  params.Metrics,
		lockTTL:  lockTTL,
		lockWait: lockWait,
	}, nil
}

func (s *service) Get(ctx context.Context, session Session) (*Snapshot, error) {
	return s.mutate(ctx, session, "get", func(*Store) (MirrorOp, []string, error) {
		return MirrorOp{}, nil, nil
	})
}

func (s *service) SelectSize(ctx context.Context, session Session, size string) (*Snapshot, error) {
	return s.mutate(ctx, session, "select_size", func(store *Store) (MirrorOp, []string, error) {
		store.SelectSize(size)
		return MirrorOp{}, nil, nil
	})
}

func (s *service) AddLine(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	product, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return s.mutate(ctx, session, "add_line", func(store *Store) (MirrorOp, []string, error) {
		op, err := store.AddLine(*product, size)
		return op, nil, err
	})
}

func (s *service) RemoveLine(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error) {
	return s.mutate(ctx, session, "remove_line", func(store *Store) (MirrorOp, []string, error) {
		op, notice := store.RemoveLine(productID, size)
		if notice != "" {
			return op, []string{notice}, nil
		}
		return op, nil, nil
	})
}

func (s *service) IncreaseQuantity(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error) {
	return s.mutate(ctx, session, "increase_quantity", func(store *Store) (MirrorOp, []string, error) {
		return store.IncreaseQuantity(productID, size), nil, nil
	})
}

func (s *service) DecreaseQuantity(ctx context.Context, session Session, productID uuid.UUID, size string) (*Snapshot, error) {
	return s.mutate(ctx, session, "decrease_quantity", func(store *Store) (MirrorOp, []string, error) {
		return store.DecreaseQuantity(productID, size), nil, nil
	})
}

func (s *service) Clear(ctx context.Context, session Session) (*Snapshot, error) {
	return s.mutate(ctx, session, "clear", func(store *Store) (MirrorOp, []string, error) {
		return store.Clear(), nil, nil
	})
}

// mutate runs one operation under the session lock: load, reconcile identity, apply,
// persist, then hand the mirror write to the queue.
func (s *service) mutate(ctx context.Context, session Session, op string, apply mutation) (*Snapshot, error) {
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart session is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"cart_session": sessionID, "op": op})

	var snapshot Snapshot
	err := redis.WithLock(ctx, s.locks, s.locks.LockKey(lockScope, sessionID), s.lockTTL, s.lockWait, func(ctx context.Context) error {
		state, err := s.sessions.Load(ctx, sessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		store := NewStore(state)
		notices := s.reconcileIdentity(ctx, store, session.UserID)

		mirrorOp, more, err := apply(store)
		if err != nil {
			return err
		}
		notices = append(notices, more...)

		if err := s.persist(ctx, sessionID, store); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
		}
		switch owner := store.Identity(); {
		case owner == nil || mirrorOp.IsZero():
		case !store.Reconciled():
			s.metrics.ObserveMirror(string(mirrorOp.Kind), metrics.MirrorSkipped)
			s.logg.Warn(s.logg.WithField(ctx, "mirror_op", string(mirrorOp.Kind)), "cart.mirror_deferred_until_load")
		default:
			mirrorOp.UserID = *owner
			s.mirror.Enqueue(ctx, mirrorOp)
		}

		snapshot = store.Snapshot()
		snapshot.Notices = notices
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.ErrLockBusy) {
			err = pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "cart is being updated, please retry")
		}
		s.metrics.ObserveMutation(op, string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.ObserveMutation(op, "ok")
	return &snapshot, nil
}

// reconcileIdentity loads the saved cart the first time a user shows up on the session.
// A failed read keeps the session cart and leaves the guard unset; until a read
// succeeds, mutations stay local.
func (s *service) reconcileIdentity(ctx context.Context, store *Store, userID *uuid.UUID) []string {
	if !store.ObserveIdentity(userID) {
		return nil
	}
	ctx = s.logg.WithUserID(ctx, userID.String())
	rows, err := s.remote.ListForUser(ctx, *userID)
	if err != nil {
		s.metrics.ObserveMirror("load", metrics.MirrorFailed)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.remote_load_failed")
		return []string{NoticeRemoteUnavailable}
	}
	replaced := store.LoadForIdentity(*userID, LinesFromRows(rows))
	s.metrics.ObserveMirror("load", metrics.MirrorApplied)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"remote_lines": len(rows),
		"replaced":     replaced,
	}), "cart.remote_loaded")
	return nil
}

// persist writes the session state. A guest cart with nothing in it is removed; a
// signed-in session keeps its record so the load guard survives a clear.
func (s *service) persist(ctx context.Context, sessionID string, store *Store) error {
	state := store.State()
	if len(state.Lines) == 0 && state.PendingSize == "" && state.Identity == nil && state.LoadedIdentity == nil {
		return s.sessions.Delete(ctx, sessionID)
	}
	return s.sessions.Save(ctx, sessionID, state)
}
