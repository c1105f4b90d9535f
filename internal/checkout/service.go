package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/cart"
	"github.com/angelmondragon/threadline-backend/internal/orders"
	"github.com/angelmondragon/threadline-backend/internal/payment"
	"github.com/angelmondragon/threadline-backend/internal/shipping"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/redis"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

const (
	lockScope = "checkout"

	// NoticeOrderNotSaved is shown in REVIEW when the automatic order write failed.
	NoticeOrderNotSaved = "Your payment went through but the order is not saved yet. Confirm to try again."
	// NoticeSignInToSave is shown in REVIEW when the automatic write had no identity.
	NoticeSignInToSave = "Sign in to place your order."
)

// Session addresses a checkout: the cart session id plus the identity of the request.
type Session struct {
	ID       string
	Identity *auth.Identity
}

func (s Session) userID() *uuid.UUID {
	if s.Identity == nil {
		return nil
	}
	id := s.Identity.UserID
	return &id
}

func (s Session) cart() cart.Session {
	return cart.Session{ID: s.ID, UserID: s.userID()}
}

func (s Session) owner() shipping.Owner {
	return shipping.Owner{SessionID: s.ID, UserID: s.userID()}
}

// PaymentView is the client-facing part of a payment outcome.
type PaymentView struct {
	ID        string                `json:"id"`
	Status    enums.PaymentStatus   `json:"status"`
	Provider  enums.PaymentProvider `json:"provider"`
	Reference string                `json:"reference,omitempty"`
	Persisted bool                  `json:"persisted"`
}

// View is the checkout state returned by every operation.
type View struct {
	ID            string                 `json:"id"`
	Stage         enums.CheckoutStage    `json:"stage"`
	Shipping      *types.ShippingDetails `json:"shipping,omitempty"`
	ProfilePrompt enums.ProfilePrompt    `json:"profile_prompt,omitempty"`
	Payment       *PaymentView           `json:"payment,omitempty"`
	OrderID       *uuid.UUID             `json:"order_id,omitempty"`
	Placed        bool                   `json:"placed"`
	Notices       []string               `json:"notices,omitempty"`
}

func newView(attempt *Attempt) *View {
	view := &View{
		ID:            attempt.ID,
		Stage:         attempt.Stage,
		Shipping:      attempt.Shipping,
		ProfilePrompt: attempt.ProfilePrompt,
		OrderID:       attempt.OrderID,
		Placed:        attempt.Placed,
	}
	if p := attempt.Payment; p != nil {
		view.Payment = &PaymentView{
			ID:        p.ID,
			Status:    p.Status,
			Provider:  p.Provider,
			Reference: p.Reference,
			Persisted: p.Persisted,
		}
	}
	return view
}

// ShippingResult is the response of SubmitShipping.
type ShippingResult struct {
	View   *View               `json:"checkout"`
	Prompt enums.ProfilePrompt `json:"profile_prompt"`
}

// PaymentLaunch is the response of StartPayment.
type PaymentLaunch struct {
	View   *View                 `json:"checkout"`
	Launch *payment.LaunchParams `json:"launch"`
}

// ConfirmInput is the body of a review confirmation.
type ConfirmInput struct {
	Confirm bool `json:"confirm"`
}

// ConfirmResult is the response of Confirm.
type ConfirmResult struct {
	View    *View     `json:"checkout"`
	OrderID uuid.UUID `json:"order_id"`
	Next    string    `json:"next"`
}

// Service drives the checkout sequencer for a cart session.
type Service interface {
	Get(ctx context.Context, session Session) (*View, error)
	Begin(ctx context.Context, session Session) (*View, error)
	SubmitShipping(ctx context.Context, session Session, details types.ShippingDetails) (*ShippingResult, error)
	SaveShippingProfile(ctx context.Context, session Session, decision enums.ProfileDecision) (*View, error)
	Back(ctx context.Context, session Session) (*View, error)
	StartPayment(ctx context.Context, session Session) (*PaymentLaunch, error)
	PaymentSucceeded(ctx context.Context, session Session, payload json.RawMessage) (*View, error)
	PaymentCancelled(ctx context.Context, session Session, payload json.RawMessage) (*View, error)
	Confirm(ctx context.Context, session Session, input ConfirmInput) (*ConfirmResult, error)
}

type attemptStore interface {
	Load(ctx context.Context, sessionID string) (*Attempt, error)
	Save(ctx context.Context, sessionID string, attempt *Attempt) error
}

type sessionLocker interface {
	redis.Locker
	LockKey(scope, id string) string
}

type cartReader interface {
	Get(ctx context.Context, session cart.Session) (*cart.Snapshot, error)
	Clear(ctx context.Context, session cart.Session) (*cart.Snapshot, error)
}

type orderRecorder interface {
	Record(ctx context.Context, input orders.RecordInput) (*orders.RecordResult, error)
}

// ServiceParams bundles the dependencies of the checkout service.
type ServiceParams struct {
	Attempts attemptStore
	Locks    sessionLocker
	Cart     cartReader
	Shipping shipping.Service
	Payments payment.Adapter
	Orders   orderRecorder
	Logger   *logger.Logger
	Currency string
	LockTTL  time.Duration
	LockWait time.Duration
}

type service struct {
	attempts attemptStore
	locks    sessionLocker
	cart     cartReader
	shipping shipping.Service
	payments payment.Adapter
	orders   orderRecorder
	logg     *logger.Logger
	currency string
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Attempts == nil:
		return nil, fmt.Errorf("attempt store required")
	case params.Locks == nil:
		return nil, fmt.Errorf("session locker required")
	case params.Cart == nil:
		return nil, fmt.Errorf("cart service required")
	case params.Shipping == nil:
		return nil, fmt.Errorf("shipping service required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payment adapter required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order recorder required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	lockWait := params.LockWait
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &service{
		attempts: params.Attempts,
		locks:    params.Locks,
		cart:     params.Cart,
		shipping: params.Shipping,
		payments: params.Payments,
		orders:   params.Orders,
		logg:     params.Logger,
		currency: strings.ToUpper(strings.TrimSpace(params.Currency)),
		lockTTL:  lockTTL,
		lockWait: lockWait,
		now:      time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, session Session) (*View, error) {
	var view *View
	err := s.withAttempt(ctx, session, "get", func(ctx context.Context, seq *Sequencer) error {
		view = newView(seq.Attempt())
		return nil
	})
	return view, err
}

func (s *service) Begin(ctx context.Context, session Session) (*View, error) {
	var view *View
	err := s.withAttempt(ctx, session, "begin", func(ctx context.Context, seq *Sequencer) error {
		snapshot, err := s.cart.Get(ctx, session.cart())
		if err != nil {
			return err
		}
		if err := seq.Begin(*snapshot); err != nil {
			return err
		}
		view = newView(seq.Attempt())
		view.Notices = snapshot.Notices
		return nil
	})
	return view, err
}

func (s *service) SubmitShipping(ctx context.Context, session Session, details types.ShippingDetails) (*ShippingResult, error) {
	var result *ShippingResult
	err := s.withAttempt(ctx, session, "submit_shipping", func(ctx context.Context, seq *Sequencer) error {
		profile, err := s.shipping.Get(ctx, session.owner())
		if err != nil {
			// the prompt is advisory; a failed lookup falls back to offering a save
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.shipping_profile_lookup_failed")
			profile = nil
		}
		var saved *types.ShippingDetails
		if profile != nil {
			saved = &profile.Details
		}
		prompt, err := seq.SubmitShipping(details, saved)
		if err != nil {
			return err
		}
		result = &ShippingResult{View: newView(seq.Attempt()), Prompt: prompt}
		return nil
	})
	return result, err
}

func (s *service) SaveShippingProfile(ctx context.Context, session Session, decision enums.ProfileDecision) (*View, error) {
	var view *View
	err := s.withAttempt(ctx, session, "save_shipping_profile", func(ctx context.Context, seq *Sequencer) error {
		write, err := seq.AnswerProfilePrompt(decision)
		if err != nil {
			return err
		}
		if write {
			if _, err := s.shipping.Save(ctx, session.owner(), *seq.Attempt().Shipping); err != nil {
				return err
			}
		}
		view = newView(seq.Attempt())
		return nil
	})
	return view, err
}

func (s *service) Back(ctx context.Context, session Session) (*View, error) {
	var view *View
	err := s.withAttempt(ctx, session, "back", func(ctx context.Context, seq *Sequencer) error {
		if err := seq.Back(); err != nil {
			return err
		}
		view = newView(seq.Attempt())
		return nil
	})
	return view, err
}

func (s *service) StartPayment(ctx context.Context, session Session) (*PaymentLaunch, error) {
	var result *PaymentLaunch
	err := s.withAttempt(ctx, session, "start_payment", func(ctx context.Context, seq *Sequencer) error {
		snapshot, err := s.cart.Get(ctx, session.cart())
		if err != nil {
			return err
		}
		if snapshot.IsEmpty {
			return ErrCartEmpty()
		}
		outcome, err := seq.StartPayment(s.payments.Provider(), *snapshot)
		if err != nil {
			return err
		}
		charged, err := seq.ChargedCart()
		if err != nil {
			return err
		}
		launch, err := s.payments.Launch(ctx, payment.LaunchInput{
			Total:     charged.Total,
			Email:     seq.Attempt().Shipping.Email,
			Reference: outcome.ID,
			Currency:  s.currency,
		})
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"outcome_id": outcome.ID,
			"amount":     launch.AmountMinor,
		}), "checkout.payment_started")
		result = &PaymentLaunch{View: newView(seq.Attempt()), Launch: launch}
		return nil
	})
	return result, err
}

// PaymentSucceeded normalizes the processor callback. A successful outcome is recorded
// before the attempt moves to REVIEW; a failed write leaves persisted unset so Confirm
// retries it with the same key.
func (s *service) PaymentSucceeded(ctx context.Context, session Session, payload json.RawMessage) (*View, error) {
	var view *View
	err := s.withAttempt(ctx, session, "payment_succeeded", func(ctx context.Context, seq *Sequencer) error {
		outcome, snapshot, err := s.normalize(ctx, seq, payment.KindSuccess, payload)
		if err != nil {
			return err
		}
		if err := seq.ResolvePayment(*outcome); err != nil {
			return err
		}

		var notices []string
		switch outcome.Status {
		case enums.PaymentStatusSuccessful:
			if notice := s.record(ctx, session, seq, snapshot); notice != "" {
				notices = append(notices, notice)
			}
		case enums.PaymentStatusCancelled:
			s.record(ctx, session, seq, snapshot)
		default:
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"outcome_id":     outcome.ID,
				"payment_status": outcome.Status.String(),
			}), "checkout.payment_not_successful")
		}
		view = newView(seq.Attempt())
		view.Notices = notices
		return nil
	})
	return view, err
}

// PaymentCancelled records the abandoned attempt and returns to SHIPPING.
func (s *service) PaymentCancelled(ctx context.Context, session Session, payload json.RawMessage) (*View, error) {
	var view *View
	err := s.withAttempt(ctx, session, "payment_cancelled", func(ctx context.Context, seq *Sequencer) error {
		outcome, snapshot, err := s.normalize(ctx, seq, payment.KindCancel, payload)
		if err != nil {
			return err
		}
		if err := seq.ResolvePayment(*outcome); err != nil {
			return err
		}
		s.record(ctx, session, seq, snapshot)
		view = newView(seq.Attempt())
		return nil
	})
	return view, err
}

func (s *service) Confirm(ctx context.Context, session Session, input ConfirmInput) (*ConfirmResult, error) {
	if !input.Confirm {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "please confirm to place your order")
	}
	var result *ConfirmResult
	err := s.withAttempt(ctx, session, "confirm", func(ctx context.Context, seq *Sequencer) error {
		attempt := seq.Attempt()
		if attempt.Placed && attempt.OrderID != nil {
			result = &ConfirmResult{View: newView(attempt), OrderID: *attempt.OrderID, Next: OrdersRoute}
			return nil
		}
		outcome, err := seq.ReadyToConfirm()
		if err != nil {
			return err
		}

		if !outcome.Persisted {
			charged, err := seq.ChargedCart()
			if err != nil {
				return err
			}
			recorded, err := s.orders.Record(ctx, orders.RecordInput{
				Snapshot:       charged,
				Shipping:       *attempt.Shipping,
				Payment:        *outcome,
				Identity:       session.Identity,
				IdempotencyKey: outcome.ID,
			})
			if err != nil {
				return err
			}
			seq.MarkPersisted(recorded.Order.ID)
			if err := s.attempts.Save(ctx, session.ID, attempt); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save checkout")
			}
		}

		if _, err := s.cart.Clear(ctx, session.cart()); err != nil {
			return err
		}
		seq.MarkPlaced()
		s.logg.Info(s.logg.WithField(ctx, "order_id", attempt.OrderID.String()), "checkout.order_placed")
		result = &ConfirmResult{View: newView(attempt), OrderID: *attempt.OrderID, Next: OrdersRoute}
		return nil
	})
	return result, err
}

// normalize resolves the processor payload against the pending outcome. The amount
// checked is the one launched, taken from the cart frozen at StartPayment.
func (s *service) normalize(ctx context.Context, seq *Sequencer, kind payment.Kind, payload json.RawMessage) (*payment.Outcome, *cart.Snapshot, error) {
	pending, err := seq.PendingOutcome()
	if err != nil {
		return nil, nil, err
	}
	charged, err := seq.ChargedCart()
	if err != nil {
		return nil, nil, err
	}
	outcome, err := s.payments.Normalize(ctx, payment.NormalizeInput{
		Kind:        kind,
		OutcomeID:   pending.ID,
		AmountMinor: payment.MinorUnits(charged.Total),
		Currency:    s.currency,
		Email:       seq.Attempt().Shipping.Email,
		Payload:     payload,
	})
	if err != nil {
		return nil, nil, err
	}
	return outcome, &charged, nil
}

// record writes the order for the resolved outcome. Failures are logged and returned as
// a notice; the stage transition has already happened.
func (s *service) record(ctx context.Context, session Session, seq *Sequencer, snapshot *cart.Snapshot) string {
	attempt := seq.Attempt()
	outcome := attempt.Payment
	if outcome == nil || outcome.Persisted || snapshot == nil || len(snapshot.Lines) == 0 {
		return ""
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outcome_id":     outcome.ID,
		"payment_status": outcome.Status.String(),
	})
	recorded, err := s.orders.Record(ctx, orders.RecordInput{
		Snapshot:       *snapshot,
		Shipping:       *attempt.Shipping,
		Payment:        *outcome,
		Identity:       session.Identity,
		IdempotencyKey: outcome.ID,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
			s.logg.Warn(logCtx, "checkout.record_skipped_unauthenticated")
			return NoticeSignInToSave
		}
		s.logg.Error(logCtx, "checkout.record_failed", err)
		return NoticeOrderNotSaved
	}
	seq.MarkPersisted(recorded.Order.ID)
	s.logg.Info(s.logg.WithField(logCtx, "order_id", recorded.Order.ID.String()), "checkout.order_recorded")
	return ""
}

// withAttempt runs fn under the session lock and saves the attempt when fn succeeds.
func (s *service) withAttempt(ctx context.Context, session Session, op string, fn func(context.Context, *Sequencer) error) error {
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart session is required")
	}
	session.ID = sessionID
	fields := map[string]any{"cart_session": sessionID, "op": op}
	if session.Identity != nil {
		fields["user_id"] = session.Identity.UserID.String()
	}
	ctx = s.logg.WithFields(ctx, fields)

	err := redis.WithLock(ctx, s.locks, s.locks.LockKey(lockScope, sessionID), s.lockTTL, s.lockWait, func(ctx context.Context) error {
		attempt, err := s.attempts.Load(ctx, sessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout")
		}
		seq := NewSequencer(attempt, s.now)
		if err := fn(s.logg.WithField(ctx, "attempt_id", attempt.ID), seq); err != nil {
			return err
		}
		if seq.Started() {
			if err := s.attempts.Save(ctx, sessionID, seq.Attempt()); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save checkout")
			}
		}
		return nil
	})
	if errors.Is(err, redis.ErrLockBusy) {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "checkout is being updated, please retry")
	}
	return err
}
