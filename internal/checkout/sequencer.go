package checkout

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/internal/cart"
	"github.com/angelmondragon/threadline-backend/internal/payment"
	pkgcheckout "github.com/angelmondragon/threadline-backend/pkg/checkout"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

const (
	// ShopRoute is where an empty cart sends the shopper.
	ShopRoute = "/shop"
	// OrdersRoute is where a placed order sends the shopper.
	OrdersRoute = "/dashboard/orders"
)

// MsgCartEmpty is returned when checkout starts without lines.
const MsgCartEmpty = "your cart is empty, continue shopping"

// ErrCartEmpty stops checkout before any stage state exists. Details carry the route
// the client should go to instead.
func ErrCartEmpty() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, MsgCartEmpty).WithDetails(map[string]string{"next": ShopRoute})
}

// Attempt is one pass through SHIPPING, PAYMENT and REVIEW for a cart session.
type Attempt struct {
	ID            string                 `json:"id"`
	Stage         enums.CheckoutStage    `json:"stage"`
	Shipping      *types.ShippingDetails `json:"shipping,omitempty"`
	ProfilePrompt enums.ProfilePrompt    `json:"profile_prompt,omitempty"`
	Payment       *payment.Outcome       `json:"payment,omitempty"`
	Cart          *cart.Snapshot         `json:"cart,omitempty"`
	OrderID       *uuid.UUID             `json:"order_id,omitempty"`
	Placed        bool                   `json:"placed"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Sequencer applies stage transitions to an Attempt. It does no I/O.
type Sequencer struct {
	attempt *Attempt
	now     func() time.Time
}

// NewSequencer wraps attempt. A nil attempt starts empty.
func NewSequencer(attempt *Attempt, now func() time.Time) *Sequencer {
	if attempt == nil {
		attempt = &Attempt{}
	}
	if now == nil {
		now = time.Now
	}
	return &Sequencer{attempt: attempt, now: now}
}

// Attempt returns the wrapped attempt.
func (s *Sequencer) Attempt() *Attempt {
	return s.attempt
}

// Started reports whether Begin has run for the current attempt.
func (s *Sequencer) Started() bool {
	return s.attempt.ID != "" && s.attempt.Stage.IsValid()
}

// Begin starts checkout, or resumes the unfinished attempt. The empty cart check comes
// before any stage state.
func (s *Sequencer) Begin(snapshot cart.Snapshot) error {
	if snapshot.IsEmpty || len(snapshot.Lines) == 0 {
		return ErrCartEmpty()
	}
	if s.Started() && !s.attempt.Placed {
		return nil
	}
	*s.attempt = Attempt{
		ID:    uuid.NewString(),
		Stage: enums.CheckoutStageShipping,
	}
	s.touch()
	return nil
}

// SubmitShipping validates details, stores the trimmed copy and moves to PAYMENT. saved
// is the shopper's stored profile, if any; the returned prompt never gates the step.
func (s *Sequencer) SubmitShipping(details types.ShippingDetails, saved *types.ShippingDetails) (enums.ProfilePrompt, error) {
	if err := s.requireStage(enums.CheckoutStageShipping); err != nil {
		return "", err
	}
	trimmed, err := pkgcheckout.ValidateShipping(details)
	if err != nil {
		return "", err
	}

	prompt := enums.ProfilePromptSave
	if saved != nil {
		prompt = enums.ProfilePromptUpdate
		if saved.SameAs(trimmed) {
			prompt = enums.ProfilePromptNone
		}
	}

	s.attempt.Shipping = &trimmed
	s.attempt.ProfilePrompt = prompt
	s.attempt.Stage = enums.CheckoutStagePayment
	s.touch()
	return prompt, nil
}

// AnswerProfilePrompt clears the pending prompt and reports whether the shipping details
// should be written to the saved profile.
func (s *Sequencer) AnswerProfilePrompt(decision enums.ProfileDecision) (bool, error) {
	if !decision.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "decision must be save, update or decline")
	}
	if s.attempt.Shipping == nil {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "submit shipping details first")
	}
	s.attempt.ProfilePrompt = enums.ProfilePromptNone
	s.touch()
	return decision != enums.ProfileDecisionDecline, nil
}

// StartPayment creates a pending outcome with a fresh id for the next processor launch
// and freezes the cart being charged. Callbacks and the order write use that copy, so
// edits made to the live cart after launch never reach the order.
func (s *Sequencer) StartPayment(provider enums.PaymentProvider, snapshot cart.Snapshot) (*payment.Outcome, error) {
	if err := s.requireStage(enums.CheckoutStagePayment); err != nil {
		return nil, err
	}
	if s.attempt.Shipping == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "submit shipping details first")
	}
	if snapshot.IsEmpty || len(snapshot.Lines) == 0 {
		return nil, ErrCartEmpty()
	}
	charged := snapshot
	charged.Lines = slices.Clone(snapshot.Lines)
	charged.PendingSize = ""
	charged.Notices = nil

	outcome := payment.NewPendingOutcome(provider)
	s.attempt.Payment = outcome
	s.attempt.Cart = &charged
	s.touch()
	return outcome, nil
}

// ChargedCart returns the cart frozen by the latest StartPayment.
func (s *Sequencer) ChargedCart() (cart.Snapshot, error) {
	if s.attempt.Cart == nil || len(s.attempt.Cart.Lines) == 0 {
		return cart.Snapshot{}, pkgerrors.New(pkgerrors.CodeStateConflict, "no charged cart for this checkout")
	}
	return *s.attempt.Cart, nil
}

// PendingOutcome returns the outcome a processor callback must resolve.
func (s *Sequencer) PendingOutcome() (*payment.Outcome, error) {
	if err := s.requireStage(enums.CheckoutStagePayment); err != nil {
		return nil, err
	}
	if s.attempt.Payment == nil || s.attempt.Payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no payment in progress")
	}
	return s.attempt.Payment, nil
}

// ResolvePayment records a normalized outcome and moves the attempt: successful goes to
// REVIEW, cancelled back to SHIPPING, anything else stays in PAYMENT.
func (s *Sequencer) ResolvePayment(outcome payment.Outcome) error {
	pending, err := s.PendingOutcome()
	if err != nil {
		return err
	}
	if outcome.ID != pending.ID {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment does not belong to this checkout")
	}
	resolved := outcome
	s.attempt.Payment = &resolved
	switch outcome.Status {
	case enums.PaymentStatusSuccessful:
		s.attempt.Stage = enums.CheckoutStageReview
	case enums.PaymentStatusCancelled:
		s.attempt.Stage = enums.CheckoutStageShipping
	}
	s.touch()
	return nil
}

// MarkPersisted caches the order written for the current outcome. Only a successful
// outcome becomes the attempt's order.
func (s *Sequencer) MarkPersisted(orderID uuid.UUID) {
	if s.attempt.Payment == nil {
		return
	}
	s.attempt.Payment.Persisted = true
	s.attempt.Payment.OrderID = &orderID
	if s.attempt.Payment.Status == enums.PaymentStatusSuccessful {
		id := orderID
		s.attempt.OrderID = &id
	}
	s.touch()
}

// Back moves PAYMENT to SHIPPING. REVIEW has no backward transition.
func (s *Sequencer) Back() error {
	if err := s.requireStage(enums.CheckoutStagePayment); err != nil {
		return err
	}
	s.attempt.Stage = enums.CheckoutStageShipping
	s.touch()
	return nil
}

// ReadyToConfirm checks the attempt can be placed and returns its successful outcome.
func (s *Sequencer) ReadyToConfirm() (*payment.Outcome, error) {
	if err := s.requireStage(enums.CheckoutStageReview); err != nil {
		return nil, err
	}
	if s.attempt.Payment == nil || s.attempt.Payment.Status != enums.PaymentStatusSuccessful {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not completed")
	}
	if s.attempt.Shipping == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shipping details missing")
	}
	return s.attempt.Payment, nil
}

// MarkPlaced closes the attempt.
func (s *Sequencer) MarkPlaced() {
	s.attempt.Placed = true
	s.touch()
}

func (s *Sequencer) requireStage(stage enums.CheckoutStage) error {
	if !s.Started() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout has not started")
	}
	if s.attempt.Placed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already placed")
	}
	if s.attempt.Stage != stage {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("checkout is at %s, expected %s", s.attempt.Stage, stage))
	}
	return nil
}

func (s *Sequencer) touch() {
	s.attempt.UpdatedAt = s.now().UTC()
}
