package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/cart"
	"github.com/angelmondragon/threadline-backend/internal/orders"
	"github.com/angelmondragon/threadline-backend/internal/payment"
	"github.com/angelmondragon/threadline-backend/internal/shipping"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

type memoryBackend struct {
	mu    sync.Mutex
	data  map[string]string
	locks map[string]string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: map[string]string{}, locks: map[string]string{}}
}

func (m *memoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryBackend) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryBackend) CheckoutKey(sessionID string) string {
	return "tl:checkout:" + sessionID
}

func (m *memoryBackend) AcquireLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return false, nil
	}
	m.locks[key] = token
	return true, nil
}

func (m *memoryBackend) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

func (m *memoryBackend) LockKey(scope, id string) string {
	return "tl:lock:" + scope + ":" + id
}

type stubCart struct {
	snapshot cart.Snapshot
	clears   int
}

func (s *stubCart) Get(_ context.Context, _ cart.Session) (*cart.Snapshot, error) {
	snap := s.snapshot
	return &snap, nil
}

func (s *stubCart) Clear(_ context.Context, _ cart.Session) (*cart.Snapshot, error) {
	s.clears++
	s.snapshot = cart.Snapshot{IsEmpty: true}
	snap := s.snapshot
	return &snap, nil
}

type stubShipping struct {
	saved  *shipping.Profile
	writes int
}

func (s *stubShipping) Get(_ context.Context, _ shipping.Owner) (*shipping.Profile, error) {
	return s.saved, nil
}

func (s *stubShipping) Save(_ context.Context, _ shipping.Owner, details types.ShippingDetails) (*shipping.Profile, error) {
	s.writes++
	s.saved = &shipping.Profile{Details: details, UpdatedAt: time.Now()}
	return s.saved, nil
}

func (s *stubShipping) Delete(_ context.Context, _ shipping.Owner) error {
	s.saved = nil
	return nil
}

type stubAdapter struct {
	status    enums.PaymentStatus
	normalize int
	amounts   []int64
}

func (a *stubAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPaystack
}

func (a *stubAdapter) Launch(_ context.Context, input payment.LaunchInput) (*payment.LaunchParams, error) {
	return &payment.LaunchParams{
		Provider:    enums.PaymentProviderPaystack,
		PublicKey:   "pk_test",
		Email:       input.Email,
		AmountMinor: payment.MinorUnits(input.Total),
		Currency:    input.Currency,
		Reference:   input.Reference,
	}, nil
}

func (a *stubAdapter) Normalize(_ context.Context, input payment.NormalizeInput) (*payment.Outcome, error) {
	a.normalize++
	a.amounts = append(a.amounts, input.AmountMinor)
	status := enums.PaymentStatusCancelled
	if input.Kind == payment.KindSuccess {
		status = enums.PaymentStatusSuccessful
		if a.status != "" {
			status = a.status
		}
	}
	outcome := &payment.Outcome{ID: input.OutcomeID, Status: status, Provider: enums.PaymentProviderPaystack}
	if input.Kind == payment.KindSuccess {
		outcome.Reference = input.OutcomeID
	}
	return outcome, nil
}

// stubOrders keys orders by idempotency key and applies the identity gate.
type stubOrders struct {
	byKey     map[string]orders.OrderDTO
	calls     int
	failNext  error
	statuses  []enums.PaymentStatus
	snapshots []cart.Snapshot
}

func newStubOrders() *stubOrders {
	return &stubOrders{byKey: map[string]orders.OrderDTO{}}
}

func (s *stubOrders) Record(_ context.Context, input orders.RecordInput) (*orders.RecordResult, error) {
	s.calls++
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	if input.Identity == nil {
		return nil, orders.ErrSignInRequired
	}
	if existing, ok := s.byKey[input.IdempotencyKey]; ok {
		return &orders.RecordResult{Order: existing, Duplicate: true}, nil
	}
	userID := input.Identity.UserID
	order := orders.OrderDTO{
		ID:            uuid.New(),
		UserID:        &userID,
		OrderTotal:    input.Snapshot.Total,
		ReferenceID:   input.Payment.Reference,
		PaymentStatus: input.Payment.Status,
	}
	s.byKey[input.IdempotencyKey] = order
	s.statuses = append(s.statuses, input.Payment.Status)
	s.snapshots = append(s.snapshots, input.Snapshot)
	return &orders.RecordResult{Order: order}, nil
}

type checkoutFixture struct {
	svc      Service
	backend  *memoryBackend
	cart     *stubCart
	shipping *stubShipping
	adapter  *stubAdapter
	orders   *stubOrders
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	backend := newMemoryBackend()
	attempts, err := NewAttempts(backend, time.Hour)
	require.NoError(t, err)

	f := &checkoutFixture{
		backend:  backend,
		cart:     &stubCart{snapshot: filledSnapshot()},
		shipping: &stubShipping{},
		adapter:  &stubAdapter{},
		orders:   newStubOrders(),
	}
	f.svc, err = NewService(ServiceParams{
		Attempts: attempts,
		Locks:    backend,
		Cart:     f.cart,
		Shipping: f.shipping,
		Payments: f.adapter,
		Orders:   f.orders,
		Logger:   logger.Nop(),
		Currency: "ngn",
		LockTTL:  time.Second,
		LockWait: 60 * time.Millisecond,
	})
	require.NoError(t, err)
	return f
}

func signedIn() Session {
	return Session{ID: "sess-1", Identity: &auth.Identity{UserID: uuid.New(), Email: "ada.obi@example.com"}}
}

func guest() Session {
	return Session{ID: "sess-guest"}
}

// toPayment drives a session through Begin, SubmitShipping and StartPayment.
func (f *checkoutFixture) toPayment(t *testing.T, session Session) *PaymentLaunch {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Begin(ctx, session)
	require.NoError(t, err)
	_, err = f.svc.SubmitShipping(ctx, session, shippingDetails())
	require.NoError(t, err)
	launch, err := f.svc.StartPayment(ctx, session)
	require.NoError(t, err)
	return launch
}

func successPayload(t *testing.T, reference string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"reference": reference})
	require.NoError(t, err)
	return raw
}

func TestServiceBeginWithEmptyCartSendsToShop(t *testing.T) {
	f := newCheckoutFixture(t)
	f.cart.snapshot = cart.Snapshot{IsEmpty: true}

	view, err := f.svc.Begin(context.Background(), signedIn())
	require.Error(t, err)
	assert.Nil(t, view)

	var typed *pkgerrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	assert.Equal(t, map[string]string{"next": ShopRoute}, typed.Details())

	current, err := f.svc.Get(context.Background(), signedIn())
	require.NoError(t, err)
	assert.Empty(t, current.Stage)
}

func TestServiceStartPaymentLaunchParams(t *testing.T) {
	f := newCheckoutFixture(t)
	session := signedIn()

	launch := f.toPayment(t, session)
	assert.Equal(t, int64(800000), launch.Launch.AmountMinor)
	assert.Equal(t, "NGN", launch.Launch.Currency)
	assert.Equal(t, "ada.obi@example.com", launch.Launch.Email)
	require.NotNil(t, launch.View.Payment)
	assert.Equal(t, launch.View.Payment.ID, launch.Launch.Reference)
	assert.Equal(t, enums.PaymentStatusPending, launch.View.Payment.Status)
	assert.Equal(t, enums.CheckoutStagePayment, launch.View.Stage)
}

func TestServiceSignedInFlowRecordsOneOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	launch := f.toPayment(t, session)
	view, err := f.svc.PaymentSucceeded(ctx, session, successPayload(t, launch.Launch.Reference))
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStageReview, view.Stage)
	require.NotNil(t, view.Payment)
	assert.True(t, view.Payment.Persisted)
	require.NotNil(t, view.OrderID)
	assert.Empty(t, view.Notices)
	assert.Len(t, f.orders.byKey, 1)

	result, err := f.svc.Confirm(ctx, session, ConfirmInput{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, *view.OrderID, result.OrderID)
	assert.Equal(t, OrdersRoute, result.Next)
	assert.True(t, result.View.Placed)
	assert.Len(t, f.orders.byKey, 1)
	assert.Equal(t, 1, f.orders.calls)
	assert.Equal(t, 1, f.cart.clears)

	again, err := f.svc.Confirm(ctx, session, ConfirmInput{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, result.OrderID, again.OrderID)
	assert.Equal(t, 1, f.orders.calls)
	assert.Equal(t, 1, f.cart.clears)
}

func TestServiceConfirmRetriesFailedWrite(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	launch := f.toPayment(t, session)
	f.orders.failNext = pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "create order")

	view, err := f.svc.PaymentSucceeded(ctx, session, successPayload(t, launch.Launch.Reference))
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStageReview, view.Stage)
	assert.False(t, view.Payment.Persisted)
	assert.Equal(t, []string{NoticeOrderNotSaved}, view.Notices)
	assert.Empty(t, f.orders.byKey)

	result, err := f.svc.Confirm(ctx, session, ConfirmInput{Confirm: true})
	require.NoError(t, err)
	assert.Len(t, f.orders.byKey, 1)
	_, ok := f.orders.byKey[launch.Launch.Reference]
	assert.True(t, ok)
	assert.NotEqual(t, uuid.Nil, result.OrderID)
}

func TestServiceRecordsTheCartThatWasCharged(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	launch := f.toPayment(t, session)
	require.Equal(t, int64(800000), launch.Launch.AmountMinor)

	extra := cart.Line{ProductID: uuid.New(), Name: "Wool Coat", UnitPrice: decimal.NewFromInt(3000), Size: "L", Quantity: 1}
	f.cart.snapshot.Lines = append(f.cart.snapshot.Lines, extra)
	f.cart.snapshot.Total = f.cart.snapshot.Total.Add(extra.Subtotal())
	f.orders.failNext = pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "create order")

	_, err := f.svc.PaymentSucceeded(ctx, session, successPayload(t, launch.Launch.Reference))
	require.NoError(t, err)
	require.Empty(t, f.orders.byKey)

	_, err = f.svc.Confirm(ctx, session, ConfirmInput{Confirm: true})
	require.NoError(t, err)
	order, ok := f.orders.byKey[launch.Launch.Reference]
	require.True(t, ok)
	assert.True(t, order.OrderTotal.Equal(decimal.NewFromInt(8000)), "recorded %s", order.OrderTotal)
	assert.Len(t, f.orders.snapshots[0].Lines, 1)
}

func TestServiceCallbackUsesChargedAmount(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	launch := f.toPayment(t, session)
	f.cart.snapshot.Total = decimal.NewFromInt(110)

	view, err := f.svc.PaymentSucceeded(ctx, session, successPayload(t, launch.Launch.Reference))
	require.NoError(t, err)
	require.NotNil(t, view.OrderID)
	assert.Equal(t, launch.Launch.AmountMinor, f.adapter.amounts[0])
	assert.True(t, f.orders.byKey[launch.Launch.Reference].OrderTotal.Equal(decimal.NewFromInt(8000)))
}

func TestServiceGuestCannotPlaceOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := guest()

	launch := f.toPayment(t, session)
	view, err := f.svc.PaymentSucceeded(ctx, session, successPayload(t, launch.Launch.Reference))
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStageReview, view.Stage)
	assert.Equal(t, []string{NoticeSignInToSave}, view.Notices)

	_, err = f.svc.Confirm(ctx, session, ConfirmInput{Confirm: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.Empty(t, f.orders.byKey)
	assert.Equal(t, 0, f.cart.clears)

	current, err := f.svc.Get(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStageReview, current.Stage)
	assert.False(t, current.Placed)
}

func TestServiceConfirmRequiresExplicitConfirmation(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.Confirm(context.Background(), signedIn(), ConfirmInput{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestServiceConfirmBeforeReviewConflicts(t *testing.T) {
	f := newCheckoutFixture(t)
	session := signedIn()
	f.toPayment(t, session)

	_, err := f.svc.Confirm(context.Background(), session, ConfirmInput{Confirm: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 0, f.cart.clears)
}

func TestServicePaymentCancelledRecordsAndReturnsToShipping(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	f.toPayment(t, session)
	view, err := f.svc.PaymentCancelled(ctx, session, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStageShipping, view.Stage)
	require.NotNil(t, view.Shipping)
	assert.Equal(t, []enums.PaymentStatus{enums.PaymentStatusCancelled}, f.orders.statuses)
	assert.Equal(t, 0, f.cart.clears)
	for _, order := range f.orders.byKey {
		assert.Empty(t, order.ReferenceID)
	}
}

func TestServicePaymentFailedStaysInPayment(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()
	f.adapter.status = enums.PaymentStatusFailed

	launch := f.toPayment(t, session)
	view, err := f.svc.PaymentSucceeded(ctx, session, successPayload(t, launch.Launch.Reference))
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStagePayment, view.Stage)
	assert.Equal(t, enums.PaymentStatusFailed, view.Payment.Status)
	assert.Equal(t, 0, f.orders.calls)

	retry, err := f.svc.StartPayment(ctx, session)
	require.NoError(t, err)
	assert.NotEqual(t, launch.Launch.Reference, retry.Launch.Reference)
}

func TestServicePaymentCallbackWithoutPendingOutcome(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	_, err := f.svc.Begin(ctx, session)
	require.NoError(t, err)
	_, err = f.svc.PaymentSucceeded(ctx, session, successPayload(t, "ref"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 0, f.adapter.normalize)
}

func TestServiceShippingProfilePrompt(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	_, err := f.svc.Begin(ctx, session)
	require.NoError(t, err)
	result, err := f.svc.SubmitShipping(ctx, session, shippingDetails())
	require.NoError(t, err)
	assert.Equal(t, enums.ProfilePromptSave, result.Prompt)
	assert.Equal(t, enums.CheckoutStagePayment, result.View.Stage)

	view, err := f.svc.SaveShippingProfile(ctx, session, enums.ProfileDecisionSave)
	require.NoError(t, err)
	assert.Equal(t, enums.ProfilePromptNone, view.ProfilePrompt)
	assert.Equal(t, 1, f.shipping.writes)

	_, err = f.svc.Back(ctx, session)
	require.NoError(t, err)
	again, err := f.svc.SubmitShipping(ctx, session, shippingDetails())
	require.NoError(t, err)
	assert.Equal(t, enums.ProfilePromptNone, again.Prompt)
}

func TestServiceDeclineLeavesProfileAlone(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	session := signedIn()

	_, err := f.svc.Begin(ctx, session)
	require.NoError(t, err)
	_, err = f.svc.SubmitShipping(ctx, session, shippingDetails())
	require.NoError(t, err)

	_, err = f.svc.SaveShippingProfile(ctx, session, enums.ProfileDecisionDecline)
	require.NoError(t, err)
	assert.Equal(t, 0, f.shipping.writes)
}

func TestServiceBusySessionConflicts(t *testing.T) {
	f := newCheckoutFixture(t)
	session := signedIn()
	f.backend.locks[f.backend.LockKey(lockScope, session.ID)] = "someone-else"

	_, err := f.svc.Begin(context.Background(), session)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestServiceRequiresSession(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.Begin(context.Background(), Session{ID: "  "})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
