package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/cart"
	"github.com/angelmondragon/threadline-backend/internal/payment"
	"github.com/angelmondragon/threadline-backend/pkg/db"
	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/metrics"
	"github.com/angelmondragon/threadline-backend/pkg/outbox"
	"github.com/angelmondragon/threadline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/threadline-backend/pkg/pagination"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

const (
	// HistoryPageSize is the default page of a shopper's order history.
	HistoryPageSize = 10
	// StatsWindow is how many recent orders the dashboard aggregates.
	StatsWindow = 50

	sourceAdmin = "admin"
)

// ErrSignInRequired is returned when an order write has no signed-in identity.
var ErrSignInRequired = pkgerrors.New(pkgerrors.CodeUnauthorized, "You must be signed in to place an order.")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type identitySource interface {
	CurrentIdentity(ctx context.Context) (*auth.Identity, error)
}

type productCounter interface {
	Count(ctx context.Context) (int64, error)
}

// RecordInput is everything needed to persist one order.
type RecordInput struct {
	Snapshot cart.Snapshot
	Shipping types.ShippingDetails
	Payment  payment.Outcome
	// Identity is the identity already resolved for the request, if any.
	Identity       *auth.Identity
	IdempotencyKey string
	DeliveryPrice  decimal.Decimal
}

// AdminListInput filters the back-office order list.
type AdminListInput struct {
	PaymentStatus *enums.PaymentStatus
	Pagination    pagination.Params
}

// Service records orders and serves order history and the back-office.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*RecordResult, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[OrderDTO], error)
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error)
	AdminList(ctx context.Context, input AdminListInput) (*pagination.Page[OrderDTO], error)
	AdminMarkPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus, actor *auth.Identity) (*OrderDTO, error)
	// MarkPaidByReference flips a pending or cancelled order to successful. The bool
	// reports whether a change was written.
	MarkPaidByReference(ctx context.Context, reference, source string) (*OrderDTO, bool, error)
	Stats(ctx context.Context) (*StatsDTO, error)
}

// ServiceParams bundles the dependencies of the order service.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Identities identitySource
	Products   productCounter
	Logger     *logger.Logger
	Metrics    *metrics.OrderMetrics
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	identities identitySource
	products   productCounter
	logg       *logger.Logger
	metrics    *metrics.OrderMetrics
	now        func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Identities == nil:
		return nil, fmt.Errorf("identity source required")
	case params.Products == nil:
		return nil, fmt.Errorf("product counter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		identities: params.Identities,
		products:   params.Products,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*RecordResult, error) {
	status := input.Payment.Status
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment status is invalid")
	}
	if len(input.Snapshot.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot record an order without items")
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(input.Payment.ID)
	}
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}

	identity := input.Identity
	if identity == nil {
		resolved, err := s.identities.CurrentIdentity(ctx)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
			s.metrics.ObserveRecord(status.String(), metrics.OrderFailed)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve identity")
		}
		identity = resolved
	}
	if identity == nil {
		s.metrics.ObserveRecord(status.String(), metrics.OrderUnauthorized)
		s.logg.Warn(s.logg.WithField(ctx, "idempotency_key", key), "orders.record.unauthenticated")
		return nil, ErrSignInRequired
	}

	userID := identity.UserID
	order := buildOrder(input, userID, key, s.now().UTC())
	logCtx := s.logg.WithFields(s.logg.WithUserID(ctx, userID.String()), map[string]any{
		"order_id":        order.ID.String(),
		"idempotency_key": key,
		"payment_status":  status.String(),
	})

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRecorded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: &userID, Role: string(identity.Role)},
			Data:          recordedEvent(order),
			OccurredAt:    order.CreatedAt,
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err, IdempotencyConstraint) {
			return s.existingForKey(logCtx, key, userID, status)
		}
		s.metrics.ObserveRecord(status.String(), metrics.OrderFailed)
		s.logg.Error(logCtx, "orders.record.failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order")
	}

	s.metrics.ObserveRecord(status.String(), metrics.OrderCreated)
	s.logg.Info(logCtx, "orders.recorded")
	return &RecordResult{Order: NewOrderDTO(*order)}, nil
}

func (s *service) existingForKey(ctx context.Context, key string, userID uuid.UUID, status enums.PaymentStatus) (*RecordResult, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		s.metrics.ObserveRecord(status.String(), metrics.OrderFailed)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing order")
	}
	if existing.UserID == nil || *existing.UserID != userID {
		s.metrics.ObserveRecord(status.String(), metrics.OrderFailed)
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used")
	}
	s.metrics.ObserveRecord(status.String(), metrics.OrderDuplicate)
	s.logg.Info(ctx, "orders.record.duplicate")
	return &RecordResult{Order: NewOrderDTO(*existing), Duplicate: true}, nil
}

func buildOrder(input RecordInput, userID uuid.UUID, key string, now time.Time) *models.Order {
	items := make([]models.OrderItem, 0, len(input.Snapshot.Lines))
	total := decimal.Zero
	for _, line := range input.Snapshot.Lines {
		items = append(items, models.OrderItem{
			ID:       line.ProductID,
			Name:     line.Name,
			Price:    line.UnitPrice,
			Quantity: line.Quantity,
			Size:     line.Size,
			ImageURL: line.ImageURL,
			Category: line.Category,
		})
		total = total.Add(line.Subtotal())
	}
	reference := strings.TrimSpace(input.Payment.Reference)
	uid := userID
	return &models.Order{
		ID:         uuid.New(),
		UserID:     &uid,
		OrderTotal: total.Add(input.DeliveryPrice),
		OrderDetails: models.OrderDetails{
			Items:    items,
			Shipping: input.Shipping.Trimmed(),
			Payment: models.OrderPayment{
				Status:    input.Payment.Status,
				Provider:  input.Payment.Provider,
				Reference: reference,
				Raw:       input.Payment.Raw,
			},
		},
		ReferenceID:    reference,
		DeliveryPrice:  input.DeliveryPrice,
		PaymentStatus:  input.Payment.Status,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
}

func recordedEvent(order *models.Order) payloads.OrderRecordedEvent {
	items := make([]payloads.OrderRecordedItem, 0, len(order.OrderDetails.Items))
	for _, item := range order.OrderDetails.Items {
		items = append(items, payloads.OrderRecordedItem{
			ProductID: item.ID,
			Name:      item.Name,
			Category:  item.Category,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	shipping := order.OrderDetails.Shipping
	return payloads.OrderRecordedEvent{
		OrderID:         order.ID,
		UserID:          order.UserID,
		OrderTotal:      order.OrderTotal,
		PaymentStatus:   order.PaymentStatus,
		Provider:        order.OrderDetails.Payment.Provider,
		ReferenceID:     order.ReferenceID,
		Items:           items,
		ShippingCity:    shipping.City,
		ShippingState:   shipping.State,
		ShippingCountry: shipping.Country,
		RecordedAt:      order.CreatedAt,
	}
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[OrderDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit, HistoryPageSize)
	rows, err := s.repo.ListForUser(ctx, userID, cursor, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return toPage(rows, limit), nil
}

func (s *service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindForUser(ctx, userID, orderID)
	if err != nil {
		return nil, mapLookupError(err, "load order")
	}
	dto := NewOrderDTO(*order)
	return &dto, nil
}

func (s *service) AdminList(ctx context.Context, input AdminListInput) (*pagination.Page[OrderDTO], error) {
	if input.PaymentStatus != nil && !input.PaymentStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status filter")
	}
	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(input.Pagination.Limit, pagination.DefaultLimit)
	rows, err := s.repo.List(ctx, ListFilters{PaymentStatus: input.PaymentStatus}, cursor, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return toPage(rows, limit), nil
}

func (s *service) AdminMarkPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus, actor *auth.Identity) (*OrderDTO, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status")
	}
	var ref *outbox.ActorRef
	if actor != nil {
		uid := actor.UserID
		ref = &outbox.ActorRef{UserID: &uid, Role: string(actor.Role)}
	}
	order, _, err := s.updatePaymentStatus(ctx, orderID, status, sourceAdmin, ref, nil)
	if err != nil {
		return nil, err
	}
	dto := NewOrderDTO(*order)
	return &dto, nil
}

func (s *service) MarkPaidByReference(ctx context.Context, reference, source string) (*OrderDTO, bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	existing, err := s.repo.FindLatestByReference(ctx, reference)
	if err != nil {
		return nil, false, mapLookupError(err, "load order by reference")
	}
	allowed := func(current enums.PaymentStatus) bool {
		return current == enums.PaymentStatusPending || current == enums.PaymentStatusCancelled
	}
	order, changed, err := s.updatePaymentStatus(ctx, existing.ID, enums.PaymentStatusSuccessful, source, nil, allowed)
	if err != nil {
		return nil, false, err
	}
	dto := NewOrderDTO(*order)
	return &dto, changed, nil
}

// updatePaymentStatus rewrites the status inside a transaction and emits
// order_payment_updated. allowed, when set, guards the current status; a rejected or
// unchanged status writes nothing.
func (s *service) updatePaymentStatus(
	ctx context.Context,
	orderID uuid.UUID,
	status enums.PaymentStatus,
	source string,
	actor *outbox.ActorRef,
	allowed func(enums.PaymentStatus) bool,
) (*models.Order, bool, error) {
	var (
		order   *models.Order
		changed bool
	)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":       orderID.String(),
		"payment_status": status.String(),
		"source":         source,
	})
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		order = current
		previous := current.PaymentStatus
		if previous == status {
			return nil
		}
		if allowed != nil && !allowed(previous) {
			s.logg.Warn(s.logg.WithField(logCtx, "previous_status", previous.String()), "orders.payment_status.skipped")
			return nil
		}

		details := current.OrderDetails
		details.Payment.Status = status
		if err := repo.UpdatePayment(ctx, current.ID, details, status); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentUpdated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   current.ID,
			Actor:         actor,
			Data: payloads.OrderPaymentUpdatedEvent{
				OrderID:        current.ID,
				PreviousStatus: previous,
				PaymentStatus:  status,
				ReferenceID:    current.ReferenceID,
				Source:         source,
				UpdatedAt:      now,
			},
			OccurredAt: now,
		}); err != nil {
			return err
		}
		current.OrderDetails = details
		current.PaymentStatus = status
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		s.logg.Error(logCtx, "orders.payment_status.failed", err)
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	if changed {
		s.logg.Info(logCtx, "orders.payment_status.updated")
	}
	return order, changed, nil
}

func (s *service) Stats(ctx context.Context) (*StatsDTO, error) {
	products, err := s.products.Count(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count products")
	}
	recent, err := s.repo.Recent(ctx, StatsWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load recent orders")
	}
	stats := &StatsDTO{
		Products: products,
		Orders:   len(recent),
		Revenue:  decimal.Zero,
	}
	for _, order := range recent {
		stats.Revenue = stats.Revenue.Add(order.OrderTotal)
	}
	if len(recent) > 0 {
		latest := recent[0]
		stats.LatestOrder = &LatestOrderDTO{
			ID:          latest.ID,
			OrderTotal:  latest.OrderTotal,
			ReferenceID: latest.ReferenceID,
			CreatedAt:   latest.CreatedAt,
		}
	}
	return stats, nil
}

func toPage(rows []models.Order, limit int) *pagination.Page[OrderDTO] {
	page := pagination.Build(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	items := make([]OrderDTO, 0, len(page.Items))
	for _, row := range page.Items {
		items = append(items, NewOrderDTO(row))
	}
	return &pagination.Page[OrderDTO]{Items: items, NextCursor: page.NextCursor}
}

func mapLookupError(err error, msg string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
