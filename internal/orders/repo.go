package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/pagination"
)

// IdempotencyConstraint is the unique index guarding one order per payment outcome.
const IdempotencyConstraint = "ux_order_history_idempotency_key"

// Repository defines persistence operations for order_history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindForUser(ctx context.Context, userID, id uuid.UUID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	FindLatestByReference(ctx context.Context, reference string) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	List(ctx context.Context, filters ListFilters, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	ListCreatedBetween(ctx context.Context, filters ListFilters, limit int) ([]models.Order, error)
	UpdatePayment(ctx context.Context, id uuid.UUID, details models.OrderDetails, status enums.PaymentStatus) error
	Recent(ctx context.Context, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindForUser(ctx context.Context, userID, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindLatestByReference matches the processor reference or, for processors that echo
// our own reference, the idempotency key.
func (r *repository) FindLatestByReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("reference_id = ? OR idempotency_key = ?", reference, reference).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	var rows []models.Order
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	err := pagination.Apply(q, "order_history", cursor, limit).Find(&rows).Error
	return rows, err
}

// ListFilters narrows admin listings.
type ListFilters struct {
	PaymentStatus *enums.PaymentStatus
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

func (r *repository) List(ctx context.Context, filters ListFilters, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	var rows []models.Order
	q := applyFilters(r.db.WithContext(ctx), filters)
	err := pagination.Apply(q, "order_history", cursor, limit).Find(&rows).Error
	return rows, err
}

// ListCreatedBetween returns up to limit rows matching filters, oldest first.
func (r *repository) ListCreatedBetween(ctx context.Context, filters ListFilters, limit int) ([]models.Order, error) {
	var rows []models.Order
	q := applyFilters(r.db.WithContext(ctx), filters).Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func applyFilters(q *gorm.DB, filters ListFilters) *gorm.DB {
	if filters.PaymentStatus != nil {
		q = q.Where("payment_status = ?", *filters.PaymentStatus)
	}
	if filters.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *filters.CreatedFrom)
	}
	if filters.CreatedTo != nil {
		q = q.Where("created_at < ?", *filters.CreatedTo)
	}
	return q
}

func (r *repository) UpdatePayment(ctx context.Context, id uuid.UUID, details models.OrderDetails, status enums.PaymentStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{ID: id}).
		Select("order_details", "payment_status").
		Updates(&models.Order{OrderDetails: details, PaymentStatus: status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) Recent(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
