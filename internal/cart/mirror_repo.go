package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
)

// MirrorKind names the write a cart mutation implies for the per-user store.
type MirrorKind string

const (
	MirrorUpsertIncrement MirrorKind = "upsert_increment"
	MirrorSetQuantity     MirrorKind = "set_quantity"
	MirrorDelete          MirrorKind = "delete"
	MirrorDeleteAll       MirrorKind = "delete_all"
)

// MirrorOp is one write against the cart_items rows of UserID. The zero value means
// nothing to replicate.
type MirrorOp struct {
	Kind   MirrorKind
	UserID uuid.UUID
	Line   Line
}

func (o MirrorOp) IsZero() bool {
	return o.Kind == ""
}

// MirrorRepository persists the per-user replica of session carts.
type MirrorRepository struct {
	db *gorm.DB
}

// NewMirrorRepository binds the repository to the provided GORM connection.
func NewMirrorRepository(db *gorm.DB) *MirrorRepository {
	return &MirrorRepository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *MirrorRepository) WithTx(tx *gorm.DB) *MirrorRepository {
	if tx == nil {
		return r
	}
	return &MirrorRepository{db: tx}
}

// ListForUser returns the rows of userID in insertion order.
func (r *MirrorRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// UpsertIncrement inserts line for userID, or adds its quantity to an existing row for
// the same product and size.
func (r *MirrorRepository) UpsertIncrement(ctx context.Context, userID uuid.UUID, line Line) error {
	row := rowFromLine(userID, line)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}, {Name: "size"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("cart_items.quantity + excluded.quantity"),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
}

// SetQuantity writes line.Quantity for the matching row, inserting it when absent. A
// quantity below 1 deletes the row instead.
func (r *MirrorRepository) SetQuantity(ctx context.Context, userID uuid.UUID, line Line) error {
	if line.Quantity < 1 {
		return r.Delete(ctx, userID, line.ProductID, line.Size)
	}
	row := rowFromLine(userID, line)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}, {Name: "size"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   row.Quantity,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
}

// Delete removes the (productID, size) row of userID. Missing rows are not an error.
func (r *MirrorRepository) Delete(ctx context.Context, userID, productID uuid.UUID, size string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND size = ?", userID, productID, size).
		Delete(&models.CartItem{}).Error
}

// DeleteAll removes every row of userID.
func (r *MirrorRepository) DeleteAll(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.CartItem{}).Error
}

func rowFromLine(userID uuid.UUID, line Line) models.CartItem {
	now := time.Now().UTC()
	return models.CartItem{
		ID:        uuid.New(),
		UserID:    userID,
		ProductID: line.ProductID,
		Name:      line.Name,
		Price:     line.UnitPrice,
		Category:  line.Category,
		ImageURL:  line.ImageURL,
		Size:      line.Size,
		Quantity:  line.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LinesFromRows converts mirror rows back into cart lines.
func LinesFromRows(rows []models.CartItem) []Line {
	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, Line{
			ProductID: row.ProductID,
			Name:      row.Name,
			UnitPrice: row.Price,
			Category:  row.Category,
			ImageURL:  row.ImageURL,
			Size:      row.Size,
			Quantity:  row.Quantity,
		})
	}
	return lines
}
