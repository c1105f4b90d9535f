package shipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

// Repository persists the saved shipping profile of signed-in users.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// GetByUser returns the profile of userID. Missing rows return gorm.ErrRecordNotFound.
func (r *Repository) GetByUser(ctx context.Context, userID uuid.UUID) (*models.ShippingInfo, error) {
	var info models.ShippingInfo
	if err := r.db.WithContext(ctx).First(&info, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &info, nil
}

// Upsert writes the single profile row of userID.
func (r *Repository) Upsert(ctx context.Context, userID uuid.UUID, details types.ShippingDetails) (*models.ShippingInfo, error) {
	now := time.Now().UTC()
	info := models.ShippingInfo{
		ID:           uuid.New(),
		UserID:       userID,
		ShippingInfo: details,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"shipping_info", "updated_at"}),
	}).Create(&info).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUser(ctx, userID)
}

// DeleteByUser removes the profile of userID. Missing rows return gorm.ErrRecordNotFound.
func (r *Repository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.ShippingInfo{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
