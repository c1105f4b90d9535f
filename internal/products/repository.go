package product

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	"github.com/angelmondragon/threadline-backend/pkg/pagination"
)

// ListQuery narrows a catalog page.
type ListQuery struct {
	Category string
	Cursor   *pagination.Cursor
	Limit    int
}

// Repository wires together all catalog persistence helpers.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// GetByID loads one product. Missing rows return gorm.ErrRecordNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByIDs loads the products in ids. Unknown ids are skipped.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []models.Product
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error
	return products, err
}

// List returns up to q.Limit+1 products, newest first.
func (r *Repository) List(ctx context.Context, q ListQuery) ([]models.Product, error) {
	tx := r.db.WithContext(ctx).Model(&models.Product{})
	if category := strings.TrimSpace(q.Category); category != "" {
		tx = tx.Where("category = ?", category)
	}
	var products []models.Product
	err := pagination.Apply(tx, "products", q.Cursor, q.Limit).Find(&products).Error
	return products, err
}

// Count returns the number of catalog products.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Product{}).Count(&count).Error
	return count, err
}

func (r *Repository) Create(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *Repository) Update(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Save(product).Error
}

// Delete removes a product. Missing rows return gorm.ErrRecordNotFound.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListCategories returns every category ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := r.db.WithContext(ctx).Order("name ASC").Find(&categories).Error
	return categories, err
}

func (r *Repository) CreateCategory(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Create(category).Error
}

// ListFeatured returns active collections in display order, optionally for one category.
func (r *Repository) ListFeatured(ctx context.Context, category string) ([]models.FeaturedCollection, error) {
	tx := r.db.WithContext(ctx).Where("is_active = ?", true)
	if category = strings.TrimSpace(category); category != "" {
		tx = tx.Where("category = ?", category)
	}
	var collections []models.FeaturedCollection
	err := tx.Order("display_order ASC").Order("created_at ASC").Find(&collections).Error
	return collections, err
}

func (r *Repository) GetFeatured(ctx context.Context, id uuid.UUID) (*models.FeaturedCollection, error) {
	var collection models.FeaturedCollection
	if err := r.db.WithContext(ctx).First(&collection, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &collection, nil
}

func (r *Repository) CreateFeatured(ctx context.Context, collection *models.FeaturedCollection) error {
	return r.db.WithContext(ctx).Create(collection).Error
}

func (r *Repository) UpdateFeatured(ctx context.Context, collection *models.FeaturedCollection) error {
	return r.db.WithContext(ctx).Save(collection).Error
}

// DeleteFeatured removes a collection. Missing rows return gorm.ErrRecordNotFound.
func (r *Repository) DeleteFeatured(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.FeaturedCollection{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
