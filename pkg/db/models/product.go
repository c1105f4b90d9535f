package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Sizes lists the size labels a shopper can pick.
type Product struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name        string          `gorm:"column:name;not null"`
	Description string          `gorm:"column:description"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Category    string          `gorm:"column:category;not null"`
	ImageURL    string          `gorm:"column:image_url"`
	Sizes       []string        `gorm:"column:sizes;type:jsonb;serializer:json"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }

// Category is a catalog grouping label.
type Category struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Category) TableName() string { return "categories" }

// FeaturedCollection is a curated product group shown on the storefront landing pages.
type FeaturedCollection struct {
	ID           uuid.UUID   `gorm:"column:id;type:uuid;primaryKey"`
	Title        string      `gorm:"column:title;not null"`
	Description  string      `gorm:"column:description"`
	ImageURL     string      `gorm:"column:image_url"`
	ProductIDs   []uuid.UUID `gorm:"column:product_ids;type:jsonb;serializer:json"`
	Category     string      `gorm:"column:category"`
	DisplayOrder int         `gorm:"column:display_order;not null"`
	IsActive     bool        `gorm:"column:is_active;not null"`
	CreatedAt    time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (FeaturedCollection) TableName() string { return "featured_collections" }
