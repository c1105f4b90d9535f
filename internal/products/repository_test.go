package product

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE categories (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
		`CREATE UNIQUE INDEX ux_categories_name ON categories (lower(name));`,
		`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price NUMERIC NOT NULL,
  category TEXT NOT NULL,
  image_url TEXT NOT NULL DEFAULT '',
  sizes TEXT NOT NULL DEFAULT '[]',
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE featured_collections (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  image_url TEXT NOT NULL DEFAULT '',
  product_ids TEXT NOT NULL DEFAULT '[]',
  category TEXT NOT NULL DEFAULT '',
  display_order INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

func mustInsertProduct(t *testing.T, conn *gorm.DB, name, category string, createdAt time.Time) models.Product {
	t.Helper()
	p := models.Product{
		ID:        uuid.New(),
		Name:      name,
		Price:     decimal.NewFromInt(5000),
		Category:  category,
		Sizes:     []string{"S", "M"},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, conn.Create(&p).Error)
	return p
}

func TestRepositoryListNewestFirst(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	repo := NewRepository(conn)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var inserted []models.Product
	for i := 0; i < 9; i++ {
		inserted = append(inserted, mustInsertProduct(t, conn, fmt.Sprintf("p%d", i), "tops", base.Add(time.Duration(i)*time.Minute)))
	}

	rows, err := repo.List(ctx, ListQuery{Limit: PageSize})
	require.NoError(t, err)
	require.Len(t, rows, PageSize+1, "one extra row signals the next page")
	assert.Equal(t, inserted[8].ID, rows[0].ID)
	assert.Equal(t, []string{"S", "M"}, rows[0].Sizes)
}

func TestRepositoryListByCategory(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	repo := NewRepository(conn)
	now := time.Now().UTC()

	mustInsertProduct(t, conn, "tee", "tops", now)
	mustInsertProduct(t, conn, "jeans", "bottoms", now.Add(time.Second))

	rows, err := repo.List(ctx, ListQuery{Category: "bottoms", Limit: PageSize})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "jeans", rows[0].Name)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRepositoryProductLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t))

	p := &models.Product{ID: uuid.New(), Name: "Ankara shirt", Price: decimal.RequireFromString("12500.50"), Category: "shirts", Sizes: []string{"M", "3XL"}}
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, []string{"M", "3XL"}, got.Sizes)

	got.Name = "Ankara shirt v2"
	require.NoError(t, repo.Update(ctx, got))
	again, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ankara shirt v2", again.Name)

	require.NoError(t, repo.Delete(ctx, p.ID))
	assert.ErrorIs(t, repo.Delete(ctx, p.ID), gorm.ErrRecordNotFound)
	_, err = repo.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryFeaturedFilters(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	repo := NewRepository(conn)

	active := &models.FeaturedCollection{ID: uuid.New(), Title: "Summer", Category: "tops", DisplayOrder: 2, IsActive: true}
	first := &models.FeaturedCollection{ID: uuid.New(), Title: "New in", DisplayOrder: 1, IsActive: true}
	hidden := &models.FeaturedCollection{ID: uuid.New(), Title: "Old", DisplayOrder: 0, IsActive: false}
	for _, c := range []*models.FeaturedCollection{active, first, hidden} {
		require.NoError(t, repo.CreateFeatured(ctx, c))
	}

	all, err := repo.ListFeatured(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)

	tops, err := repo.ListFeatured(ctx, "tops")
	require.NoError(t, err)
	require.Len(t, tops, 1)
	assert.Equal(t, active.ID, tops[0].ID)

	require.NoError(t, repo.DeleteFeatured(ctx, hidden.ID))
	assert.ErrorIs(t, repo.DeleteFeatured(ctx, hidden.ID), gorm.ErrRecordNotFound)
}
