package cart

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMirrorTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
CREATE TABLE cart_items (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price NUMERIC NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  image_url TEXT NOT NULL DEFAULT '',
  size TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  created_at DATETIME,
  updated_at DATETIME
);`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_cart_items_user_product_size ON cart_items (user_id, product_id, size);`).Error)
	return db
}

func mirrorLine(productID uuid.UUID, size string, qty int) Line {
	return Line{
		ProductID: productID,
		Name:      "Linen shirt",
		UnitPrice: decimal.NewFromInt(5000),
		Category:  "shirts",
		Size:      size,
		Quantity:  qty,
	}
}

func TestMirrorRepositoryUpsertIncrement(t *testing.T) {
	ctx := context.Background()
	repo := NewMirrorRepository(setupMirrorTestDB(t))
	user := uuid.New()
	product := uuid.New()

	require.NoError(t, repo.UpsertIncrement(ctx, user, mirrorLine(product, "M", 1)))
	require.NoError(t, repo.UpsertIncrement(ctx, user, mirrorLine(product, "M", 1)))
	require.NoError(t, repo.UpsertIncrement(ctx, user, mirrorLine(product, "L", 1)))

	rows, err := repo.ListForUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	bySize := map[string]int{}
	for _, row := range rows {
		bySize[row.Size] = row.Quantity
		assert.True(t, decimal.NewFromInt(5000).Equal(row.Price))
	}
	assert.Equal(t, 2, bySize["M"])
	assert.Equal(t, 1, bySize["L"])
}

func TestMirrorRepositorySetQuantity(t *testing.T) {
	ctx := context.Background()
	repo := NewMirrorRepository(setupMirrorTestDB(t))
	user := uuid.New()
	product := uuid.New()

	require.NoError(t, repo.SetQuantity(ctx, user, mirrorLine(product, "S", 3)), "missing row is inserted")
	require.NoError(t, repo.SetQuantity(ctx, user, mirrorLine(product, "S", 2)))

	rows, err := repo.ListForUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Quantity)

	require.NoError(t, repo.SetQuantity(ctx, user, mirrorLine(product, "S", 0)), "zero deletes the row")
	rows, err = repo.ListForUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMirrorRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMirrorRepository(setupMirrorTestDB(t))
	user := uuid.New()
	other := uuid.New()
	p1 := uuid.New()
	p2 := uuid.New()

	require.NoError(t, repo.UpsertIncrement(ctx, user, mirrorLine(p1, "M", 1)))
	require.NoError(t, repo.UpsertIncrement(ctx, user, mirrorLine(p2, "M", 1)))
	require.NoError(t, repo.UpsertIncrement(ctx, other, mirrorLine(p1, "M", 1)))

	require.NoError(t, repo.Delete(ctx, user, p1, "M"))
	require.NoError(t, repo.Delete(ctx, user, p1, "M"), "deleting twice is not an error")

	rows, err := repo.ListForUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, p2, rows[0].ProductID)

	require.NoError(t, repo.DeleteAll(ctx, user))
	rows, err = repo.ListForUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = repo.ListForUser(ctx, other)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "other users keep their rows")
}

func TestLinesFromRows(t *testing.T) {
	ctx := context.Background()
	repo := NewMirrorRepository(setupMirrorTestDB(t))
	user := uuid.New()
	product := uuid.New()
	require.NoError(t, repo.SetQuantity(ctx, user, mirrorLine(product, "XL", 4)))

	rows, err := repo.ListForUser(ctx, user)
	require.NoError(t, err)
	lines := LinesFromRows(rows)
	require.Len(t, lines, 1)
	assert.Equal(t, product, lines[0].ProductID)
	assert.Equal(t, "XL", lines[0].Size)
	assert.Equal(t, 4, lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(20000).Equal(lines[0].Subtotal()))
}
