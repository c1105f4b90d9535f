package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func readMigration(t *testing.T, dir, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no %s migration in %s", suffix, dir)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestOrderHistoryMigrationEnforcesIdempotency(t *testing.T) {
	for _, dir := range []string{"migrations", "migrations_sqlite"} {
		content := readMigration(t, dir, "create_order_history")
		for _, sub := range []string{
			"CREATE TABLE IF NOT EXISTS order_history",
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_history_idempotency_key",
			"CHECK (payment_status IN ('pending', 'successful', 'cancelled', 'failed'))",
		} {
			assert.Contains(t, content, sub, dir)
		}
	}
}

func TestCartAndShippingMigrationsAreKeyedPerUser(t *testing.T) {
	cart := readMigration(t, "migrations", "create_cart_items")
	assert.Contains(t, cart, "ux_cart_items_user_product_size ON cart_items (user_id, product_id, size)")
	assert.Contains(t, cart, "CHECK (quantity > 0)")

	shipping := readMigration(t, "migrations", "create_shipping_info")
	assert.Contains(t, shipping, "ux_shipping_info_user_id ON shipping_info (user_id)")
}

func TestMigrationDirsMirrorEachOther(t *testing.T) {
	require.NoError(t, ValidateDir("migrations"))
	require.NoError(t, ValidateDir("migrations_sqlite"))

	pg, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	lite, err := filepath.Glob(filepath.Join("migrations_sqlite", "*.sql"))
	require.NoError(t, err)

	names := func(paths []string) []string {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			out = append(out, filepath.Base(p))
		}
		return out
	}
	assert.Equal(t, names(pg), names(lite))

	for _, p := range lite {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.NotContains(t, strings.ToLower(string(data)), "jsonb", p)
		assert.NotContains(t, string(data), "now()", p)
	}
}

func TestDirForDriver(t *testing.T) {
	assert.Equal(t, DefaultSQLiteDir, DirForDriver("sqlite"))
	assert.Equal(t, DefaultSQLiteDir, DirForDriver("SQLITE3"))
	assert.Equal(t, DefaultDir, DirForDriver("postgres"))
	assert.Equal(t, DefaultDir, DirForDriver(""))
}

func TestSQLiteMigrationsApply(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, Run(ctx, sqlDB, "sqlite", "migrations_sqlite", "up"))

	insert := `INSERT INTO order_history (id, order_total, order_details, payment_status, idempotency_key) VALUES (?, 10, '{}', 'successful', ?)`
	require.NoError(t, gdb.Exec(insert, uuid.NewString(), "attempt-1").Error)
	assert.Error(t, gdb.Exec(insert, uuid.NewString(), "attempt-1").Error)
	assert.Error(t, gdb.Exec(`INSERT INTO order_history (id, order_total, order_details, payment_status, idempotency_key) VALUES (?, 10, '{}', 'refunded', ?)`, uuid.NewString(), "attempt-2").Error)

	require.NoError(t, Run(ctx, sqlDB, "sqlite", "migrations_sqlite", "reset"))
	var count int64
	require.NoError(t, gdb.Raw(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'order_history'`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	paths, err := CreateSQLMigration([]string{dir}, "Add Order Notes!", time.Now())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	path := paths[0]
	assert.True(t, strings.HasSuffix(path, "_add_order_notes.sql"))
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration([]string{dir}, "!!!", time.Now())
	assert.Error(t, err)
}

func TestMigrateToVersionWalksBothWays(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Run(ctx, sqlDB, "sqlite", "migrations_sqlite", "up"))
	latest, err := Version(ctx, sqlDB, "sqlite")
	require.NoError(t, err)
	assert.Positive(t, latest)

	require.NoError(t, MigrateToVersion(ctx, sqlDB, "sqlite", "migrations_sqlite", "0"))
	version, err := Version(ctx, sqlDB, "sqlite")
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, MigrateToVersion(ctx, sqlDB, "sqlite", "migrations_sqlite", strconv.FormatInt(latest, 10)))
	version, err = Version(ctx, sqlDB, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	assert.ErrorContains(t, MigrateToVersion(ctx, sqlDB, "sqlite", "migrations_sqlite", "latest"), "YYYYMMDDHHMMSS")
}
