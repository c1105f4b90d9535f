package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// versionLayout is goose's timestamp version format.
const versionLayout = "20060102150405"

// CreateSQLMigration writes an empty goose migration named <version>_<name>.sql into
// every dir, all sharing one version so the Postgres and SQLite schemas stay paired.
// Nothing is written when any target file already exists.
func CreateSQLMigration(dirs []string, name string, now time.Time) ([]string, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one dir is required")
	}
	safe := sanitizeName(name)
	if safe == "" {
		return nil, fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	filename := fmt.Sprintf("%s_%s.sql", now.UTC().Format(versionLayout), safe)
	paths := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			return nil, fmt.Errorf("dir is required")
		}
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("migration already exists: %s", path)
		}
		paths = append(paths, path)
	}

	for i, path := range paths {
		if err := os.MkdirAll(dirs[i], 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %q: %w", dirs[i], err)
		}
		if err := os.WriteFile(path, []byte(migrationTemplate(safe, dirs[i])), 0o644); err != nil {
			return nil, fmt.Errorf("write migration %q: %w", path, err)
		}
	}
	return paths, nil
}

func sanitizeName(name string) string {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	return strings.Trim(safe, "_")
}

func migrationTemplate(name, dir string) string {
	dialect := "postgres"
	if strings.Contains(filepath.Base(dir), "sqlite") {
		dialect = "sqlite"
	}
	return fmt.Sprintf(`-- %s (%s)

-- +goose Up
-- +goose StatementBegin
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- +goose StatementEnd
`, name, dialect)
}
