package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// ValidateDir checks migration filenames, version uniqueness and goose annotations.
func ValidateDir(dir string) error {
	_, err := listMigrations(dir)
	return err
}

// ValidatePaired validates both schema directories and requires them to hold the same
// migrations (version and name) so neither driver drifts behind the other.
func ValidatePaired(postgresDir, sqliteDir string) error {
	pg, err := listMigrations(postgresDir)
	if err != nil {
		return err
	}
	lite, err := listMigrations(sqliteDir)
	if err != nil {
		return err
	}
	var missing []string
	for file := range pg {
		if _, ok := lite[file]; !ok {
			missing = append(missing, filepath.Join(sqliteDir, file))
		}
	}
	for file := range lite {
		if _, ok := pg[file]; !ok {
			missing = append(missing, filepath.Join(postgresDir, file))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("unpaired migrations, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// listMigrations returns the valid migration filenames of dir as a set.
func listMigrations(dir string) (map[string]struct{}, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	files := map[string]struct{}{}
	versions := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := versions[m[1]]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", name, err)
		}
		if err := checkAnnotations(name, string(body)); err != nil {
			return nil, err
		}
		files[name] = struct{}{}
	}
	return files, nil
}

func checkAnnotations(name, body string) error {
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	case down < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	case down < up:
		return fmt.Errorf("migration %q has Down before Up", name)
	}
	if strings.Count(body, "-- +goose StatementBegin") != strings.Count(body, "-- +goose StatementEnd") {
		return fmt.Errorf("migration %q has unbalanced StatementBegin/StatementEnd", name)
	}
	return nil
}
