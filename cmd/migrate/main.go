package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/threadline-backend/pkg/config"
	"github.com/angelmondragon/threadline-backend/pkg/db"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
	driver  string
	now     time.Time
	out     io.Writer
}

// explicitDir reports whether -dir was given. Without it, create and validate act on
// both the postgres and sqlite directories so they stay paired.
func (o options) explicitDir() bool {
	return o.dir != ""
}

func (o options) schemaDir() string {
	if o.explicitDir() {
		return o.dir
	}
	return migrate.DirForDriver(o.driver)
}

type command struct {
	usage string
	// offline commands never open a database connection.
	offline func(opts options) error
	online  func(ctx context.Context, sqlDB *sql.DB, opts options) error
}

var commands = map[string]command{
	"create": {
		usage: "write a new paired migration (-name)",
		offline: func(opts options) error {
			if strings.TrimSpace(opts.name) == "" {
				return errors.New("missing -name for create")
			}
			dirs := []string{migrate.DefaultDir, migrate.DefaultSQLiteDir}
			if opts.explicitDir() {
				dirs = []string{opts.dir}
			}
			paths, err := migrate.CreateSQLMigration(dirs, opts.name, opts.now)
			if err != nil {
				return fmt.Errorf("create migration: %w", err)
			}
			for _, path := range paths {
				fmt.Fprintln(opts.out, "created", path)
			}
			return nil
		},
	},
	"validate": {
		usage: "check migration files (and postgres/sqlite pairing without -dir)",
		offline: func(opts options) error {
			var err error
			if opts.explicitDir() {
				err = migrate.ValidateDir(opts.dir)
			} else {
				err = migrate.ValidatePaired(migrate.DefaultDir, migrate.DefaultSQLiteDir)
			}
			if err != nil {
				return fmt.Errorf("validate migrations: %w", err)
			}
			fmt.Fprintln(opts.out, "migrations valid")
			return nil
		},
	},
	"up":     gooseCommand("up", "apply all pending migrations"),
	"down":   gooseCommand("down", "roll back the latest migration"),
	"redo":   gooseCommand("redo", "roll back and re-apply the latest migration"),
	"status": gooseCommand("status", "print applied and pending migrations"),
	"version": {
		usage: "migrate up or down to -version (YYYYMMDDHHMMSS)",
		online: func(ctx context.Context, sqlDB *sql.DB, opts options) error {
			if opts.version == "" {
				return errors.New("missing -version")
			}
			return migrate.MigrateToVersion(ctx, sqlDB, opts.driver, opts.schemaDir(), opts.version)
		},
	},
}

func gooseCommand(name, usage string) command {
	return command{
		usage: usage,
		online: func(ctx context.Context, sqlDB *sql.DB, opts options) error {
			return migrate.Run(ctx, sqlDB, opts.driver, opts.schemaDir(), name)
		},
	}
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	opts := options{now: time.Now(), out: os.Stdout}
	fs.StringVar(&opts.cmd, "cmd", "up", "migration command: "+commandNames())
	fs.StringVar(&opts.dir, "dir", "", "migrations directory (defaults to the driver's directory)")
	fs.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	fs.StringVar(&opts.version, "version", "", "target version for -cmd=version")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if _, ok := commands[opts.cmd]; !ok {
		return options{}, fmt.Errorf("unknown -cmd %q (want %s)", opts.cmd, commandNames())
	}
	return opts, nil
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)
	opts.driver = cfg.DB.Driver

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Fields:      map[string]string{"env": cfg.App.Env},
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"cmd":    opts.cmd,
		"dir":    opts.schemaDir(),
		"driver": opts.driver,
	})

	cmd := commands[opts.cmd]
	if cmd.offline != nil {
		if err := cmd.offline(opts); err != nil {
			logg.Error(ctx, "migrate.failed", err)
			os.Exit(1)
		}
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "migrate.close_failed", err)
		}
	}()
	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	start := time.Now()
	if err := cmd.online(ctx, sqlDB, opts); err != nil {
		logg.Error(ctx, "migrate.failed", err)
		_ = dbClient.Close()
		os.Exit(1)
	}
	logg.Info(logg.WithField(ctx, "duration_ms", time.Since(start).Milliseconds()), "migrate.done")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
