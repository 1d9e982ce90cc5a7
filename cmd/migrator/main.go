package main

import (
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/technosupport/ts-licensing/internal/config"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to the YAML config file")
	source := flag.String("source", "file://db/migrations", "migration source URL")
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	// 1. Config (database.url / LICENSING_DATABASE_URL)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config", err)
	}

	// 2. Connect to DB
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal("open database", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fatal("ping database", err)
	}

	// 3. Init Migrate
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fatal("create migrate driver", err)
	}
	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		fatal("init migrate", err)
	}

	// 4. Run Commands
	start := time.Now()
	switch {
	case *upCmd:
		logger.Info("running up migrations")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal("migration up failed", err)
		}
	case *downCmd:
		logger.Info("running down migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal("migration down failed", err)
		}
	case *stepsCmd != 0:
		logger.Info("running migration steps", "steps", *stepsCmd)
		if err := m.Steps(*stepsCmd); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal("migration steps failed", err)
		}
	default:
		logger.Info("no command specified, use -up, -down or -steps")
		version, dirty, err := m.Version()
		if err != nil {
			logger.Info("no version found (empty db?)")
		} else {
			logger.Info("current version", "version", version, "dirty", dirty)
		}
	}
	logger.Info("done", "duration", time.Since(start))
}
