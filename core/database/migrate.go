package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/ridesbot/core/logger"
)

const (
	defaultMigrationsDir = "migrations"
	migComponent         = "db.migrate"
	readyTimeout         = 30 * time.Second
	readyInterval        = 2 * time.Second
)

// migrations are the up scripts of a directory, ordered by version.
type migrations []string

// RunMigrations waits for Postgres and applies every pending up migration
// from cfg.MigrationsDir.
func RunMigrations(cfg Config) error {
	ctx := context.Background()
	fail := func(stage string, err error) error {
		logger.Error(ctx, migComponent, stage,
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("migrate %s: %w", stage, err)
	}

	dsn := cfg.URL()
	if err := WaitForPostgres(dsn, readyTimeout, readyInterval); err != nil {
		return fail("wait", err)
	}
	dir, err := resolveMigrationsDir(cfg.MigrationsDir)
	if err != nil {
		return fail("resolve", err)
	}
	files := listMigrationFiles(dir)
	logger.Debug(ctx, migComponent, "resolve", files.attrs(slog.String("path", dir))...)

	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fail("init", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn(ctx, migComponent, "close",
				slog.String("status", "fail"),
				slog.String("err", errors.Join(srcErr, dbErr).Error()),
			)
		}
	}()

	from, _, _ := m.Version()
	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fail("apply", err)
	}
	to, _, _ := m.Version()

	applied := files.between(uint64(from), uint64(to))
	if len(applied) > 0 {
		logger.Debug(ctx, migComponent, "apply", applied.attrs()...)
	}
	logger.Info(ctx, migComponent, "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func resolveMigrationsDir(dir string) (string, error) {
	if dir == "" {
		dir = defaultMigrationsDir
	}
	return filepath.Abs(dir)
}

// listMigrationFiles returns nil when dir cannot be read; migrate reports
// the real error afterwards.
func listMigrationFiles(dir string) migrations {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out migrations
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out
}

// between keeps versions in (from, to].
func (ms migrations) between(from, to uint64) migrations {
	var out migrations
	for _, name := range ms {
		if v := parseVersion(name); v > from && v <= to {
			out = append(out, name)
		}
	}
	return out
}

func (ms migrations) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := append(extra, slog.Int("files_total", len(ms)))
	if preview, truncated := logger.SummarizeStrings(ms, 6); preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
		if truncated {
			attrs = append(attrs, slog.Bool("files_truncated", true))
		}
	}
	return attrs
}

// parseVersion reads the numeric prefix of "000002_name.up.sql"; 0 if absent.
func parseVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}
