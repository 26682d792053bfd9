package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// MigrateClickHouse applies the embedded ClickHouse migrations.
func MigrateClickHouse(ctx context.Context, log *slog.Logger, opts *clickhouse.Options) error {
	log.Info("running ClickHouse migrations with goose")

	db := clickhouse.OpenDB(opts)
	defer db.Close()

	if err := up(ctx, log, db, "clickhouse", ClickHouseMigrationsFS, "clickhouse/migrations"); err != nil {
		return fmt.Errorf("failed to run clickhouse migrations: %w", err)
	}

	log.Info("ClickHouse migrations completed successfully")
	return nil
}

// MigratePostgres applies the embedded PostgreSQL migrations.
func MigratePostgres(ctx context.Context, log *slog.Logger, url string) error {
	log.Info("running PostgreSQL migrations with goose")

	db, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("failed to open postgres for migrations: %w", err)
	}
	defer db.Close()

	if err := up(ctx, log, db, "postgres", PostgresMigrationsFS, "postgres/migrations"); err != nil {
		return fmt.Errorf("failed to run postgres migrations: %w", err)
	}

	log.Info("PostgreSQL migrations completed successfully")
	return nil
}

// goose keeps its logger, base FS and dialect in package state.
var gooseMu sync.Mutex

func up(ctx context.Context, log *slog.Logger, db *sql.DB, dialect string, fsys fs.FS, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(fsys)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, dir)
}
