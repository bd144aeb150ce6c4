package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Repo is the domain store on Postgres. It implements domain.DocumentStore and domain.BatchStore.
type Repo struct {
	pool   *pgxpool.Pool
	schema string
	logger domain.Logger
}

// NewRepo applies pending migrations when enabled and opens the pool. The returned
// cleanup closes the pool.
func NewRepo(ctx context.Context, cfg config.PostgresConfig, logger domain.Logger) (*Repo, func(), error) {
	if cfg.DSN == "" {
		return nil, nil, fmt.Errorf("postgres dsn is not configured")
	}
	if cfg.RunMigrations {
		if err := runMigrations(ctx, cfg.DSN, logger); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open pool: %w", err)
	}
	logger.Info(ctx, "Postgres pool initialized", "max_conns", poolCfg.MaxConns)

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	r := &Repo{pool: pool, schema: schema, logger: logger}
	return r, r.Close, nil
}

// Close closes the pool.
func (r *Repo) Close() {
	r.pool.Close()
	r.logger.Info(context.Background(), "Postgres pool closed")
}

func runMigrations(ctx context.Context, dsn string, logger domain.Logger) error {
	// migrate needs a database/sql handle; it is separate from the pool
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql.Open pgx: %w", err)
	}
	defer sqldb.Close()

	driver, err := migratepg.WithInstance(sqldb, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	src, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info(ctx, "No new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info(ctx, "Migrations applied")
	return nil
}

// Ping checks the pool.
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repo) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (r *Repo) table(name string) string {
	return fmt.Sprintf("%s.%s", r.schema, name)
}

func (r *Repo) logSQL(ctx context.Context, op, query string, start time.Time, err error) {
	if err != nil {
		r.logger.Warn(ctx, "Query failed", "op", op, "duration", time.Since(start).String(), "error", err.Error())
		return
	}
	r.logger.Debug(ctx, "Query done", "op", op, "sql", query, "duration", time.Since(start).String())
}
