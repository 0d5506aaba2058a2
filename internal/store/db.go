// Package store provides PostgreSQL-backed access to the canonical
// Article Store: the single durable record of every discovered,
// crawled, and republished article.
//
// The package owns:
//   - DB: connection pool bootstrap and goose migrations
//   - Article CRUD/claim operations (see article.go)
//   - Go<->pgtype conversions (see convert.go)
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/migrations"
)

// DB wraps a PostgreSQL connection pool for the Article Store.
type DB struct {
	Pool   *pgxpool.Pool
	Logger *zerolog.Logger
}

// PoolOptions configures the database connection pool.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolOptions returns sensible default pool configuration.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          defaultMaxConns,
		MinConns:          defaultMinConns,
		MaxConnIdleTime:   defaultMaxConnIdleTime,
		MaxConnLifetime:   defaultMaxConnLifetime,
		HealthCheckPeriod: defaultHealthCheckPeriod,
	}
}

const (
	defaultMaxConns          int32         = 10
	defaultMinConns          int32         = 2
	defaultMaxConnIdleTime   time.Duration = 5 * time.Minute
	defaultMaxConnLifetime   time.Duration = time.Hour
	defaultHealthCheckPeriod time.Duration = time.Minute

	connectionRetrySleep = 2 * time.Second
	maxConnectionRetries = 10

	migrationLockID = 1000
)

// New creates a database connection with default pool options.
func New(ctx context.Context, dsn string, logger *zerolog.Logger) (*DB, error) {
	return NewWithOptions(ctx, dsn, DefaultPoolOptions(), logger)
}

// NewWithOptions creates a database connection with custom pool options.
func NewWithOptions(ctx context.Context, dsn string, opts PoolOptions, logger *zerolog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse db config: %w", pipeerrs.ErrDatabase, err)
	}

	applyPoolOptions(config, opts)

	return connectWithRetries(ctx, config, logger)
}

func applyPoolOptions(config *pgxpool.Config, opts PoolOptions) {
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}

	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}

	if opts.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = opts.HealthCheckPeriod
	}
}

func connectWithRetries(ctx context.Context, config *pgxpool.Config, logger *zerolog.Logger) (*DB, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)

	for i := 0; i < maxConnectionRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return &DB{Pool: pool, Logger: logger}, nil
			}
		}

		if pool != nil {
			pool.Close()
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", pipeerrs.ErrDatabase, ctx.Err())
		case <-time.After(connectionRetrySleep):
		}
	}

	return nil, fmt.Errorf("%w: failed to connect after retries: %w", pipeerrs.ErrDatabase, err)
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) { l.logger.Fatal().Msgf(format, v...) }
func (l *gooseLogger) Printf(format string, v ...interface{}) { l.logger.Info().Msgf(format, v...) }

// Migrate runs pending goose migrations under a Postgres advisory lock
// so multiple workflow-engine instances never race on schema changes.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %w", pipeerrs.ErrDatabase, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("%w: acquire advisory lock: %w", pipeerrs.ErrDatabase, err)
	}

	defer func() {
		//nolint:errcheck // best-effort unlock, released on connection close regardless
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	dbSQL := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer func() { _ = dbSQL.Close() }()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: db.Logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%w: set goose dialect: %w", pipeerrs.ErrDatabase, err)
	}

	if err := goose.Up(dbSQL, "."); err != nil {
		return fmt.Errorf("%w: run migrations: %w", pipeerrs.ErrDatabase, err)
	}

	return nil
}
