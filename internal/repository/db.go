package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type Config struct {
	Driver           string
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Connect opens the configured database, applies the schema, and returns a close func.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*sqlx.DB, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		db   *sqlx.DB
		pool *pgxpool.Pool
		err  error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = OpenSQLite(ctx, cfg.SQLitePath, logger)
	case DriverPostgres, "":
		db, pool, err = Open(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		Close(db, pool, logger)
		return nil, nil, err
	}
	return db, func() { Close(db, pool, logger) }, nil
}

// Open creates a pgx pool and wraps it for sqlx.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*sqlx.DB, *pgxpool.Pool, error) {
	logger.Info("connecting to database", "driver", DriverPostgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "invoice-audit"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}

	// Wrap pool as *sql.DB for sqlx
	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")

	logger.Info("successfully connected to database")
	return db, pool, nil
}

// OpenSQLite opens a modernc SQLite database. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)&_time_format=sqlite"
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve sqlite path: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", abs)
	}
	logger.Info("connecting to database", "driver", DriverSQLite, "path", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: keeps :memory: databases alive and serialises writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	logger.Info("successfully connected to database")
	return db, nil
}

// Close closes the database connections gracefully
func Close(db *sqlx.DB, pool *pgxpool.Pool, logger *slog.Logger) {
	logger.Info("closing database connections")
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func HealthCheck(ctx context.Context, db *sqlx.DB, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger.Debug("pinging database")
	if err := db.PingContext(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

func isSQLite(db *sqlx.DB) bool {
	return db.DriverName() == "sqlite"
}

// ConfigFrom maps the DB_* settings onto a connection config.
func ConfigFrom(c common.DatabaseConfig) Config {
	return Config{
		Driver:           c.Driver,
		DSN:              c.DSN,
		SQLitePath:       c.SQLitePath,
		MaxConns:         c.MaxConns,
		MinConns:         c.MinConns,
		MaxConnLifetime:  c.MaxConnLifetime,
		MaxConnIdleTime:  c.MaxConnIdleTime,
		DialTimeout:      c.DialTimeout,
		StatementTimeout: c.StatementTimeout,
	}
}
