package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"levelwatch/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrHistoryUnsupported is returned when a backend keeps no event history.
	ErrHistoryUnsupported = errors.New("storage: backend does not keep event history")
)

// LevelStore persists the last-notified level per metric. Implementations are
// used by a single writer and need not be safe for concurrent use.
type LevelStore interface {
	// GetLastLevel reports ok=false when the metric was never recorded.
	GetLastLevel(ctx context.Context, metric string) (level float64, ok bool, err error)
	SetLastLevel(ctx context.Context, metric string, level float64, at time.Time) error
	ListLevels(ctx context.Context) ([]LevelRecord, error)
	DeleteLevel(ctx context.Context, metric string) error
	Close() error
}

// EventRecorder is implemented by backends that keep crossing history.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event EventRecord) error
	ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]EventRecord, error)
}

// Error is a recoverable persistence failure.
type Error struct {
	Op     string
	Metric string
	Err    error
}

func (e *Error) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Metric, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, metric string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Metric: metric, Err: err}
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (LevelStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverFile:
		return OpenFile(cfg.Path)
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix), nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
