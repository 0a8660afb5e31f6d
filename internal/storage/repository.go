package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS metric_levels (
        metric     TEXT PRIMARY KEY,
        level      NUMERIC NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS level_events (
        id             UUID PRIMARY KEY,
        metric         TEXT NOT NULL,
        direction      TEXT NOT NULL,
        level          NUMERIC NOT NULL,
        previous_level NUMERIC NOT NULL,
        value          NUMERIC NOT NULL,
        delivered      BOOLEAN NOT NULL DEFAULT FALSE,
        delivery_error TEXT,
        detected_at    TIMESTAMPTZ NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS level_events_detected_at_idx ON level_events (detected_at);`

	getLevelSQL = `SELECT level::text FROM metric_levels WHERE metric = $1;`

	upsertLevelSQL = `INSERT INTO metric_levels (metric, level, updated_at)
    VALUES ($1, $2::numeric, $3)
    ON CONFLICT (metric) DO UPDATE
    SET level      = EXCLUDED.level,
        updated_at = EXCLUDED.updated_at;`

	listLevelsSQL = `SELECT metric, level::text, updated_at FROM metric_levels ORDER BY metric;`

	deleteLevelSQL = `DELETE FROM metric_levels WHERE metric = $1;`

	insertEventSQL = `INSERT INTO level_events (
        id,
        metric,
        direction,
        level,
        previous_level,
        value,
        delivered,
        delivery_error,
        detected_at
    ) VALUES (
        $1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7,$8,$9
    )
    ON CONFLICT (id) DO UPDATE
    SET delivered      = EXCLUDED.delivered,
        delivery_error = EXCLUDED.delivery_error;`

	selectEventColumns = `SELECT
        id::text,
        metric,
        direction,
        level::text,
        previous_level::text,
        value::text,
        delivered,
        delivery_error,
        detected_at,
        created_at
    FROM level_events`

	listRecentEventsSQL = selectEventColumns + `
    ORDER BY detected_at DESC
    LIMIT $1;`

	listEventsBetweenSQL = selectEventColumns + `
    WHERE detected_at >= $1
      AND detected_at < $2
    ORDER BY detected_at;`
)

// Store keeps levels and crossing history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrap("ensure schema", "", err)
	}
	return nil
}

// GetLastLevel reads the stored level of metric.
func (s *Store) GetLastLevel(ctx context.Context, metric string) (float64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, wrap("get level", metric, err)
	}

	var levelStr string
	if scanErr := pool.QueryRow(ctx, getLevelSQL, metric).Scan(&levelStr); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, wrap("get level", metric, scanErr)
	}

	level, err := parseLevel(levelStr)
	if err != nil {
		return 0, false, wrap("get level", metric, err)
	}
	return level, true, nil
}

// SetLastLevel upserts the level of metric.
func (s *Store) SetLastLevel(ctx context.Context, metric string, level float64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return wrap("set level", metric, err)
	}
	if _, execErr := pool.Exec(ctx, upsertLevelSQL, metric, formatLevel(level), at.UTC()); execErr != nil {
		return wrap("set level", metric, execErr)
	}
	return nil
}

// ListLevels returns every stored level ordered by metric.
func (s *Store) ListLevels(ctx context.Context) ([]LevelRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, wrap("list levels", "", err)
	}

	rows, queryErr := pool.Query(ctx, listLevelsSQL)
	if queryErr != nil {
		return nil, wrap("list levels", "", queryErr)
	}
	defer rows.Close()

	records := make([]LevelRecord, 0)
	for rows.Next() {
		var rec LevelRecord
		var levelStr string
		if err := rows.Scan(&rec.Metric, &levelStr, &rec.UpdatedAt); err != nil {
			return nil, wrap("list levels", "", err)
		}
		if rec.Level, err = parseLevel(levelStr); err != nil {
			return nil, wrap("list levels", rec.Metric, err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, wrap("list levels", "", rows.Err())
	}
	return records, nil
}

// DeleteLevel removes the stored level of metric.
func (s *Store) DeleteLevel(ctx context.Context, metric string) error {
	pool, err := s.getPool()
	if err != nil {
		return wrap("delete level", metric, err)
	}
	if _, execErr := pool.Exec(ctx, deleteLevelSQL, metric); execErr != nil {
		return wrap("delete level", metric, execErr)
	}
	return nil
}

// RecordEvent persists a crossing; recording the same id again updates its delivery status.
func (s *Store) RecordEvent(ctx context.Context, event EventRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return wrap("record event", event.Metric, err)
	}

	var deliveryErr interface{}
	if event.DeliveryError != nil {
		deliveryErr = *event.DeliveryError
	}

	_, execErr := pool.Exec(ctx, insertEventSQL,
		event.ID,
		event.Metric,
		event.Direction,
		formatLevel(event.Level),
		formatLevel(event.PreviousLevel),
		formatLevel(event.Value),
		event.Delivered,
		deliveryErr,
		event.DetectedAt.UTC(),
	)
	if execErr != nil {
		return wrap("record event", event.Metric, execErr)
	}
	return nil
}

// ListRecentEvents lists the most recent crossings, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, wrap("list events", "", err)
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, wrap("list events", "", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows, limit)
}

// ListEventsBetween lists crossings detected within [from, to).
func (s *Store) ListEventsBetween(ctx context.Context, from, to time.Time) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, wrap("list events", "", err)
	}

	rows, queryErr := pool.Query(ctx, listEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, wrap("list events", "", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows, 0)
}

func collectEvents(rows pgx.Rows, capacity int) ([]EventRecord, error) {
	events := make([]EventRecord, 0, max(capacity, 0))
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, wrap("scan event", "", err)
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, wrap("scan event", "", rows.Err())
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (EventRecord, error) {
	var (
		rec         EventRecord
		levelStr    string
		previousStr string
		valueStr    string
		deliveryErr sql.NullString
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.Metric,
		&rec.Direction,
		&levelStr,
		&previousStr,
		&valueStr,
		&rec.Delivered,
		&deliveryErr,
		&rec.DetectedAt,
		&rec.CreatedAt,
	); err != nil {
		return EventRecord{}, err
	}

	var err error
	if rec.Level, err = parseLevel(levelStr); err != nil {
		return EventRecord{}, fmt.Errorf("parse level: %w", err)
	}
	if rec.PreviousLevel, err = parseLevel(previousStr); err != nil {
		return EventRecord{}, fmt.Errorf("parse previous level: %w", err)
	}
	if rec.Value, err = parseLevel(valueStr); err != nil {
		return EventRecord{}, fmt.Errorf("parse value: %w", err)
	}
	if deliveryErr.Valid {
		msg := deliveryErr.String
		rec.DeliveryError = &msg
	}
	return rec, nil
}

func formatLevel(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseLevel(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

var (
	_ LevelStore    = (*Store)(nil)
	_ EventRecorder = (*Store)(nil)
)
