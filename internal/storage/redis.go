package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisStore keeps levels in two hashes keyed by metric: one for the level,
// one for the RFC3339 update time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wires a go-redis client into a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "levelwatch"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) levelsKey() string  { return r.prefix + ":levels" }
func (r *RedisStore) updatedKey() string { return r.prefix + ":updated" }

// GetLastLevel reads the stored level of metric.
func (r *RedisStore) GetLastLevel(ctx context.Context, metric string) (float64, bool, error) {
	if r.client == nil {
		return 0, false, wrap("get level", metric, ErrNotConfigured)
	}
	raw, err := r.client.HGet(ctx, r.levelsKey(), metric).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("get level", metric, err)
	}
	level, err := parseLevel(raw)
	if err != nil {
		return 0, false, wrap("get level", metric, err)
	}
	return level, true, nil
}

// SetLastLevel writes level and timestamp in one MULTI/EXEC.
func (r *RedisStore) SetLastLevel(ctx context.Context, metric string, level float64, at time.Time) error {
	if r.client == nil {
		return wrap("set level", metric, ErrNotConfigured)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.levelsKey(), metric, decimal.NewFromFloat(level).String())
		pipe.HSet(ctx, r.updatedKey(), metric, at.UTC().Format(time.RFC3339Nano))
		return nil
	})
	return wrap("set level", metric, err)
}

// ListLevels returns every stored level ordered by metric.
func (r *RedisStore) ListLevels(ctx context.Context) ([]LevelRecord, error) {
	if r.client == nil {
		return nil, wrap("list levels", "", ErrNotConfigured)
	}
	levels, err := r.client.HGetAll(ctx, r.levelsKey()).Result()
	if err != nil {
		return nil, wrap("list levels", "", err)
	}
	updated, err := r.client.HGetAll(ctx, r.updatedKey()).Result()
	if err != nil {
		return nil, wrap("list levels", "", err)
	}
	return buildRecords(levels, updated)
}

// DeleteLevel removes metric from both hashes.
func (r *RedisStore) DeleteLevel(ctx context.Context, metric string) error {
	if r.client == nil {
		return wrap("delete level", metric, ErrNotConfigured)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.levelsKey(), metric)
		pipe.HDel(ctx, r.updatedKey(), metric)
		return nil
	})
	return wrap("delete level", metric, err)
}

// Close closes the client.
func (r *RedisStore) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func buildRecords(levels, updated map[string]string) ([]LevelRecord, error) {
	records := make([]LevelRecord, 0, len(levels))
	for metric, raw := range levels {
		level, err := parseLevel(raw)
		if err != nil {
			return nil, wrap("list levels", metric, fmt.Errorf("parse level %q: %w", raw, err))
		}
		rec := LevelRecord{Metric: metric, Level: level}
		if ts, ok := updated[metric]; ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				rec.UpdatedAt = parsed
			}
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Metric < records[j].Metric })
	return records, nil
}

var _ LevelStore = (*RedisStore)(nil)
