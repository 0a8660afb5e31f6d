package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps levels and events in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	levels map[string]LevelRecord
	events []EventRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{levels: make(map[string]LevelRecord)}
}

func (m *MemoryStore) GetLastLevel(_ context.Context, metric string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.levels[metric]
	return rec.Level, ok, nil
}

func (m *MemoryStore) SetLastLevel(_ context.Context, metric string, level float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[metric] = LevelRecord{Metric: metric, Level: level, UpdatedAt: at}
	return nil
}

func (m *MemoryStore) ListLevels(_ context.Context) ([]LevelRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]LevelRecord, 0, len(m.levels))
	for _, rec := range m.levels {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Metric < records[j].Metric })
	return records, nil
}

func (m *MemoryStore) DeleteLevel(_ context.Context, metric string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, metric)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// RecordEvent appends event, replacing an earlier record with the same id.
func (m *MemoryStore) RecordEvent(_ context.Context, event EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	for i := range m.events {
		if m.events[i].ID == event.ID {
			event.CreatedAt = m.events[i].CreatedAt
			m.events[i] = event
			return nil
		}
	}
	m.events = append(m.events, event)
	return nil
}

// ListRecentEvents returns up to limit events, newest first.
func (m *MemoryStore) ListRecentEvents(_ context.Context, limit int) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventRecord, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.events[i])
	}
	return out, nil
}

// ListEventsBetween returns events detected within [from, to), oldest first.
func (m *MemoryStore) ListEventsBetween(_ context.Context, from, to time.Time) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventRecord, 0)
	for _, ev := range m.events {
		if !ev.DetectedAt.Before(from) && ev.DetectedAt.Before(to) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

var (
	_ LevelStore    = (*MemoryStore)(nil)
	_ EventRecorder = (*MemoryStore)(nil)
)
