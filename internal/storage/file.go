package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const fileFormatVersion = 1

type fileDocument struct {
	Version int                  `json:"version"`
	Levels  map[string]fileLevel `json:"levels"`
}

type fileLevel struct {
	Level     decimal.Decimal `json:"level"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FileStore keeps levels in a single JSON document. Every read goes to disk so
// a reset done while the service runs is picked up on the next cycle; every
// write replaces the document atomically.
type FileStore struct {
	path string
}

// OpenFile prepares a FileStore at path, creating parent directories.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	if err := ensureDir(path); err != nil {
		return nil, wrap("open", "", err)
	}
	store := &FileStore{path: path}
	if _, err := store.load(); err != nil {
		return nil, wrap("open", "", err)
	}
	return store, nil
}

// Path returns the document location.
func (f *FileStore) Path() string { return f.path }

// GetLastLevel reads the stored level of metric.
func (f *FileStore) GetLastLevel(_ context.Context, metric string) (float64, bool, error) {
	doc, err := f.load()
	if err != nil {
		return 0, false, wrap("get level", metric, err)
	}
	entry, ok := doc.Levels[metric]
	if !ok {
		return 0, false, nil
	}
	return entry.Level.InexactFloat64(), true, nil
}

// SetLastLevel updates metric and rewrites the document.
func (f *FileStore) SetLastLevel(_ context.Context, metric string, level float64, at time.Time) error {
	doc, err := f.load()
	if err != nil {
		return wrap("set level", metric, err)
	}
	doc.Levels[metric] = fileLevel{Level: decimal.NewFromFloat(level), UpdatedAt: at.UTC()}
	return wrap("set level", metric, f.save(doc))
}

// ListLevels returns every stored level ordered by metric.
func (f *FileStore) ListLevels(_ context.Context) ([]LevelRecord, error) {
	doc, err := f.load()
	if err != nil {
		return nil, wrap("list levels", "", err)
	}
	records := make([]LevelRecord, 0, len(doc.Levels))
	for metric, entry := range doc.Levels {
		records = append(records, LevelRecord{
			Metric:    metric,
			Level:     entry.Level.InexactFloat64(),
			UpdatedAt: entry.UpdatedAt,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Metric < records[j].Metric })
	return records, nil
}

// DeleteLevel removes metric from the document.
func (f *FileStore) DeleteLevel(_ context.Context, metric string) error {
	doc, err := f.load()
	if err != nil {
		return wrap("delete level", metric, err)
	}
	if _, ok := doc.Levels[metric]; !ok {
		return nil
	}
	delete(doc.Levels, metric)
	return wrap("delete level", metric, f.save(doc))
}

// Close is a no-op; nothing is held open between calls.
func (f *FileStore) Close() error { return nil }

func (f *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{Version: fileFormatVersion, Levels: map[string]fileLevel{}}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("%s has unsupported version %d", f.path, doc.Version)
	}
	if doc.Levels == nil {
		doc.Levels = map[string]fileLevel{}
	}
	return doc, nil
}

func (f *FileStore) save(doc *fileDocument) error {
	doc.Version = fileFormatVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var _ LevelStore = (*FileStore)(nil)
