// Package detector decides when a metric has moved onto a new step-aligned
// level since the last notification.
package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"levelwatch/internal/level"
	"levelwatch/internal/storage"
)

// ErrInvalidValue rejects raw values that cannot be quantized.
var ErrInvalidValue = errors.New("detector: value must be a positive finite number")

// Direction of a crossing.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Metric is a tracked series and its quantization step.
type Metric struct {
	Name  string  // storage key
	Label string  // display name
	Step  float64 // must be > 0
	Unit  string  // prefix used when rendering values, e.g. "$"
}

// Event is emitted when a metric lands on a different level.
type Event struct {
	ID            string
	Metric        string
	Label         string
	Unit          string
	Direction     Direction
	Level         float64
	PreviousLevel float64
	Value         float64
	Step          float64
	DetectedAt    time.Time
}

// Option customises a Detector.
type Option func(*Detector)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithIDGenerator overrides the event id source.
func WithIDGenerator(fn func() string) Option {
	return func(d *Detector) { d.newID = fn }
}

// Detector compares the current level of a metric with its stored level.
//
// The store is the source of truth while it accepts writes. Once a write
// fails the metric is marked pending: later calls compare against the
// in-memory level and retry the write until the store takes it. A Detector
// is not safe for concurrent use, the poll loop is its only caller.
type Detector struct {
	store   storage.LevelStore
	memory  map[string]float64
	pending map[string]bool // level in memory not yet persisted
	now     func() time.Time
	newID   func() string
	logger  zerolog.Logger
}

// New builds a Detector on top of store.
func New(store storage.LevelStore, logger zerolog.Logger, opts ...Option) *Detector {
	d := &Detector{
		store:   store,
		memory:  make(map[string]float64),
		pending: make(map[string]bool),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		logger:  logger.With().Str("component", "detector").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// maxSteps bounds value/step so the level index fits in an int64.
const maxSteps = 1 << 62

// Detect quantizes value and reports a crossing when its level differs from
// the last-notified one.
//
// The first observation of a metric only records a baseline. When the store
// fails Detect still answers from memory if it can: a non-nil Event together
// with a *storage.Error means the crossing is real but was not persisted.
func (d *Detector) Detect(ctx context.Context, m Metric, value float64) (*Event, error) {
	if !(value > 0) || math.IsInf(value, 0) || value/m.Step >= maxSteps {
		return nil, fmt.Errorf("%w: %s=%v", ErrInvalidValue, m.Name, value)
	}

	newLevel := level.Quantize(value, m.Step)
	logger := d.logger.With().Str("metric", m.Name).Float64("value", value).Float64("level", newLevel).Logger()

	last, ok, storeErr := d.lastLevel(ctx, m.Name, logger)
	if storeErr != nil && !ok {
		return nil, storeErr
	}

	now := d.now()
	if !ok {
		if err := d.commit(ctx, m.Name, newLevel, now); err != nil {
			logger.Warn().Err(err).Msg("baseline kept in memory, store write failed")
			return nil, err
		}
		logger.Info().Msg("baseline level recorded")
		return nil, nil
	}

	if level.Same(newLevel, last, m.Step) {
		if d.pending[m.Name] {
			if err := d.commit(ctx, m.Name, last, now); err != nil {
				return nil, err
			}
			logger.Info().Msg("pending level persisted")
			return nil, nil
		}
		d.memory[m.Name] = last
		return nil, storeErr
	}

	direction := Down
	if newLevel > last {
		direction = Up
	}

	event := &Event{
		ID:            d.newID(),
		Metric:        m.Name,
		Label:         m.Label,
		Unit:          m.Unit,
		Direction:     direction,
		Level:         newLevel,
		PreviousLevel: last,
		Value:         value,
		Step:          m.Step,
		DetectedAt:    now,
	}

	if err := d.commit(ctx, m.Name, newLevel, now); err != nil {
		logger.Error().Err(err).Str("direction", string(direction)).Msg("crossing detected but level not persisted")
		return event, err
	}

	logger.Info().Str("direction", string(direction)).Float64("previous_level", last).Msg("level crossed")
	return event, storeErr
}

// lastLevel reads the reference level. Pending metrics never consult the
// store, it still holds an older level.
func (d *Detector) lastLevel(ctx context.Context, metric string, logger zerolog.Logger) (float64, bool, error) {
	if d.pending[metric] {
		return d.memory[metric], true, nil
	}
	last, ok, err := d.store.GetLastLevel(ctx, metric)
	if err == nil {
		return last, ok, nil
	}
	cached, cachedOK := d.memory[metric]
	if !cachedOK {
		return 0, false, err
	}
	logger.Warn().Err(err).Float64("fallback_level", cached).Msg("level store unavailable, using in-memory level")
	return cached, true, err
}

// commit updates memory and writes lvl through to the store.
func (d *Detector) commit(ctx context.Context, metric string, lvl float64, at time.Time) error {
	d.memory[metric] = lvl
	if err := d.store.SetLastLevel(ctx, metric, lvl, at); err != nil {
		d.pending[metric] = true
		return err
	}
	delete(d.pending, metric)
	return nil
}

// Pending reports whether metric has a level that is not yet persisted.
func (d *Detector) Pending(metric string) bool {
	return d.pending[metric]
}

// Prime seeds the in-memory fallback for metric.
func (d *Detector) Prime(metric string, lvl float64) {
	d.memory[metric] = lvl
}

// Forget drops the in-memory fallback for metric.
func (d *Detector) Forget(metric string) {
	delete(d.memory, metric)
	delete(d.pending, metric)
}

// Snapshot returns a copy of the in-memory levels.
func (d *Detector) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(d.memory))
	for k, v := range d.memory {
		out[k] = v
	}
	return out
}
