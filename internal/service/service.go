package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"levelwatch/internal/alerting"
	"levelwatch/internal/config"
	"levelwatch/internal/detector"
	"levelwatch/internal/fetcher"
	"levelwatch/internal/metrics"
	"levelwatch/internal/scheduler"
	"levelwatch/internal/storage"
)

// Metric keys used in the level store.
const (
	MetricBTC   = "btc"
	MetricETH   = "eth"
	MetricRatio = "btc_eth"
)

// State of the poll loop.
type State int32

const (
	Idle State = iota
	Cycle
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cycle:
		return "cycle"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Tracked holds the metric definitions derived from configuration. Ratio is nil
// when ratio tracking is disabled.
type Tracked struct {
	BTC   detector.Metric
	ETH   detector.Metric
	Ratio *detector.Metric
}

// TrackedMetrics builds the metric set from the levels section.
func TrackedMetrics(cfg config.LevelsConfig) Tracked {
	t := Tracked{
		BTC: detector.Metric{Name: MetricBTC, Label: "BTC", Step: cfg.BTCStep, Unit: "$"},
		ETH: detector.Metric{Name: MetricETH, Label: "ETH", Step: cfg.ETHStep, Unit: "$"},
	}
	if cfg.TrackRatio {
		t.Ratio = &detector.Metric{Name: MetricRatio, Label: "BTC/ETH", Step: cfg.RatioStep}
	}
	return t
}

// All lists the tracked metrics in cycle order.
func (t Tracked) All() []detector.Metric {
	out := []detector.Metric{t.BTC, t.ETH}
	if t.Ratio != nil {
		out = append(out, *t.Ratio)
	}
	return out
}

// Service orchestrates fetching, detection, alerting and history.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.PriceSource
	detector  *detector.Detector
	store     storage.LevelStore
	recorder  storage.EventRecorder
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	tracked       Tracked
	fetchTimeout  time.Duration
	notifyTimeout time.Duration

	state atomic.Int32
}

// New constructs the poll loop service. m may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.PriceSource, det *detector.Detector, store storage.LevelStore, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var recorder storage.EventRecorder
	if r, ok := store.(storage.EventRecorder); ok {
		recorder = r
	}

	return &Service{
		scheduler:     sched,
		source:        source,
		detector:      det,
		store:         store,
		recorder:      recorder,
		notifier:      notifier,
		metrics:       m,
		logger:        logger.With().Str("component", "service").Logger(),
		tracked:       TrackedMetrics(cfg.Levels),
		fetchTimeout:  cfg.Price.RequestTimeout,
		notifyTimeout: cfg.Alerting.Timeout,
	}
}

// State reports whether a cycle is currently running.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Run primes the detector from the store and begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	s.Warmup(ctx)
	return s.scheduler.Run(ctx, s.RunCycle)
}

// Warmup seeds the detector's fallback memory with the stored levels.
func (s *Service) Warmup(ctx context.Context) {
	records, err := s.store.ListLevels(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load stored levels, starting without fallback")
		return
	}
	for _, rec := range records {
		s.detector.Prime(rec.Metric, rec.Level)
		s.logger.Info().Str("metric", rec.Metric).Float64("level", rec.Level).Time("updated_at", rec.UpdatedAt).Msg("resuming from stored level")
	}
}

// RunCycle 执行一次轮询：BTC、ETH，两者都成功时再计算比值。
// 单个指标失败只记录日志，不中断本轮。
func (s *Service) RunCycle(ctx context.Context, at time.Time) error {
	s.state.Store(int32(Cycle))
	defer s.state.Store(int32(Idle))

	started := time.Now()

	btc, btcOK := s.fetch(ctx, fetcher.BTC)
	if btcOK {
		s.observe(ctx, s.tracked.BTC, btc, at)
	}

	eth, ethOK := s.fetch(ctx, fetcher.ETH)
	if ethOK {
		s.observe(ctx, s.tracked.ETH, eth, at)
	}

	if s.tracked.Ratio != nil {
		if btcOK && ethOK {
			s.observe(ctx, *s.tracked.Ratio, btc/eth, at)
		} else {
			s.logger.Debug().Time("at", at).Msg("ratio skipped, price missing this cycle")
		}
	}

	s.metrics.ObserveCycle(time.Since(started))
	return nil
}

func (s *Service) fetch(ctx context.Context, symbol fetcher.Symbol) (float64, bool) {
	fetchCtx := ctx
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}

	price, err := s.source.FetchPrice(fetchCtx, symbol)
	if err != nil {
		s.metrics.FetchFailed(string(symbol))
		s.logger.Error().Err(err).
			Str("symbol", string(symbol)).
			Str("provider", s.source.Name()).
			Msg("price fetch failed, metric skipped this cycle")
		return 0, false
	}
	return price, true
}

func (s *Service) observe(ctx context.Context, m detector.Metric, value float64, at time.Time) {
	s.metrics.Observed(m.Name, value, at)

	event, err := s.detector.Detect(ctx, m, value)
	if err != nil {
		var storeErr *storage.Error
		if errors.As(err, &storeErr) {
			s.metrics.StorageFailed(m.Name)
			s.logger.Error().Err(err).Str("metric", m.Name).Str("op", storeErr.Op).Float64("value", value).Msg("level store error")
		} else {
			s.logger.Error().Err(err).Str("metric", m.Name).Float64("value", value).Msg("detection failed")
		}
	}
	if event == nil {
		return
	}

	s.metrics.Crossed(m.Name, string(event.Direction))
	note := alerting.FromEvent(*event)

	deliverErr := s.deliver(ctx, note)
	s.metrics.Delivered(deliverErr == nil)
	if deliverErr != nil {
		s.logger.Error().Err(deliverErr).
			Str("metric", m.Name).
			Float64("level", event.Level).
			Str("direction", string(event.Direction)).
			Msg("failed to dispatch alert")
	} else {
		s.logger.Info().
			Str("metric", m.Name).
			Str("title", note.Title).
			Str("body", note.Body).
			Msg("alert dispatched")
	}

	s.record(ctx, *event, deliverErr)
}

func (s *Service) deliver(ctx context.Context, note alerting.Notification) error {
	if s.notifier == nil {
		return nil
	}
	notifyCtx := ctx
	if s.notifyTimeout > 0 {
		var cancel context.CancelFunc
		notifyCtx, cancel = context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()
	}
	return s.notifier.Notify(notifyCtx, note)
}

func (s *Service) record(ctx context.Context, event detector.Event, deliverErr error) {
	if s.recorder == nil {
		return
	}
	rec := storage.EventRecord{
		ID:            event.ID,
		Metric:        event.Metric,
		Direction:     string(event.Direction),
		Level:         event.Level,
		PreviousLevel: event.PreviousLevel,
		Value:         event.Value,
		Delivered:     deliverErr == nil,
		DetectedAt:    event.DetectedAt,
	}
	if deliverErr != nil {
		msg := deliverErr.Error()
		rec.DeliveryError = &msg
	}
	if err := s.recorder.RecordEvent(ctx, rec); err != nil {
		s.metrics.StorageFailed(event.Metric)
		s.logger.Error().Err(err).Str("metric", event.Metric).Str("event_id", event.ID).Msg("failed to persist crossing record")
	}
}
