// Package metrics exposes poll loop counters over a Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "levelwatch"

// Metrics 持有独立注册表与轮询相关指标。方法对 nil 接收者安全，未启用时可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	cycles         prometheus.Counter
	cycleDuration  prometheus.Histogram
	fetchFailures  *prometheus.CounterVec // symbol
	crossings      *prometheus.CounterVec // metric, direction
	deliveries     *prometheus.CounterVec // result
	storageErrors  *prometheus.CounterVec // metric
	currentLevel   *prometheus.GaugeVec   // metric
	lastObservedAt *prometheus.GaugeVec   // metric
}

// New 初始化注册表并注册 Go 运行时与进程指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Number of completed poll cycles",
	})
	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one poll cycle",
		Buckets:   prometheus.DefBuckets,
	})
	m.fetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Price fetches that failed",
	}, []string{"symbol"})
	m.crossings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "crossings_total",
		Help:      "Level crossings detected",
	}, []string{"metric", "direction"})
	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Notification attempts by result",
	}, []string{"result"})
	m.storageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_errors_total",
		Help:      "Level store reads or writes that failed",
	}, []string{"metric"})
	m.currentLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "observed_value",
		Help:      "Last observed raw value per metric",
	}, []string{"metric"})
	m.lastObservedAt = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_observed_timestamp_seconds",
		Help:      "Unix time of the last successful observation per metric",
	}, []string{"metric"})

	reg.MustRegister(m.cycles, m.cycleDuration, m.fetchFailures, m.crossings,
		m.deliveries, m.storageErrors, m.currentLevel, m.lastObservedAt)
	return m
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) FetchFailed(symbol string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(symbol).Inc()
}

func (m *Metrics) Observed(metric string, value float64, at time.Time) {
	if m == nil {
		return
	}
	m.currentLevel.WithLabelValues(metric).Set(value)
	m.lastObservedAt.WithLabelValues(metric).Set(float64(at.Unix()))
}

func (m *Metrics) Crossed(metric, direction string) {
	if m == nil {
		return
	}
	m.crossings.WithLabelValues(metric, direction).Inc()
}

func (m *Metrics) Delivered(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) StorageFailed(metric string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(metric).Inc()
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上暴露指标直到 ctx 结束。
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown metrics server")
		return err
	}
	return nil
}
