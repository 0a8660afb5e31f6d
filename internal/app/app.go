package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"levelwatch/internal/alerting"
	"levelwatch/internal/config"
	"levelwatch/internal/detector"
	"levelwatch/internal/fetcher"
	"levelwatch/internal/metrics"
	"levelwatch/internal/scheduler"
	"levelwatch/internal/service"
	"levelwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newSource() (fetcher.PriceSource, error) {
	return fetcher.New(a.Config.Price, a.Config.Breaker, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	return alerting.New(a.Config.Alerting, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.LevelStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close level store")
		}
	}
	return store, closer, nil
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	source, err := a.newSource()
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, a.Config.Metrics.Addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	det := detector.New(store, a.Logger)
	svc := service.New(a.Config, sched, source, det, store, a.newNotifier(), m, a.Logger)

	a.Logger.Info().
		Str("provider", source.Name()).
		Str("storage", a.Config.Storage.Driver).
		Dur("interval", a.Config.Scheduler.Interval).
		Float64("btc_step", a.Config.Levels.BTCStep).
		Float64("eth_step", a.Config.Levels.ETHStep).
		Bool("track_ratio", a.Config.Levels.TrackRatio).
		Msg("starting level watcher")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("level watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting crossing history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Metric    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Events int
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	BTC     float64
	ETH     float64
	Persist bool
}

// ResetOptions configure the reset command. An empty list resets every metric.
type ResetOptions struct {
	Metrics []string
}
