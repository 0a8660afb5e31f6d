package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"levelwatch/internal/service"
)

// ErrUnknownMetric is returned by Reset for names that are neither tracked
// nor stored.
var ErrUnknownMetric = errors.New("unknown metric")

// Reset deletes stored levels so the next observation records a fresh baseline.
// All names are checked before anything is deleted.
func (a *App) Reset(ctx context.Context, opts ResetOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListLevels(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]bool, len(records))
	for _, rec := range records {
		stored[rec.Metric] = true
	}

	metrics := opts.Metrics
	if len(metrics) == 0 {
		for _, rec := range records {
			metrics = append(metrics, rec.Metric)
		}
	}

	var unknown []string
	for _, metric := range metrics {
		if !stored[metric] && !knownMetric(metric) {
			unknown = append(unknown, metric)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s (expected one of %s, %s, %s)", ErrUnknownMetric,
			strings.Join(unknown, ", "), service.MetricBTC, service.MetricETH, service.MetricRatio)
	}

	for _, metric := range metrics {
		if !stored[metric] {
			fmt.Fprintf(a.Out, "%s: nothing stored\n", metric)
			continue
		}
		if err := store.DeleteLevel(ctx, metric); err != nil {
			return err
		}
		a.Logger.Info().Str("metric", metric).Msg("level reset")
		fmt.Fprintf(a.Out, "reset %s\n", metric)
	}
	return nil
}

func knownMetric(name string) bool {
	switch name {
	case service.MetricBTC, service.MetricETH, service.MetricRatio:
		return true
	}
	return false
}
