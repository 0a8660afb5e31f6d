package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"levelwatch/internal/service"
	"levelwatch/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders crossing history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	recorder, ok := store.(storage.EventRecorder)
	if !ok {
		return fmt.Errorf("storage driver %q: %w", a.Config.Storage.Driver, storage.ErrHistoryUnsupported)
	}

	events, err := recorder.ListEventsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	events = filterMetric(events, opts.Metric)
	if len(events) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no crossings found for export window")
		return nil
	}

	downsampled := downsampleEvents(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting crossings")

	if opts.CSVPath != "" {
		if err := writeEventsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		metric := opts.Metric
		if metric == "" {
			metric = service.MetricBTC
		}
		if err := writeEventsPNG(opts.PNGPath, metric, filterMetric(downsampled, metric)); err != nil {
			return err
		}
	}

	return nil
}

func filterMetric(events []storage.EventRecord, metric string) []storage.EventRecord {
	if metric == "" {
		return events
	}
	out := make([]storage.EventRecord, 0, len(events))
	for _, ev := range events {
		if ev.Metric == metric {
			out = append(out, ev)
		}
	}
	return out
}

func downsampleEvents(events []storage.EventRecord, max int) []storage.EventRecord {
	if max <= 0 || len(events) <= max {
		return events
	}
	if max == 1 {
		return events[len(events)-1:]
	}

	result := make([]storage.EventRecord, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeEventsCSV(path string, events []storage.EventRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"detected_at", "metric", "direction", "previous_level", "level", "value", "delivered", "delivery_error", "id"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, ev := range events {
		errMsg := ""
		if ev.DeliveryError != nil {
			errMsg = *ev.DeliveryError
		}
		record := []string{
			ev.DetectedAt.UTC().Format(time.RFC3339),
			ev.Metric,
			ev.Direction,
			formatFloat(ev.PreviousLevel),
			formatFloat(ev.Level),
			formatFloat(ev.Value),
			strconv.FormatBool(ev.Delivered),
			errMsg,
			ev.ID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeEventsPNG(path, metric string, events []storage.EventRecord) error {
	if len(events) < 2 {
		return fmt.Errorf("need at least two %s crossings to draw a chart, have %d", metric, len(events))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	levels := make([]float64, len(events))
	values := make([]float64, len(events))

	for i, ev := range events {
		x[i] = ev.DetectedAt
		levels[i] = ev.Level
		values[i] = ev.Value
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           metric,
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Level",
				XValues: x,
				YValues: levels,
			},
			chart.TimeSeries{
				Name:    "Observed",
				XValues: x,
				YValues: values,
				Style: chart.Style{
					StrokeWidth: chart.Disabled,
					DotWidth:    3,
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}
