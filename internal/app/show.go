package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"levelwatch/internal/storage"
)

// Show prints stored levels and, when the backend keeps history, recent crossings.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	levels, err := store.ListLevels(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	if len(levels) == 0 {
		fmt.Fprintln(writer, "no levels stored yet")
	} else {
		fmt.Fprintln(writer, "Metric\tLevel\tUpdated (UTC)")
		for _, rec := range levels {
			fmt.Fprintf(writer, "%s\t%s\t%s\n", rec.Metric, formatFloat(rec.Level), rec.UpdatedAt.UTC().Format(time.RFC3339))
		}
	}

	if opts.Events <= 0 {
		return writer.Flush()
	}

	recorder, ok := store.(storage.EventRecorder)
	if !ok {
		fmt.Fprintf(writer, "\n(%s)\n", storage.ErrHistoryUnsupported)
		return writer.Flush()
	}

	events, err := recorder.ListRecentEvents(ctx, opts.Events)
	if err != nil && !errors.Is(err, storage.ErrHistoryUnsupported) {
		return err
	}

	fmt.Fprintln(writer)
	if len(events) == 0 {
		fmt.Fprintln(writer, "no crossings recorded")
		return writer.Flush()
	}

	fmt.Fprintln(writer, "Detected (UTC)\tMetric\tDirection\tFrom\tTo\tValue\tDelivered\tError")
	for _, ev := range events {
		errMsg := ""
		if ev.DeliveryError != nil {
			errMsg = sanitizeInline(*ev.DeliveryError)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			ev.DetectedAt.UTC().Format(time.RFC3339),
			ev.Metric,
			ev.Direction,
			formatFloat(ev.PreviousLevel),
			formatFloat(ev.Level),
			formatFloat(ev.Value),
			ev.Delivered,
			errMsg,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
