package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"levelwatch/internal/alerting"
	"levelwatch/internal/detector"
	"levelwatch/internal/fetcher"
	"levelwatch/internal/service"
	"levelwatch/internal/storage"
)

// Simulate 用给定的 BTC/ETH 价格跑一轮检测并推送。
// 默认在内存副本上运行，不改动已存档位；Persist 时直接写入配置的存储。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.BTC <= 0 || opts.ETH <= 0 {
		return errors.New("--btc 与 --eth 必须大于 0")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	target := store
	if !opts.Persist {
		scratch, err := copyLevels(ctx, store)
		if err != nil {
			return err
		}
		target = scratch
	}

	source := &staticSource{prices: map[fetcher.Symbol]float64{
		fetcher.BTC: opts.BTC,
		fetcher.ETH: opts.ETH,
	}}
	notifier := &echoNotifier{out: a.Out, next: a.newNotifier()}

	det := detector.New(target, a.Logger)
	svc := service.New(a.Config, nil, source, det, target, notifier, nil, a.Logger)

	if err := svc.RunCycle(ctx, time.Now().UTC()); err != nil {
		return err
	}
	if notifier.sent == 0 {
		fmt.Fprintln(a.Out, "no level crossed")
	}
	return nil
}

func copyLevels(ctx context.Context, from storage.LevelStore) (*storage.MemoryStore, error) {
	scratch := storage.NewMemoryStore()
	records, err := from.ListLevels(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := scratch.SetLastLevel(ctx, rec.Metric, rec.Level, rec.UpdatedAt); err != nil {
			return nil, err
		}
	}
	return scratch, nil
}

type staticSource struct {
	prices map[fetcher.Symbol]float64
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) FetchPrice(_ context.Context, symbol fetcher.Symbol) (float64, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return 0, &fetcher.Error{Provider: s.Name(), Symbol: symbol, Err: errors.New("no price given")}
	}
	return price, nil
}

// echoNotifier 打印每条推送，再交给真实渠道。
type echoNotifier struct {
	out  io.Writer
	next alerting.Notifier
	sent int
}

func (e *echoNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	e.sent++
	fmt.Fprintf(e.out, "%s | %s\n", note.Title, note.Body)
	return e.next.Notify(ctx, note)
}

var (
	_ fetcher.PriceSource = (*staticSource)(nil)
	_ alerting.Notifier   = (*echoNotifier)(nil)
)
