package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"levelwatch/internal/config"
	"levelwatch/internal/service"
	"levelwatch/internal/storage"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Levels:    config.LevelsConfig{BTCStep: 1000, ETHStep: 100, RatioStep: 0.5, TrackRatio: true},
		Scheduler: config.SchedulerConfig{Interval: 30 * time.Second},
		Storage: config.StorageConfig{
			Driver: config.DriverFile,
			Path:   filepath.Join(t.TempDir(), "levels.json"),
		},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func seedLevels(t *testing.T, a *App, levels map[string]float64) {
	t.Helper()
	store, err := storage.OpenFile(a.Config.Storage.Path)
	if err != nil {
		t.Fatalf("打开文件存储失败: %v", err)
	}
	for metric, lvl := range levels {
		if err := store.SetLastLevel(context.Background(), metric, lvl, time.Now()); err != nil {
			t.Fatalf("写入档位失败: %v", err)
		}
	}
}

func TestShowListsLevels(t *testing.T) {
	a, out := newTestApp(t)
	seedLevels(t, a, map[string]float64{service.MetricBTC: 91000, service.MetricETH: 2600})

	if err := a.Show(context.Background(), ShowOptions{Events: 5}); err != nil {
		t.Fatalf("Show 返回错误: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "91000") || !strings.Contains(text, "2600") {
		t.Fatalf("输出缺少档位:\n%s", text)
	}
	if !strings.Contains(text, "history") {
		t.Fatalf("文件存储应提示不支持历史:\n%s", text)
	}
}

func TestShowEmptyStore(t *testing.T) {
	a, out := newTestApp(t)
	if err := a.Show(context.Background(), ShowOptions{}); err != nil {
		t.Fatalf("Show 返回错误: %v", err)
	}
	if !strings.Contains(out.String(), "no levels stored yet") {
		t.Fatalf("空存储提示不正确: %q", out.String())
	}
}

func TestSimulateDoesNotPersistByDefault(t *testing.T) {
	a, out := newTestApp(t)
	seedLevels(t, a, map[string]float64{service.MetricBTC: 90000, service.MetricETH: 2700})

	if err := a.Simulate(context.Background(), SimulateOptions{BTC: 91200, ETH: 2700}); err != nil {
		t.Fatalf("Simulate 返回错误: %v", err)
	}
	if !strings.Contains(out.String(), "BTC 上升至 $91,000 | 现价 ≈ $91,200") {
		t.Fatalf("应打印推送内容:\n%s", out.String())
	}

	store, _ := storage.OpenFile(a.Config.Storage.Path)
	lvl, _, _ := store.GetLastLevel(context.Background(), service.MetricBTC)
	if lvl != 90000 {
		t.Fatalf("默认模拟不应修改存储, got %v", lvl)
	}
}

func TestSimulatePersist(t *testing.T) {
	a, _ := newTestApp(t)
	seedLevels(t, a, map[string]float64{service.MetricBTC: 90000})

	if err := a.Simulate(context.Background(), SimulateOptions{BTC: 91200, ETH: 2700, Persist: true}); err != nil {
		t.Fatalf("Simulate 返回错误: %v", err)
	}

	store, _ := storage.OpenFile(a.Config.Storage.Path)
	lvl, _, _ := store.GetLastLevel(context.Background(), service.MetricBTC)
	if lvl != 91000 {
		t.Fatalf("--persist 应写入新档位, got %v", lvl)
	}
	if _, ok, _ := store.GetLastLevel(context.Background(), service.MetricETH); !ok {
		t.Fatal("ETH 基线应被写入")
	}
}

func TestSimulateNoCrossing(t *testing.T) {
	a, out := newTestApp(t)
	if err := a.Simulate(context.Background(), SimulateOptions{BTC: 91200, ETH: 2700}); err != nil {
		t.Fatalf("Simulate 返回错误: %v", err)
	}
	if !strings.Contains(out.String(), "no level crossed") {
		t.Fatalf("冷启动应提示无穿越:\n%s", out.String())
	}
}

func TestSimulateRejectsInvalidPrices(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Simulate(context.Background(), SimulateOptions{BTC: 0, ETH: 1}); err == nil {
		t.Fatal("非正价格应报错")
	}
}

func TestResetSelectedAndAll(t *testing.T) {
	a, _ := newTestApp(t)
	seedLevels(t, a, map[string]float64{service.MetricBTC: 91000, service.MetricETH: 2600, service.MetricRatio: 35})
	ctx := context.Background()

	if err := a.Reset(ctx, ResetOptions{Metrics: []string{service.MetricBTC}}); err != nil {
		t.Fatalf("Reset 返回错误: %v", err)
	}
	store, _ := storage.OpenFile(a.Config.Storage.Path)
	records, _ := store.ListLevels(ctx)
	if len(records) != 2 {
		t.Fatalf("应剩余 2 个档位, got %d", len(records))
	}

	if err := a.Reset(ctx, ResetOptions{}); err != nil {
		t.Fatalf("Reset 返回错误: %v", err)
	}
	records, _ = store.ListLevels(ctx)
	if len(records) != 0 {
		t.Fatalf("应清空全部档位, got %d", len(records))
	}
}

func TestResetRejectsUnknownMetric(t *testing.T) {
	a, out := newTestApp(t)
	seedLevels(t, a, map[string]float64{service.MetricBTC: 91000})
	ctx := context.Background()

	err := a.Reset(ctx, ResetOptions{Metrics: []string{service.MetricBTC, "bitcoin"}})
	if !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("未知指标应返回 ErrUnknownMetric, got %v", err)
	}
	if strings.Contains(out.String(), "reset") {
		t.Fatalf("校验失败时不应输出 reset: %q", out.String())
	}
	store, _ := storage.OpenFile(a.Config.Storage.Path)
	if _, ok, _ := store.GetLastLevel(ctx, service.MetricBTC); !ok {
		t.Fatal("校验失败时不应删除任何档位")
	}
}

func TestResetKnownMetricWithoutLevel(t *testing.T) {
	a, out := newTestApp(t)
	seedLevels(t, a, map[string]float64{service.MetricBTC: 91000})

	if err := a.Reset(context.Background(), ResetOptions{Metrics: []string{service.MetricETH}}); err != nil {
		t.Fatalf("Reset 返回错误: %v", err)
	}
	if got := out.String(); got != "eth: nothing stored\n" {
		t.Fatalf("未存储的指标不应报告 reset, got %q", got)
	}
}

func TestExportRequiresHistory(t *testing.T) {
	a, _ := newTestApp(t)
	err := a.Export(context.Background(), ExportOptions{CSVPath: filepath.Join(t.TempDir(), "out.csv")})
	if !errors.Is(err, storage.ErrHistoryUnsupported) {
		t.Fatalf("文件存储导出应返回 ErrHistoryUnsupported, got %v", err)
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("缺少输出路径应报错")
	}
}

func sampleEvents() []storage.EventRecord {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	failed := "deliver via bark: 503"
	return []storage.EventRecord{
		{ID: "a", Metric: "btc", Direction: "up", Level: 91000, PreviousLevel: 90000, Value: 91200, Delivered: true, DetectedAt: base},
		{ID: "b", Metric: "eth", Direction: "down", Level: 2600, PreviousLevel: 2700, Value: 2580, DetectedAt: base.Add(time.Minute), DeliveryError: &failed},
		{ID: "c", Metric: "btc", Direction: "up", Level: 93000, PreviousLevel: 91000, Value: 92800, Delivered: true, DetectedAt: base.Add(time.Hour)},
		{ID: "d", Metric: "btc", Direction: "down", Level: 92000, PreviousLevel: 93000, Value: 91900, Delivered: true, DetectedAt: base.Add(2 * time.Hour)},
	}
}

func TestWriteEventsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.csv")
	if err := writeEventsCSV(path, sampleEvents()); err != nil {
		t.Fatalf("写 CSV 失败: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开 CSV 失败: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("解析 CSV 失败: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("行数错误: %d", len(rows))
	}
	if rows[2][1] != "eth" || rows[2][4] != "2600" || rows[2][6] != "false" || rows[2][7] == "" {
		t.Fatalf("ETH 行内容错误: %v", rows[2])
	}
}

func TestWriteEventsPNG(t *testing.T) {
	events := filterMetric(sampleEvents(), "btc")
	if len(events) != 3 {
		t.Fatalf("过滤后应有 3 条 BTC 事件, got %d", len(events))
	}

	path := filepath.Join(t.TempDir(), "btc.png")
	if err := writeEventsPNG(path, "btc", events); err != nil {
		t.Fatalf("渲染 PNG 失败: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("PNG 文件应非空: %v", err)
	}

	if err := writeEventsPNG(path, "eth", filterMetric(sampleEvents(), "eth")); err == nil {
		t.Fatal("单个数据点不应绘图")
	}
}

func TestDownsampleEvents(t *testing.T) {
	events := sampleEvents()
	got := downsampleEvents(events, 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		t.Fatalf("降采样应保留首尾, got %+v", got)
	}
	if len(downsampleEvents(events, 10)) != len(events) {
		t.Fatal("数量不足时不应降采样")
	}
	if one := downsampleEvents(events, 1); len(one) != 1 || one[0].ID != "d" {
		t.Fatalf("max=1 时应保留最新一条, got %+v", one)
	}
}
