package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"levelwatch/internal/config"
)

// testPostgresStore connects to LEVELWATCH_TEST_POSTGRES_DSN or skips.
func testPostgresStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEVELWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEVELWATCH_TEST_POSTGRES_DSN 未设置, 跳过 PostgreSQL 测试")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("连接数据库失败: %v", err)
	}
	store := NewStore(pool)
	t.Cleanup(func() { _ = store.Close() })
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("初始化表结构失败: %v", err)
	}
	return store
}

func TestPostgresStoreLevelRoundTrip(t *testing.T) {
	store := testPostgresStore(t)
	ctx := context.Background()
	metric := "test_" + uuid.NewString()
	t.Cleanup(func() { _ = store.DeleteLevel(context.Background(), metric) })

	if _, ok, err := store.GetLastLevel(ctx, metric); err != nil || ok {
		t.Fatalf("新指标不应有档位: ok=%v err=%v", ok, err)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, lvl := range []float64{91000, 35.5, 0.005} {
		if err := store.SetLastLevel(ctx, metric, lvl, at); err != nil {
			t.Fatalf("写入 %v 失败: %v", lvl, err)
		}
		got, ok, err := store.GetLastLevel(ctx, metric)
		if err != nil || !ok || got != lvl {
			t.Fatalf("numeric 读回错误: got %v ok=%v err=%v want %v", got, ok, err, lvl)
		}
	}

	records, err := store.ListLevels(ctx)
	if err != nil {
		t.Fatalf("ListLevels: %v", err)
	}
	found := false
	for _, rec := range records {
		if rec.Metric == metric {
			found = true
			if rec.Level != 0.005 || !rec.UpdatedAt.Equal(at) {
				t.Fatalf("档位记录错误: %+v", rec)
			}
		}
	}
	if !found {
		t.Fatalf("ListLevels 缺少 %s", metric)
	}

	if err := store.DeleteLevel(ctx, metric); err != nil {
		t.Fatalf("DeleteLevel: %v", err)
	}
	if _, ok, _ := store.GetLastLevel(ctx, metric); ok {
		t.Fatal("删除后不应再有档位")
	}
}

func TestPostgresStoreEvents(t *testing.T) {
	store := testPostgresStore(t)
	ctx := context.Background()
	detected := time.Now().UTC().Truncate(time.Microsecond)

	event := EventRecord{
		ID:            uuid.NewString(),
		Metric:        "btc_eth",
		Direction:     "up",
		Level:         35.5,
		PreviousLevel: 35,
		Value:         35.62,
		DetectedAt:    detected,
	}
	if err := store.RecordEvent(ctx, event); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	failed := "deliver via bark: 503"
	event.DeliveryError = &failed
	if err := store.RecordEvent(ctx, event); err != nil {
		t.Fatalf("重复记录应更新投递状态: %v", err)
	}

	events, err := store.ListEventsBetween(ctx, detected.Add(-time.Second), detected.Add(time.Second))
	if err != nil {
		t.Fatalf("ListEventsBetween: %v", err)
	}
	var got *EventRecord
	for i := range events {
		if events[i].ID == event.ID {
			got = &events[i]
		}
	}
	if got == nil {
		t.Fatalf("未找到事件 %s", event.ID)
	}
	if got.Level != 35.5 || got.PreviousLevel != 35 || got.Value != 35.62 {
		t.Fatalf("numeric 字段读回错误: %+v", got)
	}
	if got.DeliveryError == nil || *got.DeliveryError != failed || got.Delivered {
		t.Fatalf("投递状态错误: %+v", got)
	}
}

func TestPostgresStoreNotConfigured(t *testing.T) {
	var store *Store
	_, _, err := store.GetLastLevel(context.Background(), "btc")
	var storeErr *Error
	if !errors.As(err, &storeErr) || !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置连接池应返回 ErrNotConfigured, 实际 %v", err)
	}
	if err := NewStore(nil).SetLastLevel(context.Background(), "btc", 1, time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置连接池应返回 ErrNotConfigured, 实际 %v", err)
	}
}

func TestParseNumericText(t *testing.T) {
	cases := map[string]float64{
		"91000":      91000,
		"91000.0000": 91000,
		"35.50":      35.5,
		"0.005":      0.005,
	}
	for raw, want := range cases {
		got, err := parseLevel(raw)
		if err != nil || got != want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	if _, err := parseLevel("NaN?"); err == nil {
		t.Error("非法 numeric 文本应报错")
	}
	if got := formatLevel(35.5); got != "35.5" {
		t.Errorf("formatLevel(35.5) = %q", got)
	}
}
