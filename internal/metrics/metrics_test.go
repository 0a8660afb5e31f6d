package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("读取指标失败: %v", err)
	}
	return string(body)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.FetchFailed("BTC")
	m.FetchFailed("BTC")
	m.Crossed("btc", "up")
	m.Delivered(true)
	m.Delivered(false)
	m.StorageFailed("eth")
	m.Observed("btc", 91200, time.Unix(1760000000, 0))
	m.ObserveCycle(150 * time.Millisecond)

	body := scrape(t, m)
	for _, line := range []string{
		`levelwatch_fetch_failures_total{symbol="BTC"} 2`,
		`levelwatch_crossings_total{direction="up",metric="btc"} 1`,
		`levelwatch_deliveries_total{result="error"} 1`,
		`levelwatch_deliveries_total{result="ok"} 1`,
		`levelwatch_storage_errors_total{metric="eth"} 1`,
		`levelwatch_observed_value{metric="btc"} 91200`,
		`levelwatch_cycles_total 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("输出缺少 %s\n%s", line, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FetchFailed("BTC")
	m.Crossed("btc", "up")
	m.Delivered(true)
	m.StorageFailed("btc")
	m.Observed("btc", 1, time.Now())
	m.ObserveCycle(time.Second)
	if m.Registry() != nil {
		t.Fatal("nil Metrics 的 Registry 应为 nil")
	}
}
