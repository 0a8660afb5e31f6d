package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type stubSource struct {
	calls int
	price float64
	err   error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchPrice(ctx context.Context, symbol Symbol) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, &Error{Provider: "stub", Symbol: symbol, Err: s.err}
	}
	return s.price, nil
}

func TestGuardPassesThrough(t *testing.T) {
	src := &stubSource{price: 91200}
	g := NewGuard(src, GuardOptions{MaxFailures: 2, OpenTimeout: time.Minute}, zerolog.Nop())

	price, err := g.FetchPrice(context.Background(), BTC)
	if err != nil || price != 91200 {
		t.Fatalf("期望透传价格, got %v %v", price, err)
	}
	if g.Name() != "stub" {
		t.Fatalf("Name 应透传: %s", g.Name())
	}
}

func TestGuardOpensAfterConsecutiveFailures(t *testing.T) {
	src := &stubSource{err: errors.New("boom")}
	g := NewGuard(src, GuardOptions{MaxFailures: 2, OpenTimeout: time.Minute}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := g.FetchPrice(context.Background(), BTC); err == nil {
			t.Fatal("期望返回错误")
		}
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("熔断器应为打开状态, got %s", g.State())
	}

	_, err := g.FetchPrice(context.Background(), ETH)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("期望 ErrCircuitOpen, got %v", err)
	}
	var fetchErr *Error
	if !errors.As(err, &fetchErr) || fetchErr.Symbol != ETH {
		t.Fatalf("期望带币种的 *Error, got %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("熔断期间不应调用数据源, calls=%d", src.calls)
	}
}

func TestGuardIgnoresCancellation(t *testing.T) {
	src := &stubSource{err: context.Canceled}
	g := NewGuard(src, GuardOptions{MaxFailures: 1, OpenTimeout: time.Minute}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, _ = g.FetchPrice(context.Background(), BTC)
	}
	if g.State() != gobreaker.StateClosed {
		t.Fatalf("取消不应触发熔断, got %s", g.State())
	}
}
