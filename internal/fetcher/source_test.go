package fetcher

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"levelwatch/internal/config"
)

func TestNewSelectsProvider(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{config.ProviderCoinGecko, "coingecko"},
		{config.ProviderBinance, "binance"},
		{config.ProviderChainlink, "chainlink"},
	}
	for _, tc := range cases {
		src, err := New(config.PriceConfig{Provider: tc.provider}, config.BreakerConfig{}, zerolog.Nop())
		if err != nil {
			t.Fatalf("%s: 构建失败: %v", tc.provider, err)
		}
		if src.Name() != tc.want {
			t.Fatalf("%s: Name 错误: %s", tc.provider, src.Name())
		}
	}
}

func TestNewWrapsGuard(t *testing.T) {
	src, err := New(config.PriceConfig{Provider: config.ProviderCoinGecko},
		config.BreakerConfig{Enabled: true, MaxFailures: 3, OpenTimeout: time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构建失败: %v", err)
	}
	if _, ok := src.(*Guard); !ok {
		t.Fatalf("期望 *Guard, got %T", src)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(config.PriceConfig{Provider: "kraken"}, config.BreakerConfig{}, zerolog.Nop()); err == nil {
		t.Fatal("期望未知 provider 返回错误")
	}
}
