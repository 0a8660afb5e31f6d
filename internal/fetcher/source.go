package fetcher

import (
	"fmt"

	"github.com/rs/zerolog"

	"levelwatch/internal/config"
)

// New builds the configured price source, wrapped in a circuit breaker when enabled.
func New(price config.PriceConfig, breaker config.BreakerConfig, logger zerolog.Logger) (PriceSource, error) {
	var source PriceSource

	switch price.Provider {
	case config.ProviderCoinGecko, "":
		source = NewCoinGecko(CoinGeckoOptions{
			BaseURL:           price.CoinGecko.BaseURL,
			APIKey:            price.CoinGecko.APIKey,
			Timeout:           price.RequestTimeout,
			RequestsPerMinute: price.CoinGecko.RequestsPerMinute,
		}, logger)
	case config.ProviderBinance:
		source = NewBinance(BinanceOptions{
			BaseURL: price.Binance.BaseURL,
			Symbols: map[Symbol]string{
				BTC: price.Binance.BTCSymbol,
				ETH: price.Binance.ETHSymbol,
			},
			Timeout: price.RequestTimeout,
		}, logger)
	case config.ProviderChainlink:
		source = NewChainlink(ChainlinkOptions{
			RPCURL: price.Chainlink.RPCURL,
			Feeds: map[Symbol]string{
				BTC: price.Chainlink.BTCUSDFeed,
				ETH: price.Chainlink.ETHUSDFeed,
			},
			Timeout: price.RequestTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported price provider %q", price.Provider)
	}

	if breaker.Enabled {
		source = NewGuard(source, GuardOptions{
			MaxFailures: breaker.MaxFailures,
			OpenTimeout: breaker.OpenTimeout,
		}, logger)
	}
	return source, nil
}
