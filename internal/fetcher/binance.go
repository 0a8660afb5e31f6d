package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BinanceOptions parameterise the Binance spot fetcher.
type BinanceOptions struct {
	BaseURL string
	Symbols map[Symbol]string
	Timeout time.Duration
}

// Binance reads last traded prices from the spot ticker endpoint.
type Binance struct {
	opts    BinanceOptions
	client  *binance.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewBinance constructs a Binance fetcher. No API key is needed for tickers.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	client := binance.NewClient("", "")
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		client.BaseURL = base
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &Binance{
		opts:    opts,
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
	}
}

// Name identifies the provider in logs and errors.
func (b *Binance) Name() string { return "binance" }

// FetchPrice returns the USD(T) price of symbol.
func (b *Binance) FetchPrice(ctx context.Context, symbol Symbol) (float64, error) {
	price, err := b.fetch(ctx, symbol)
	if err != nil {
		return 0, &Error{Provider: b.Name(), Symbol: symbol, Err: err}
	}
	return price, nil
}

func (b *Binance) fetch(ctx context.Context, symbol Symbol) (float64, error) {
	pair, ok := b.opts.Symbols[symbol]
	if !ok || pair == "" {
		return 0, fmt.Errorf("no binance pair configured for %s", symbol)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	prices, err := b.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, err
	}

	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, pair) {
			continue
		}
		d, err := decimal.NewFromString(p.Price)
		if err != nil {
			return 0, fmt.Errorf("parse price %q: %w", p.Price, err)
		}
		if !d.IsPositive() {
			return 0, errors.New("price returned non-positive")
		}
		price := d.InexactFloat64()
		b.logger.Debug().Str("symbol", string(symbol)).Str("pair", pair).Float64("price", price).Msg("price fetched")
		return price, nil
	}
	return 0, fmt.Errorf("pair %s missing from response", pair)
}

var _ PriceSource = (*Binance)(nil)
