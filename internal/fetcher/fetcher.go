package fetcher

import (
	"context"
	"fmt"
)

// Symbol identifies an asset quoted in USD.
type Symbol string

const (
	BTC Symbol = "BTC"
	ETH Symbol = "ETH"
)

// PriceSource retrieves the current USD price of an asset.
type PriceSource interface {
	FetchPrice(ctx context.Context, symbol Symbol) (float64, error)
	Name() string
}

// Error is a recoverable price fetch failure: network, timeout, or payload.
type Error struct {
	Provider string
	Symbol   Symbol
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s price from %s: %v", e.Symbol, e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
