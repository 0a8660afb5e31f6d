package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the guarded source is considered down.
var ErrCircuitOpen = errors.New("price source circuit open")

// GuardOptions tune the circuit breaker.
type GuardOptions struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Guard short-circuits a failing PriceSource so a dead feed costs nothing per
// cycle until the open timeout elapses and a probe request is let through.
type Guard struct {
	source  PriceSource
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewGuard wraps source with a circuit breaker.
func NewGuard(source PriceSource, opts GuardOptions, logger zerolog.Logger) *Guard {
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	g := &Guard{
		source: source,
		logger: logger.With().Str("component", "price_guard").Str("provider", source.Name()).Logger(),
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "price:" + source.Name(),
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// shutdown is not a feed failure
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("price source circuit state changed")
		},
	})
	return g
}

// Name reports the wrapped provider.
func (g *Guard) Name() string { return g.source.Name() }

// State exposes the breaker state for diagnostics.
func (g *Guard) State() gobreaker.State { return g.breaker.State() }

// FetchPrice delegates to the wrapped source unless the circuit is open.
func (g *Guard) FetchPrice(ctx context.Context, symbol Symbol) (float64, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.source.FetchPrice(ctx, symbol)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, &Error{Provider: g.source.Name(), Symbol: symbol, Err: ErrCircuitOpen}
		}
		return 0, err
	}
	return res.(float64), nil
}

var _ PriceSource = (*Guard)(nil)
