package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorABIJSON = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse Chainlink aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain fetcher.
type ChainlinkOptions struct {
	RPCURL       string
	Feeds        map[Symbol]string
	Timeout      time.Duration
	MaxStaleness time.Duration
}

// Chainlink reads USD prices from Chainlink aggregator contracts.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  map[common.Address]uint8
}

// NewChainlink builds a new Chainlink fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_fetcher").Logger(),
		decimals: make(map[common.Address]uint8),
	}
}

// Name identifies the provider in logs and errors.
func (c *Chainlink) Name() string { return "chainlink" }

// FetchPrice returns the latest aggregator answer for symbol.
func (c *Chainlink) FetchPrice(ctx context.Context, symbol Symbol) (float64, error) {
	price, err := c.fetch(ctx, symbol)
	if err != nil {
		return 0, &Error{Provider: c.Name(), Symbol: symbol, Err: err}
	}
	return price, nil
}

func (c *Chainlink) fetch(ctx context.Context, symbol Symbol) (float64, error) {
	if c.opts.RPCURL == "" {
		return 0, errors.New("ethereum rpc url not configured")
	}
	feed := c.opts.Feeds[symbol]
	if feed == "" {
		return 0, fmt.Errorf("no chainlink feed configured for %s", symbol)
	}
	if !common.IsHexAddress(feed) {
		return 0, fmt.Errorf("invalid feed address %q", feed)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}

	addr := common.HexToAddress(feed)

	decimals, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return 0, err
	}

	res, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return 0, err
	}
	answer, updatedAt, err := decodeRoundData(res)
	if err != nil {
		return 0, err
	}

	if c.opts.MaxStaleness > 0 {
		age := time.Since(time.Unix(updatedAt.Int64(), 0))
		if age > c.opts.MaxStaleness {
			return 0, fmt.Errorf("feed answer is stale (%s old)", age.Truncate(time.Second))
		}
	}

	price := decimal.NewFromBigInt(answer, -int32(decimals)).InexactFloat64()
	c.logger.Debug().Str("symbol", string(symbol)).Float64("price", price).Msg("price fetched")
	return price, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.clientMux.Lock()
	cached, ok := c.decimals[addr]
	c.clientMux.Unlock()
	if ok {
		return cached, nil
	}

	res, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.clientMux.Lock()
	c.decimals[addr] = decimals
	c.clientMux.Unlock()
	return decimals, nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]byte, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	return client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
}

func decodeRoundData(res []byte) (answer *big.Int, updatedAt *big.Int, err error) {
	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) != 5 {
		return nil, nil, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return nil, nil, errors.New("failed to decode answer")
	}
	updatedAt, ok = outputs[3].(*big.Int)
	if !ok {
		return nil, nil, errors.New("failed to decode updatedAt")
	}
	if answer.Sign() <= 0 {
		return nil, nil, errors.New("feed answer is non-positive")
	}
	return answer, updatedAt, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PriceSource = (*Chainlink)(nil)
