package feed

import (
	"context"
	"errors"
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

	"stake-hedge-watcher/internal/oracle"
)

const (
	aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain aggregator fetcher.
type ChainlinkOptions struct {
	RPCURL     string
	Aggregator string
	Feed       oracle.FeedID
	Timeout    time.Duration
}

// Chainlink reads a price aggregator over Ethereum RPC. The aggregator
// publishes no EMA or confidence band, so the quote carries the spot
// answer for both prices and a zero confidence.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimals    int32
	decimalsSet bool
}

// NewChainlink builds an aggregator fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// FetchQuote retrieves the latest aggregator round.
func (c *Chainlink) FetchQuote(ctx context.Context) (oracle.Quote, error) {
	if c.opts.RPCURL == "" {
		return oracle.Quote{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.Aggregator == "" {
		return oracle.Quote{}, errors.New("aggregator contract address not configured")
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
		return oracle.Quote{}, err
	}

	addr := common.HexToAddress(c.opts.Aggregator)

	feedDecimals, err := c.getDecimals(ctx, client, addr)
	if err != nil {
		return oracle.Quote{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return oracle.Quote{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return oracle.Quote{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return oracle.Quote{}, err
	}
	if len(outputs) != 5 {
		return oracle.Quote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return oracle.Quote{}, errors.New("failed to decode aggregator answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return oracle.Quote{}, errors.New("failed to decode aggregator timestamp")
	}

	price := decimal.NewFromBigInt(answer, -feedDecimals).Mul(dec1e6).Round(0)
	if price.Sign() < 0 {
		return oracle.Quote{}, errors.New("aggregator returned negative answer")
	}

	return oracle.Quote{
		Feed:        c.opts.Feed,
		Price:       price.IntPart(),
		EMAPrice:    price.IntPart(),
		Confidence:  0,
		PublishTime: updatedAt.Int64(),
	}, nil
}

func (c *Chainlink) getDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	if c.decimalsSet {
		return c.decimals, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
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
	value, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.decimals = int32(value)
	c.decimalsSet = true
	return c.decimals, nil
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

var _ QuoteFetcher = (*Chainlink)(nil)
