package oracle

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
)

const aggregatorABIJSON = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[
    {"internalType":"uint8","name":"","type":"uint8"}],
   "stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain feed. Chainlink's JPY/USD
// aggregator quotes USD per JPY, so the rate is inverted by default.
type ChainlinkOptions struct {
	RPCURL            string
	AggregatorAddress string
	Timeout           time.Duration
	Invert            bool
}

// Chainlink reads a price aggregator contract over Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	clientMux sync.Mutex
	client    *ethclient.Client
	decimals  *uint8
}

// NewChainlink builds an on-chain rate source.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "oracle_chainlink").Logger()}
}

// JPYRate reads latestRoundData and converts the answer to a JPY-per-USD
// rate scaled 1e6.
func (c *Chainlink) JPYRate(ctx context.Context) (Quote, error) {
	if c.opts.RPCURL == "" {
		return Quote{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.AggregatorAddress == "" {
		return Quote{}, errors.New("aggregator address not configured")
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
		return Quote{}, err
	}
	addr := common.HexToAddress(c.opts.AggregatorAddress)

	decimals, err := c.getDecimals(ctx, client, addr)
	if err != nil {
		return Quote{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Quote{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Quote{}, err
	}
	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Quote{}, err
	}
	if len(outputs) != 5 {
		return Quote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return Quote{}, errors.New("invalid aggregator answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok || !updatedAt.IsInt64() {
		return Quote{}, errors.New("invalid aggregator timestamp")
	}

	rate, err := scaleAnswer(answer, decimals, c.opts.Invert)
	if err != nil {
		return Quote{}, err
	}

	return Quote{Rate: rate, UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC()}, nil
}

// scaleAnswer converts an aggregator answer with the given feed decimals to
// the 1e6-scaled JPY-per-USD rate, inverting when the feed quotes USD/JPY.
func scaleAnswer(answer *big.Int, decimals uint8, invert bool) (uint64, error) {
	feedScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scale := big.NewInt(1_000_000)

	var out *big.Int
	if invert {
		// rate = feedScale * 1e6 / answer
		out = new(big.Int).Mul(feedScale, scale)
		out.Quo(out, answer)
	} else {
		// rate = answer * 1e6 / feedScale
		out = new(big.Int).Mul(answer, scale)
		out.Quo(out, feedScale)
	}
	if out.Sign() <= 0 || !out.IsUint64() {
		return 0, errors.New("scaled rate out of range")
	}
	return out.Uint64(), nil
}

func (c *Chainlink) getDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	if c.decimals != nil {
		return *c.decimals, nil
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
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	c.decimals = &d
	return d, nil
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

var _ Source = (*Chainlink)(nil)
