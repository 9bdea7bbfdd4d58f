package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"set-gorebalance/internal/auction"
	"set-gorebalance/internal/basket"
)

const defaultCallTimeout = 8 * time.Second

// Reader is the read side of the chain: everything the auction replica
// needs to know about a rebalancing set.
type Reader interface {
	CurrentSet(ctx context.Context, rebalancingSet common.Address) (common.Address, error)
	NextSet(ctx context.Context, rebalancingSet common.Address) (common.Address, error)
	Vault(ctx context.Context, rebalancingSet common.Address) (common.Address, error)
	RebalanceState(ctx context.Context, rebalancingSet common.Address) (auction.State, error)
	Basket(ctx context.Context, set common.Address) (basket.TokenBasket, error)
	AuctionParameters(ctx context.Context, rebalancingSet common.Address) (auction.Parameters, error)
	BiddingParameters(ctx context.Context, rebalancingSet common.Address) (minimumBid, remainingCurrentSets *big.Int, err error)
	CombinedBasket(ctx context.Context, rebalancingSet common.Address) (*basket.Combined, error)
	NaturalUnit(ctx context.Context, set common.Address) (*big.Int, error)
	UnitShares(ctx context.Context, rebalancingSet common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
	VaultBalance(ctx context.Context, vault, token, owner common.Address) (*big.Int, error)
	ExchangeRate(ctx context.Context, cToken common.Address) (*big.Int, error)
	Underlying(ctx context.Context, cToken common.Address) (common.Address, error)
	LatestTime(ctx context.Context) (uint64, error)
}

// Caller is the subset of an RPC client Client needs. *ethclient.Client
// satisfies it.
type Caller interface {
	bind.ContractCaller
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client reads contract state with plain eth_call requests.
type Client struct {
	backend     Caller
	callTimeout time.Duration
}

var _ Reader = (*Client)(nil)

func NewClient(backend Caller) *Client {
	return &Client{backend: backend, callTimeout: defaultCallTimeout}
}

// Dial connects to rpcURL and returns the raw ethclient (for Submitter)
// and a Client on top of it.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, *Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, nil, fmt.Errorf("RPC URL missing")
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	return ec, NewClient(ec), nil
}

// WithCallTimeout sets the per-call timeout; zero disables it.
func (c *Client) WithCallTimeout(d time.Duration) *Client {
	c.callTimeout = d
	return c
}

func (c *Client) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	vals, err := callABI(ctx, c.backend, contractABI, to, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s(%s): %w", method, to.Hex(), err)
	}
	return vals, nil
}

func callABI(ctx context.Context, caller bind.ContractCaller, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result (no contract at address?)")
	}
	return contractABI.Unpack(method, out)
}

func (c *Client) CurrentSet(ctx context.Context, rebalancingSet common.Address) (common.Address, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "currentSet")
	if err != nil {
		return common.Address{}, err
	}
	return toAddress(vals, "currentSet")
}

func (c *Client) NextSet(ctx context.Context, rebalancingSet common.Address) (common.Address, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "nextSet")
	if err != nil {
		return common.Address{}, err
	}
	return toAddress(vals, "nextSet")
}

func (c *Client) Vault(ctx context.Context, rebalancingSet common.Address) (common.Address, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "vault")
	if err != nil {
		return common.Address{}, err
	}
	return toAddress(vals, "vault")
}

func (c *Client) RebalanceState(ctx context.Context, rebalancingSet common.Address) (auction.State, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "rebalanceState")
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("rebalanceState: unexpected result len %d", len(vals))
	}
	raw, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("rebalanceState: unexpected type %T", vals[0])
	}
	return auction.ParseState(raw)
}

// Basket reads a set's components, units and natural unit.
func (c *Client) Basket(ctx context.Context, set common.Address) (basket.TokenBasket, error) {
	vals, err := c.call(ctx, setTokenABI, set, "getComponents")
	if err != nil {
		return basket.TokenBasket{}, err
	}
	components, err := toAddresses(vals, "getComponents")
	if err != nil {
		return basket.TokenBasket{}, err
	}

	vals, err = c.call(ctx, setTokenABI, set, "getUnits")
	if err != nil {
		return basket.TokenBasket{}, err
	}
	units, err := toBigs(vals, "getUnits")
	if err != nil {
		return basket.TokenBasket{}, err
	}

	naturalUnit, err := c.NaturalUnit(ctx, set)
	if err != nil {
		return basket.TokenBasket{}, err
	}
	b, err := basket.New(components, units, naturalUnit)
	if err != nil {
		return basket.TokenBasket{}, fmt.Errorf("set %s: %w", set.Hex(), err)
	}
	return b, nil
}

// AuctionParameters reads start time, time to pivot, start/pivot price and
// the price divisor of the set's auction library.
func (c *Client) AuctionParameters(ctx context.Context, rebalancingSet common.Address) (auction.Parameters, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "getAuctionParameters")
	if err != nil {
		return auction.Parameters{}, err
	}
	raw, err := toBigArray4(vals, "getAuctionParameters")
	if err != nil {
		return auction.Parameters{}, err
	}
	if !raw[0].IsUint64() || !raw[1].IsUint64() {
		return auction.Parameters{}, fmt.Errorf("getAuctionParameters: time out of range start=%s pivot=%s", raw[0], raw[1])
	}

	vals, err = c.call(ctx, rebalancingSetABI, rebalancingSet, "auctionLibrary")
	if err != nil {
		return auction.Parameters{}, err
	}
	library, err := toAddress(vals, "auctionLibrary")
	if err != nil {
		return auction.Parameters{}, err
	}
	vals, err = c.call(ctx, priceCurveABI, library, "priceDivisor")
	if err != nil {
		return auction.Parameters{}, err
	}
	divisor, err := toBig(vals, "priceDivisor")
	if err != nil {
		return auction.Parameters{}, err
	}

	return auction.Parameters{
		StartTime:        raw[0].Uint64(),
		TimeToPivot:      raw[1].Uint64(),
		StartPrice:       raw[2],
		PivotPrice:       raw[3],
		PriceDenominator: divisor,
	}, nil
}

func (c *Client) BiddingParameters(ctx context.Context, rebalancingSet common.Address) (*big.Int, *big.Int, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "getBiddingParameters")
	if err != nil {
		return nil, nil, err
	}
	if len(vals) != 1 {
		return nil, nil, fmt.Errorf("getBiddingParameters: unexpected result len %d", len(vals))
	}
	raw, ok := vals[0].([2]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("getBiddingParameters: unexpected type %T", vals[0])
	}
	return raw[0], raw[1], nil
}

// CombinedBasket reads the combined arrays the contract computed at
// rebalance start; useful to cross-check basket.Combine.
func (c *Client) CombinedBasket(ctx context.Context, rebalancingSet common.Address) (*basket.Combined, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "getCombinedTokenArray")
	if err != nil {
		return nil, err
	}
	tokens, err := toAddresses(vals, "getCombinedTokenArray")
	if err != nil {
		return nil, err
	}
	vals, err = c.call(ctx, rebalancingSetABI, rebalancingSet, "getCombinedCurrentUnits")
	if err != nil {
		return nil, err
	}
	current, err := toBigs(vals, "getCombinedCurrentUnits")
	if err != nil {
		return nil, err
	}
	vals, err = c.call(ctx, rebalancingSetABI, rebalancingSet, "getCombinedNextSetUnits")
	if err != nil {
		return nil, err
	}
	next, err := toBigs(vals, "getCombinedNextSetUnits")
	if err != nil {
		return nil, err
	}

	combined := &basket.Combined{TokenArray: tokens, CurrentUnits: current, NextUnits: next}
	if err := combined.Validate(); err != nil {
		return nil, err
	}
	return combined, nil
}

func (c *Client) NaturalUnit(ctx context.Context, set common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, setTokenABI, set, "naturalUnit")
	if err != nil {
		return nil, err
	}
	return toBig(vals, "naturalUnit")
}

func (c *Client) UnitShares(ctx context.Context, rebalancingSet common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, rebalancingSetABI, rebalancingSet, "unitShares")
	if err != nil {
		return nil, err
	}
	return toBig(vals, "unitShares")
}

func (c *Client) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, erc20ABI, token, "totalSupply")
	if err != nil {
		return nil, err
	}
	return toBig(vals, "totalSupply")
}

func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return toBig(vals, "balanceOf")
}

func (c *Client) VaultBalance(ctx context.Context, vault, token, owner common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, vaultABI, vault, "getOwnerBalance", token, owner)
	if err != nil {
		return nil, err
	}
	return toBig(vals, "getOwnerBalance")
}

func (c *Client) ExchangeRate(ctx context.Context, cToken common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, cTokenABI, cToken, "exchangeRateStored")
	if err != nil {
		return nil, err
	}
	return toBig(vals, "exchangeRateStored")
}

func (c *Client) Underlying(ctx context.Context, cToken common.Address) (common.Address, error) {
	vals, err := c.call(ctx, cTokenABI, cToken, "underlying")
	if err != nil {
		return common.Address{}, err
	}
	return toAddress(vals, "underlying")
}

// LatestTime returns the latest block timestamp; auction elapsed time is
// measured against block time, not the local clock.
func (c *Client) LatestTime(ctx context.Context) (uint64, error) {
	h, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	if h == nil {
		return 0, fmt.Errorf("latest header: nil")
	}
	return h.Time, nil
}

func toBig(vals []interface{}, method string) (*big.Int, error) {
	if len(vals) != 1 {
		return nil, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

func toBigs(vals []interface{}, method string) ([]*big.Int, error) {
	if len(vals) != 1 {
		return nil, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	v, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

func toBigArray4(vals []interface{}, method string) ([4]*big.Int, error) {
	if len(vals) != 1 {
		return [4]*big.Int{}, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	v, ok := vals[0].([4]*big.Int)
	if !ok {
		return [4]*big.Int{}, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

func toAddress(vals []interface{}, method string) (common.Address, error) {
	if len(vals) != 1 {
		return common.Address{}, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	v, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

func toAddresses(vals []interface{}, method string) ([]common.Address, error) {
	if len(vals) != 1 {
		return nil, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	v, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}
