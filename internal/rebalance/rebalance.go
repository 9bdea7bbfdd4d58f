package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/auction"
	"set-gorebalance/internal/basket"
	"set-gorebalance/internal/bid"
	"set-gorebalance/internal/chain"
	"set-gorebalance/internal/ethutil"
	"set-gorebalance/internal/underlying"
	"set-gorebalance/internal/unitshares"
)

var ErrNotRebalancing = errors.New("rebalancing set not in Rebalance state")

// AuctionSetUp is what a bidder needs before sizing a bid: the combined
// basket, the bid increment and the price at the snapshot's block time.
type AuctionSetUp struct {
	Combined   *basket.Combined `json:"combined"`
	MinimumBid *big.Int         `json:"minimum_bid"`
	Price      auction.Price    `json:"price"`
	Elapsed    uint64           `json:"elapsed"`
}

// SetUp derives the auction set-up from a snapshot taken during Rebalance.
func SetUp(s *Snapshot) (*AuctionSetUp, error) {
	if !s.Rebalancing() {
		state := "nil"
		if s != nil {
			state = s.State.String()
		}
		return nil, fmt.Errorf("%w: state=%s", ErrNotRebalancing, state)
	}

	combined, err := basket.Combine(s.Current, s.Next)
	if err != nil {
		return nil, err
	}
	minBid, err := auction.MinimumBid(s.Auction, combined.NaturalUnit)
	if err != nil {
		return nil, err
	}
	if s.MinimumBid != nil && s.MinimumBid.Cmp(minBid) != 0 {
		log.Printf("[warn] %s: on-chain minimum bid %s differs from derived %s", s.RebalancingSet.Hex(), s.MinimumBid, minBid)
	}
	elapsed, err := auction.Elapsed(s.Auction, s.BlockTime)
	if err != nil {
		return nil, err
	}
	price, err := auction.PriceAt(s.Auction, elapsed)
	if err != nil {
		return nil, err
	}
	return &AuctionSetUp{
		Combined:   combined,
		MinimumBid: minBid,
		Price:      price,
		Elapsed:    elapsed,
	}, nil
}

// ExpectedFlows returns the token flows of a bid of bidQuantity at the
// snapshot's price. The quantity is checked against the remaining current
// sets when the snapshot carries them.
func ExpectedFlows(s *Snapshot, bidQuantity *big.Int) (*bid.TokenFlow, *AuctionSetUp, error) {
	setUp, err := SetUp(s)
	if err != nil {
		return nil, nil, err
	}
	var flows *bid.TokenFlow
	if s.RemainingCurrentSets != nil {
		flows, err = bid.ComputeFlowsWithRemaining(setUp.Combined, bidQuantity, setUp.Price.Numerator, setUp.Price.Denominator, setUp.MinimumBid, s.RemainingCurrentSets)
	} else {
		flows, err = bid.ComputeFlows(setUp.Combined, bidQuantity, setUp.Price.Numerator, setUp.Price.Denominator, setUp.MinimumBid)
	}
	if err != nil {
		return nil, nil, err
	}
	return flows, setUp, nil
}

// FetchWrappers reads the underlying token and stored exchange rate of every
// cToken that appears in tokens. Tokens not listed in cTokens are ignored.
func FetchWrappers(ctx context.Context, r chain.Reader, tokens, cTokens []common.Address) (underlying.Wrappers, error) {
	w := underlying.Wrappers{
		Underlying:    make(map[common.Address]common.Address),
		ExchangeRates: make(map[common.Address]*big.Int),
	}
	wanted := ethutil.AddressSet(cTokens)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		readErr error
	)
	for _, token := range tokens {
		if _, ok := wanted[token]; !ok {
			continue
		}
		wg.Add(1)
		go func(cToken common.Address) {
			defer wg.Done()
			u, err := r.Underlying(ctx, cToken)
			var rate *big.Int
			if err == nil {
				rate, err = r.ExchangeRate(ctx, cToken)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if readErr == nil {
					readErr = fmt.Errorf("ctoken %s: %w", cToken.Hex(), err)
				}
				return
			}
			w.Underlying[cToken] = u
			w.ExchangeRates[cToken] = rate
		}(token)
	}
	wg.Wait()
	if readErr != nil {
		return underlying.Wrappers{}, readErr
	}
	return w, nil
}

// ExpectedFlowsUnderlying is ExpectedFlows with cToken flows converted to
// their underlying assets at the stored exchange rate.
func ExpectedFlowsUnderlying(ctx context.Context, r chain.Reader, s *Snapshot, bidQuantity *big.Int, cTokens []common.Address) (*underlying.Result, error) {
	flows, setUp, err := ExpectedFlows(s, bidQuantity)
	if err != nil {
		return nil, err
	}
	w, err := FetchWrappers(ctx, r, setUp.Combined.TokenArray, cTokens)
	if err != nil {
		return nil, err
	}
	return underlying.Remap(flows, setUp.Combined.TokenArray, w)
}

// VaultBalances reads the vault balance the rebalancing set owns of every
// component of the next basket.
func VaultBalances(ctx context.Context, r chain.Reader, s *Snapshot) (map[common.Address]*big.Int, error) {
	if s == nil {
		return nil, fmt.Errorf("snapshot nil")
	}
	if (s.Vault == common.Address{}) {
		return nil, fmt.Errorf("vault address missing")
	}

	components := s.Next.Components
	balances := make([]*big.Int, len(components))
	errs := make([]error, len(components))
	var wg sync.WaitGroup
	for i := range components {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			balances[i], errs[i] = r.VaultBalance(ctx, s.Vault, components[i].Address, s.RebalancingSet)
		}(i)
	}
	wg.Wait()
	if err := firstErr(errs...); err != nil {
		return nil, err
	}

	out := make(map[common.Address]*big.Int, len(components))
	for i, c := range components {
		out[c.Address] = balances[i]
	}
	return out, nil
}

// ExpectedUnitShares projects the unit shares the rebalancing set will
// hold after settlement from its current vault balances.
func ExpectedUnitShares(ctx context.Context, r chain.Reader, s *Snapshot) (*unitshares.Projection, error) {
	balances, err := VaultBalances(ctx, r, s)
	if err != nil {
		return nil, err
	}
	return unitshares.ProjectDetailed(s.Next, balances, s.Supply, s.NaturalUnit)
}

// NextBasketUnderlying returns the next basket's component units with
// cToken components restated in their underlying asset.
func NextBasketUnderlying(ctx context.Context, r chain.Reader, s *Snapshot, cTokens []common.Address) ([]underlying.Transfer, error) {
	if s == nil {
		return nil, fmt.Errorf("snapshot nil")
	}
	tokens := s.Next.Addresses()
	units := make([]*big.Int, len(s.Next.Components))
	for i, c := range s.Next.Components {
		units[i] = c.Unit
	}
	w, err := FetchWrappers(ctx, r, tokens, cTokens)
	if err != nil {
		return nil, err
	}
	return underlying.RemapUnits(tokens, units, w)
}

// BalanceReader reads ERC20 wallet balances. *chain.Client satisfies it.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Shortfall is an inflow the bidder's wallet cannot cover.
type Shortfall struct {
	Token   common.Address `json:"token"`
	Need    *big.Int       `json:"need"`
	Balance *big.Int       `json:"balance"`
}

// Shortfalls compares every positive inflow of transfers with the bidder's
// wallet balance of that token.
func Shortfalls(ctx context.Context, r BalanceReader, bidder common.Address, transfers []bid.Transfer) ([]Shortfall, error) {
	var out []Shortfall
	for _, tr := range transfers {
		if tr.Inflow == nil || tr.Inflow.Sign() <= 0 {
			continue
		}
		bal, err := r.BalanceOf(ctx, tr.Address, bidder)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", tr.Address.Hex(), err)
		}
		if bal.Cmp(tr.Inflow) < 0 {
			out = append(out, Shortfall{Token: tr.Address, Need: new(big.Int).Set(tr.Inflow), Balance: bal})
		}
	}
	return out, nil
}
