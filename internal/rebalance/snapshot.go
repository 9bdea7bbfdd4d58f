package rebalance

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/auction"
	"set-gorebalance/internal/basket"
	"set-gorebalance/internal/chain"
)

// Snapshot is a point-in-time read of a rebalancing set and everything the
// auction math needs. Auction and bidding fields are only populated while
// the set is in the Rebalance state.
type Snapshot struct {
	RebalancingSet common.Address `json:"rebalancing_set"`
	CurrentSet     common.Address `json:"current_set"`
	NextSet        common.Address `json:"next_set"`
	Vault          common.Address `json:"vault"`
	State          auction.State  `json:"state"`

	Current basket.TokenBasket `json:"current"`
	Next    basket.TokenBasket `json:"next"`

	Auction              auction.Parameters `json:"auction"`
	MinimumBid           *big.Int           `json:"minimum_bid,omitempty"`
	RemainingCurrentSets *big.Int           `json:"remaining_current_sets,omitempty"`

	Supply      *big.Int `json:"supply"`
	NaturalUnit *big.Int `json:"natural_unit"`
	BlockTime   uint64   `json:"block_time"`
}

// Rebalancing reports whether the snapshot was taken during an auction.
func (s *Snapshot) Rebalancing() bool {
	return s != nil && s.State == auction.StateRebalance
}

// FetchSnapshot reads a snapshot of rebalancingSet. Reads that do not depend
// on each other run concurrently; set addresses and state are read first
// because the baskets and auction reads are parameterized by them.
func FetchSnapshot(ctx context.Context, r chain.Reader, rebalancingSet common.Address) (*Snapshot, error) {
	if r == nil {
		return nil, fmt.Errorf("reader nil")
	}
	if (rebalancingSet == common.Address{}) {
		return nil, fmt.Errorf("rebalancing set address missing")
	}

	s := &Snapshot{RebalancingSet: rebalancingSet}

	var (
		errs [7]error
		wg   sync.WaitGroup
	)
	wg.Add(7)
	go func() {
		defer wg.Done()
		s.CurrentSet, errs[0] = r.CurrentSet(ctx, rebalancingSet)
	}()
	go func() {
		defer wg.Done()
		s.NextSet, errs[1] = r.NextSet(ctx, rebalancingSet)
	}()
	go func() {
		defer wg.Done()
		s.Vault, errs[2] = r.Vault(ctx, rebalancingSet)
	}()
	go func() {
		defer wg.Done()
		s.State, errs[3] = r.RebalanceState(ctx, rebalancingSet)
	}()
	go func() {
		defer wg.Done()
		s.Supply, errs[4] = r.TotalSupply(ctx, rebalancingSet)
	}()
	go func() {
		defer wg.Done()
		s.NaturalUnit, errs[5] = r.NaturalUnit(ctx, rebalancingSet)
	}()
	go func() {
		defer wg.Done()
		s.BlockTime, errs[6] = r.LatestTime(ctx)
	}()
	wg.Wait()
	if err := firstErr(errs[:]...); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", rebalancingSet.Hex(), err)
	}

	var (
		currentErr, nextErr, auctionErr, biddingErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Current, currentErr = r.Basket(ctx, s.CurrentSet)
	}()
	go func() {
		defer wg.Done()
		if (s.NextSet == common.Address{}) {
			return
		}
		s.Next, nextErr = r.Basket(ctx, s.NextSet)
	}()
	if s.Rebalancing() {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Auction, auctionErr = r.AuctionParameters(ctx, rebalancingSet)
		}()
		go func() {
			defer wg.Done()
			s.MinimumBid, s.RemainingCurrentSets, biddingErr = r.BiddingParameters(ctx, rebalancingSet)
		}()
	}
	wg.Wait()
	if err := firstErr(currentErr, nextErr, auctionErr, biddingErr); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", rebalancingSet.Hex(), err)
	}
	return s, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
