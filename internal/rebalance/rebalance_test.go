package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/auction"
	"set-gorebalance/internal/basket"
	"set-gorebalance/internal/bid"
	"set-gorebalance/internal/jsonl"
	"set-gorebalance/internal/unitshares"
)

var (
	rebalancingSet = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	currentSet     = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	nextSet        = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	vault          = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	tokA           = common.HexToAddress("0x000000000000000000000000000000000000000a")
	cTokB          = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokU           = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fakeReader struct {
	state       auction.State
	baskets     map[common.Address]basket.TokenBasket
	params      auction.Parameters
	minBid      *big.Int
	remaining   *big.Int
	supply      *big.Int
	naturalUnit *big.Int
	blockTime   uint64
	balances    map[common.Address]*big.Int
	underlying  map[common.Address]common.Address
	rates       map[common.Address]*big.Int

	auctionReads atomic.Int32
	failBasket   bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		state: auction.StateRebalance,
		baskets: map[common.Address]basket.TokenBasket{
			currentSet: {Components: []basket.Component{{Address: tokA, Unit: big.NewInt(10)}}, NaturalUnit: big.NewInt(10)},
			nextSet:    {Components: []basket.Component{{Address: cTokB, Unit: big.NewInt(20)}}, NaturalUnit: big.NewInt(10)},
		},
		params: auction.Parameters{
			StartTime:        1_000,
			TimeToPivot:      100,
			StartPrice:       big.NewInt(500),
			PivotPrice:       big.NewInt(1_500),
			PriceDenominator: big.NewInt(1_000),
		},
		minBid:      big.NewInt(10_000),
		remaining:   big.NewInt(70_000),
		supply:      big.NewInt(700),
		naturalUnit: big.NewInt(100),
		blockTime:   1_050,
		balances:    map[common.Address]*big.Int{cTokB: big.NewInt(1_400)},
		underlying:  map[common.Address]common.Address{cTokB: tokU},
		rates:       map[common.Address]*big.Int{cTokB: big.NewInt(200_000_000_000_000_000)},
	}
}

func (f *fakeReader) CurrentSet(context.Context, common.Address) (common.Address, error) {
	return currentSet, nil
}

func (f *fakeReader) NextSet(context.Context, common.Address) (common.Address, error) {
	return nextSet, nil
}

func (f *fakeReader) Vault(context.Context, common.Address) (common.Address, error) {
	return vault, nil
}

func (f *fakeReader) RebalanceState(context.Context, common.Address) (auction.State, error) {
	return f.state, nil
}

func (f *fakeReader) Basket(_ context.Context, set common.Address) (basket.TokenBasket, error) {
	if f.failBasket {
		return basket.TokenBasket{}, fmt.Errorf("execution reverted")
	}
	b, ok := f.baskets[set]
	if !ok {
		return basket.TokenBasket{}, fmt.Errorf("unknown set %s", set.Hex())
	}
	return b, nil
}

func (f *fakeReader) AuctionParameters(context.Context, common.Address) (auction.Parameters, error) {
	f.auctionReads.Add(1)
	return f.params, nil
}

func (f *fakeReader) BiddingParameters(context.Context, common.Address) (*big.Int, *big.Int, error) {
	return f.minBid, f.remaining, nil
}

func (f *fakeReader) CombinedBasket(context.Context, common.Address) (*basket.Combined, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeReader) NaturalUnit(context.Context, common.Address) (*big.Int, error) {
	return f.naturalUnit, nil
}

func (f *fakeReader) UnitShares(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeReader) TotalSupply(context.Context, common.Address) (*big.Int, error) {
	return f.supply, nil
}

func (f *fakeReader) VaultBalance(_ context.Context, v, token, owner common.Address) (*big.Int, error) {
	if v != vault || owner != rebalancingSet {
		return nil, fmt.Errorf("unexpected vault read %s %s", v.Hex(), owner.Hex())
	}
	if b, ok := f.balances[token]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (f *fakeReader) ExchangeRate(_ context.Context, cToken common.Address) (*big.Int, error) {
	r, ok := f.rates[cToken]
	if !ok {
		return nil, fmt.Errorf("not a ctoken")
	}
	return r, nil
}

func (f *fakeReader) Underlying(_ context.Context, cToken common.Address) (common.Address, error) {
	u, ok := f.underlying[cToken]
	if !ok {
		return common.Address{}, fmt.Errorf("not a ctoken")
	}
	return u, nil
}

func (f *fakeReader) LatestTime(context.Context) (uint64, error) {
	return f.blockTime, nil
}

func ints(xs []*big.Int) []int64 {
	out := make([]int64, 0, len(xs))
	for _, x := range xs {
		out = append(out, x.Int64())
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fetch(t *testing.T, r *fakeReader) *Snapshot {
	t.Helper()
	s, err := FetchSnapshot(context.Background(), r, rebalancingSet)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	return s
}

func TestFetchSnapshot(t *testing.T) {
	t.Parallel()

	s := fetch(t, newFakeReader())
	if s.CurrentSet != currentSet || s.NextSet != nextSet || s.Vault != vault {
		t.Fatalf("unexpected addresses: %+v", s)
	}
	if s.State != auction.StateRebalance {
		t.Fatalf("state=%s", s.State)
	}
	if len(s.Current.Components) != 1 || s.Next.Components[0].Address != cTokB {
		t.Fatalf("unexpected baskets: %+v / %+v", s.Current, s.Next)
	}
	if s.Auction.TimeToPivot != 100 || s.RemainingCurrentSets.Int64() != 70_000 {
		t.Fatalf("unexpected auction fields: %+v remaining=%v", s.Auction, s.RemainingCurrentSets)
	}
	if s.BlockTime != 1_050 || s.Supply.Int64() != 700 || s.NaturalUnit.Int64() != 100 {
		t.Fatalf("unexpected supply fields: %+v", s)
	}
}

func TestFetchSnapshot_OutsideRebalanceSkipsAuctionReads(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	r.state = auction.StateProposal
	s := fetch(t, r)
	if n := r.auctionReads.Load(); n != 0 {
		t.Fatalf("auction parameters read %d times", n)
	}
	if s.MinimumBid != nil || s.RemainingCurrentSets != nil {
		t.Fatalf("bidding parameters populated outside Rebalance")
	}
	if _, err := SetUp(s); !errors.Is(err, ErrNotRebalancing) {
		t.Fatalf("got %v, want ErrNotRebalancing", err)
	}
}

func TestFetchSnapshot_PropagatesReadErrors(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	r.failBasket = true
	if _, err := FetchSnapshot(context.Background(), r, rebalancingSet); err == nil {
		t.Fatalf("expected err")
	}
	if _, err := FetchSnapshot(context.Background(), r, common.Address{}); err == nil {
		t.Fatalf("expected err for zero address")
	}
}

func TestSetUp(t *testing.T) {
	t.Parallel()

	setUp, err := SetUp(fetch(t, newFakeReader()))
	if err != nil {
		t.Fatalf("SetUp: %v", err)
	}
	if got := setUp.Combined.TokenArray; len(got) != 2 || got[0] != tokA || got[1] != cTokB {
		t.Fatalf("token array=%v", got)
	}
	if setUp.MinimumBid.Int64() != 10_000 {
		t.Fatalf("min bid=%s want 10000", setUp.MinimumBid)
	}
	// elapsed 50 of 100: 500 + 1000*50/100
	if setUp.Elapsed != 50 || setUp.Price.Numerator.Int64() != 1_000 || setUp.Price.Denominator.Int64() != 1_000 {
		t.Fatalf("elapsed=%d price=%s", setUp.Elapsed, setUp.Price)
	}
}

func TestSetUp_BeforeStart(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	r.blockTime = 999
	if _, err := SetUp(fetch(t, r)); !errors.Is(err, auction.ErrAuctionNotStarted) {
		t.Fatalf("got %v, want ErrAuctionNotStarted", err)
	}
}

func TestExpectedFlows(t *testing.T) {
	t.Parallel()

	s := fetch(t, newFakeReader())
	flows, _, err := ExpectedFlows(s, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("ExpectedFlows: %v", err)
	}
	if !equalInts(ints(flows.Inflow), []int64{0, 20_000}) || !equalInts(ints(flows.Outflow), []int64{10_000, 0}) {
		t.Fatalf("inflow=%v outflow=%v", ints(flows.Inflow), ints(flows.Outflow))
	}

	if _, _, err := ExpectedFlows(s, big.NewInt(80_000)); !errors.Is(err, bid.ErrInsufficientRemainingSets) {
		t.Fatalf("got %v, want ErrInsufficientRemainingSets", err)
	}
}

func TestExpectedFlowsUnderlying(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	s := fetch(t, r)
	res, err := ExpectedFlowsUnderlying(context.Background(), r, s, big.NewInt(10_000), []common.Address{cTokB})
	if err != nil {
		t.Fatalf("ExpectedFlowsUnderlying: %v", err)
	}
	if res.TokenArray[0] != tokA || res.TokenArray[1] != tokU {
		t.Fatalf("token array=%v", res.TokenArray)
	}
	// 20000 cB * 0.2 = 4000 U
	if !equalInts(ints(res.Flow.Inflow), []int64{0, 4_000}) || !equalInts(ints(res.Flow.Outflow), []int64{10_000, 0}) {
		t.Fatalf("inflow=%v outflow=%v", ints(res.Flow.Inflow), ints(res.Flow.Outflow))
	}

	// No cTokens listed: flows pass through.
	res, err = ExpectedFlowsUnderlying(context.Background(), r, s, big.NewInt(10_000), nil)
	if err != nil {
		t.Fatalf("ExpectedFlowsUnderlying: %v", err)
	}
	if res.TokenArray[1] != cTokB || res.Flow.Inflow[1].Int64() != 20_000 {
		t.Fatalf("unexpected passthrough: %v %v", res.TokenArray, ints(res.Flow.Inflow))
	}
}

func TestFetchWrappers_Error(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	_, err := FetchWrappers(context.Background(), r, []common.Address{tokA}, []common.Address{tokA})
	if err == nil || !strings.Contains(err.Error(), "ctoken") {
		t.Fatalf("got %v, want ctoken error", err)
	}
}

func TestExpectedUnitShares(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	p, err := ExpectedUnitShares(context.Background(), r, fetch(t, r))
	if err != nil {
		t.Fatalf("ExpectedUnitShares: %v", err)
	}
	// floor(1400/20)*10 = 700 issued over 700/100 = 7 natural units
	if p.IssueAmount.Int64() != 700 || p.NaturalUnitsOutstanding.Int64() != 7 || p.UnitShares.Int64() != 100 {
		t.Fatalf("projection=%+v", p)
	}

	r.supply = big.NewInt(0)
	if _, err := ExpectedUnitShares(context.Background(), r, fetch(t, r)); !errors.Is(err, unitshares.ErrZeroSupply) {
		t.Fatalf("got %v, want ErrZeroSupply", err)
	}
}

func TestBuildPlan(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	s := fetch(t, r)

	t.Run("max_quantity", func(t *testing.T) {
		t.Parallel()
		p, err := BuildPlan(context.Background(), r, s, nil, nil)
		if err != nil {
			t.Fatalf("BuildPlan: %v", err)
		}
		if p.BidQuantity.Int64() != 70_000 || p.MaxQuantity.Int64() != 70_000 {
			t.Fatalf("quantity=%s max=%s", p.BidQuantity, p.MaxQuantity)
		}
		if len(p.Transfers) != 2 || p.Transfers[1].Inflow.Int64() != 140_000 || p.Transfers[0].Outflow.Int64() != 70_000 {
			t.Fatalf("transfers=%+v", p.Transfers)
		}
		if p.Underlying != nil {
			t.Fatalf("underlying set without ctokens")
		}
	})

	t.Run("underlying", func(t *testing.T) {
		t.Parallel()
		p, err := BuildPlan(context.Background(), r, s, big.NewInt(10_000), []common.Address{cTokB})
		if err != nil {
			t.Fatalf("BuildPlan: %v", err)
		}
		if p.Underlying == nil || p.Underlying.Inflows[1].Address != tokU || p.Underlying.Inflows[1].Unit.Int64() != 4_000 {
			t.Fatalf("underlying=%+v", p.Underlying)
		}
	})

	t.Run("not_a_multiple", func(t *testing.T) {
		t.Parallel()
		if _, err := BuildPlan(context.Background(), r, s, big.NewInt(15_000), nil); !errors.Is(err, bid.ErrInvalidBid) {
			t.Fatalf("got %v, want ErrInvalidBid", err)
		}
	})
}

func TestLogEvent(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	p, err := BuildPlan(context.Background(), r, fetch(t, r), big.NewInt(10_000), nil)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	path := filepath.Join(t.TempDir(), "bids.jsonl")
	w := jsonl.New(path)
	LogEvent(w, p.Event("plan", false))
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	LogEvent(nil, p.Event("plan", false))

	events, err := jsonl.ReadAll[BidEvent](path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Event != "plan" || ev.Mode != "dry" || ev.Quantity != "10000" || ev.Price != "1000/1000" || ev.MinimumBid != "10000" {
		t.Fatalf("event=%+v", ev)
	}
	if len(ev.Transfers) != 2 || ev.Transfers[1].Inflow.Int64() != 20_000 {
		t.Fatalf("transfers=%+v", ev.Transfers)
	}
}

func TestNextBasketUnderlying(t *testing.T) {
	t.Parallel()

	r := newFakeReader()
	s := fetch(t, r)
	got, err := NextBasketUnderlying(context.Background(), r, s, []common.Address{cTokB})
	if err != nil {
		t.Fatalf("NextBasketUnderlying: %v", err)
	}
	// 20 cB * 0.2 = 4 U
	if len(got) != 1 || got[0].Address != tokU || got[0].Unit.Int64() != 4 {
		t.Fatalf("got %+v", got)
	}

	got, err = NextBasketUnderlying(context.Background(), r, s, nil)
	if err != nil {
		t.Fatalf("NextBasketUnderlying: %v", err)
	}
	if got[0].Address != cTokB || got[0].Unit.Int64() != 20 {
		t.Fatalf("got %+v, want passthrough", got)
	}
}

type walletBalances map[common.Address]*big.Int

func (w walletBalances) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	b, ok := w[token]
	if !ok {
		return nil, fmt.Errorf("no balance for %s", token.Hex())
	}
	return b, nil
}

func TestShortfalls(t *testing.T) {
	t.Parallel()

	bidder := common.HexToAddress("0x00000000000000000000000000000000000000d0")
	transfers := []bid.Transfer{
		{Address: tokA, Inflow: big.NewInt(0), Outflow: big.NewInt(10_000)},
		{Address: cTokB, Inflow: big.NewInt(20_000), Outflow: big.NewInt(0)},
	}

	got, err := Shortfalls(context.Background(), walletBalances{cTokB: big.NewInt(20_000)}, bidder, transfers)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v err=%v, want none", got, err)
	}

	got, err = Shortfalls(context.Background(), walletBalances{cTokB: big.NewInt(19_999)}, bidder, transfers)
	if err != nil {
		t.Fatalf("Shortfalls: %v", err)
	}
	if len(got) != 1 || got[0].Token != cTokB || got[0].Need.Int64() != 20_000 || got[0].Balance.Int64() != 19_999 {
		t.Fatalf("got %+v", got)
	}

	if _, err := Shortfalls(context.Background(), walletBalances{}, bidder, transfers); err == nil {
		t.Fatalf("expected read error")
	}
}
