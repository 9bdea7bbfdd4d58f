package rebalance

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/bid"
	"set-gorebalance/internal/chain"
	"set-gorebalance/internal/jsonl"
	"set-gorebalance/internal/underlying"
)

// Plan is everything a bidder needs to decide on and submit one bid.
type Plan struct {
	RebalancingSet common.Address `json:"rebalancing_set"`
	BlockTime      uint64         `json:"block_time"`

	SetUp       *AuctionSetUp `json:"set_up"`
	BidQuantity *big.Int      `json:"bid_quantity"`
	MaxQuantity *big.Int      `json:"max_quantity"`

	Transfers  []bid.Transfer       `json:"transfers"`
	Underlying *underlying.Detailed `json:"underlying,omitempty"`
}

// BuildPlan computes the flows of a bid against s. A nil bidQuantity bids
// the largest valid quantity. Flows are remapped to underlying assets when
// cTokens is non-empty.
func BuildPlan(ctx context.Context, r chain.Reader, s *Snapshot, bidQuantity *big.Int, cTokens []common.Address) (*Plan, error) {
	setUp, err := SetUp(s)
	if err != nil {
		return nil, err
	}
	maxQty := bid.MaxQuantity(s.RemainingCurrentSets, setUp.MinimumBid)
	if bidQuantity == nil {
		bidQuantity = maxQty
	}
	if err := bid.ValidateQuantity(bidQuantity, setUp.MinimumBid); err != nil {
		return nil, err
	}

	flows, _, err := ExpectedFlows(s, bidQuantity)
	if err != nil {
		return nil, err
	}
	if err := flows.CheckUint256(); err != nil {
		return nil, err
	}
	transfers, err := flows.Pairs(setUp.Combined.TokenArray)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		RebalancingSet: s.RebalancingSet,
		BlockTime:      s.BlockTime,
		SetUp:          setUp,
		BidQuantity:    new(big.Int).Set(bidQuantity),
		MaxQuantity:    maxQty,
		Transfers:      transfers,
	}
	if len(cTokens) > 0 {
		w, err := FetchWrappers(ctx, r, setUp.Combined.TokenArray, cTokens)
		if err != nil {
			return nil, err
		}
		p.Underlying, err = underlying.RemapDetailed(flows, setUp.Combined.TokenArray, w)
		if err != nil {
			return nil, fmt.Errorf("underlying: %w", err)
		}
	}
	return p, nil
}

// BidEvent is one JSONL record of the bid log.
type BidEvent struct {
	TsMs  int64  `json:"ts_ms"`
	Event string `json:"event"` // plan | submit | mined | error

	Mode string `json:"mode,omitempty"` // dry | live

	RebalancingSet string `json:"rebalancing_set,omitempty"`
	BlockTime      uint64 `json:"block_time,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	Price          string `json:"price,omitempty"`
	MinimumBid     string `json:"minimum_bid,omitempty"`

	Transfers  []bid.Transfer       `json:"transfers,omitempty"`
	Underlying *underlying.Detailed `json:"underlying,omitempty"`

	TxHash   string         `json:"tx_hash,omitempty"`
	GasUsed  uint64         `json:"gas_used,omitempty"`
	Executed []bid.Transfer `json:"executed,omitempty"`
	Err      string         `json:"err,omitempty"`
}

// Event renders the plan as a bid log record.
func (p *Plan) Event(event string, live bool) BidEvent {
	ev := BidEvent{
		TsMs:           time.Now().UnixMilli(),
		Event:          event,
		Mode:           Mode(live),
		RebalancingSet: p.RebalancingSet.Hex(),
		BlockTime:      p.BlockTime,
		Transfers:      p.Transfers,
		Underlying:     p.Underlying,
	}
	if p.BidQuantity != nil {
		ev.Quantity = p.BidQuantity.String()
	}
	if p.SetUp != nil {
		ev.Price = p.SetUp.Price.String()
		ev.MinimumBid = p.SetUp.MinimumBid.String()
	}
	return ev
}

func Mode(live bool) string {
	if live {
		return "live"
	}
	return "dry"
}

// LogEvent appends ev to w. A nil writer disables the log.
func LogEvent(w *jsonl.Writer, ev BidEvent) {
	if w == nil {
		return
	}
	if err := w.Write(ev); err != nil {
		log.Printf("[warn] bid log write failed: %v", err)
	}
}
