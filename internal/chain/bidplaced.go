package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"set-gorebalance/internal/bid"
)

// BidPlacedEvent is a decoded BidPlaced log from the auction module.
type BidPlacedEvent struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Removed     bool

	RebalancingSet    common.Address
	Bidder            common.Address
	ExecutionQuantity *big.Int
	Transfers         []bid.Transfer
}

// BidPlacedTopic is topic 0 of BidPlaced logs.
func BidPlacedTopic() common.Hash {
	return auctionModuleABI.Events["BidPlaced"].ID
}

func DecodeBidPlacedLog(vLog types.Log) (*BidPlacedEvent, error) {
	// topics:
	// 0: event sig
	// 1: rebalancingSetToken (address indexed)
	// 2: bidder (address indexed)
	if len(vLog.Topics) < 3 {
		return nil, fmt.Errorf("unexpected topics len=%d", len(vLog.Topics))
	}
	if vLog.Topics[0] != BidPlacedTopic() {
		return nil, fmt.Errorf("not a BidPlaced log: topic0=%s", vLog.Topics[0].Hex())
	}

	var body struct {
		ExecutionQuantity      *big.Int
		CombinedTokenAddresses []common.Address
		InflowTokenUnits       []*big.Int
		OutflowTokenUnits      []*big.Int
	}
	if err := auctionModuleABI.UnpackIntoInterface(&body, "BidPlaced", vLog.Data); err != nil {
		return nil, fmt.Errorf("decode BidPlaced: %w", err)
	}
	n := len(body.CombinedTokenAddresses)
	if len(body.InflowTokenUnits) != n || len(body.OutflowTokenUnits) != n {
		return nil, fmt.Errorf("BidPlaced length mismatch: tokens=%d inflow=%d outflow=%d", n, len(body.InflowTokenUnits), len(body.OutflowTokenUnits))
	}

	transfers := make([]bid.Transfer, n)
	for i := range transfers {
		transfers[i] = bid.Transfer{
			Address: body.CombinedTokenAddresses[i],
			Inflow:  body.InflowTokenUnits[i],
			Outflow: body.OutflowTokenUnits[i],
		}
	}
	return &BidPlacedEvent{
		TxHash:      vLog.TxHash,
		BlockNumber: vLog.BlockNumber,
		LogIndex:    vLog.Index,
		Removed:     vLog.Removed,

		RebalancingSet:    common.BytesToAddress(vLog.Topics[1].Bytes()),
		Bidder:            common.BytesToAddress(vLog.Topics[2].Bytes()),
		ExecutionQuantity: body.ExecutionQuantity,
		Transfers:         transfers,
	}, nil
}

// BidsInReceipt returns the BidPlaced events emitted by auctionModule in r.
// Logs from other contracts or with other topics are skipped.
func BidsInReceipt(r *types.Receipt, auctionModule common.Address) ([]*BidPlacedEvent, error) {
	if r == nil {
		return nil, nil
	}
	topic := BidPlacedTopic()
	var out []*BidPlacedEvent
	for _, l := range r.Logs {
		if l == nil || l.Address != auctionModule || len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		ev, err := DecodeBidPlacedLog(*l)
		if err != nil {
			return nil, fmt.Errorf("log %d: %w", l.Index, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
