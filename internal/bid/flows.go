package bid

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/basket"
	"set-gorebalance/internal/fixedpoint"
)

var (
	ErrInvalidBid                = errors.New("invalid bid")
	ErrInsufficientRemainingSets = errors.New("bid exceeds remaining current sets")
)

// TokenFlow holds, per combined-basket token, what the bidder sends in
// (Inflow) and receives back (Outflow). For any index at most one side is
// non-zero.
type TokenFlow struct {
	Inflow  []*big.Int `json:"inflow"`
	Outflow []*big.Int `json:"outflow"`
}

// Transfer is a single token's flow, addressed.
type Transfer struct {
	Address common.Address `json:"address"`
	Inflow  *big.Int       `json:"inflow"`
	Outflow *big.Int       `json:"outflow"`
}

// ComputeFlows replicates the auction's token flow calculation for a bid of
// bidQuantity at price priceNumerator/priceDenominator:
//
//	coefficient       = minimumBid / priceDenominator
//	effectiveQuantity = bidQuantity * priceDenominator / priceNumerator
//	rawFlow[i]        = next[i]*priceDenominator - current[i]*priceNumerator
//	flow[i]           = (effectiveQuantity * |rawFlow[i]| / coefficient) / priceDenominator
//
// Every division rounds down. The outflow is taken on the magnitude of the
// raw flow, which is the same as truncating the signed value toward zero, so
// a small negative raw flow collapses to a plain zero instead of -0 or -1.
func ComputeFlows(combined *basket.Combined, bidQuantity, priceNumerator, priceDenominator, minimumBid *big.Int) (*TokenFlow, error) {
	if err := combined.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBid, err)
	}
	if !fixedpoint.IsPositive(bidQuantity) {
		return nil, fmt.Errorf("%w: quantity must be > 0, got %v", ErrInvalidBid, bidQuantity)
	}
	if !fixedpoint.IsPositive(priceNumerator) {
		return nil, fmt.Errorf("%w: price numerator must be > 0, got %v", ErrInvalidBid, priceNumerator)
	}
	if !fixedpoint.IsPositive(priceDenominator) {
		return nil, fmt.Errorf("%w: price denominator must be > 0, got %v", ErrInvalidBid, priceDenominator)
	}
	if !fixedpoint.IsPositive(minimumBid) {
		return nil, fmt.Errorf("%w: minimum bid must be > 0, got %v", ErrInvalidBid, minimumBid)
	}

	coefficient := fixedpoint.RoundDownQuo(minimumBid, priceDenominator)
	if coefficient.Sign() == 0 {
		return nil, fmt.Errorf("%w: minimum bid %s below price denominator %s", ErrInvalidBid, minimumBid, priceDenominator)
	}
	effectiveQuantity := fixedpoint.ScaledDiv(bidQuantity, priceNumerator, priceDenominator)

	n := combined.Len()
	out := &TokenFlow{
		Inflow:  make([]*big.Int, n),
		Outflow: make([]*big.Int, n),
	}
	for i := 0; i < n; i++ {
		raw := rawFlow(combined.NextUnits[i], combined.CurrentUnits[i], priceNumerator, priceDenominator)

		switch raw.Sign() {
		case 1:
			out.Inflow[i] = flowAmount(effectiveQuantity, raw, coefficient, priceDenominator)
			out.Outflow[i] = new(big.Int)
		case -1:
			out.Inflow[i] = new(big.Int)
			out.Outflow[i] = flowAmount(effectiveQuantity, fixedpoint.Abs(raw), coefficient, priceDenominator)
		default:
			out.Inflow[i] = new(big.Int)
			out.Outflow[i] = new(big.Int)
		}
	}
	return out, nil
}

// ComputeFlowsWithRemaining is ComputeFlows guarded by the auction's
// remaining current sets.
func ComputeFlowsWithRemaining(combined *basket.Combined, bidQuantity, priceNumerator, priceDenominator, minimumBid, remainingCurrentSets *big.Int) (*TokenFlow, error) {
	if remainingCurrentSets == nil {
		return nil, fmt.Errorf("%w: remaining current sets unknown", ErrInvalidBid)
	}
	if bidQuantity != nil && bidQuantity.Cmp(remainingCurrentSets) > 0 {
		return nil, fmt.Errorf("%w: quantity=%s remaining=%s", ErrInsufficientRemainingSets, bidQuantity, remainingCurrentSets)
	}
	return ComputeFlows(combined, bidQuantity, priceNumerator, priceDenominator, minimumBid)
}

// ValidateQuantity checks bidQuantity is a positive multiple of minimumBid.
// ComputeFlows does not enforce this; the contract rejects such bids.
func ValidateQuantity(bidQuantity, minimumBid *big.Int) error {
	if !fixedpoint.IsPositive(bidQuantity) {
		return fmt.Errorf("%w: quantity must be > 0, got %v", ErrInvalidBid, bidQuantity)
	}
	if !fixedpoint.IsPositive(minimumBid) {
		return fmt.Errorf("%w: minimum bid must be > 0, got %v", ErrInvalidBid, minimumBid)
	}
	if new(big.Int).Rem(bidQuantity, minimumBid).Sign() != 0 {
		return fmt.Errorf("%w: quantity %s is not a multiple of minimum bid %s", ErrInvalidBid, bidQuantity, minimumBid)
	}
	return nil
}

// MaxQuantity rounds remaining down to the largest valid bid.
func MaxQuantity(remainingCurrentSets, minimumBid *big.Int) *big.Int {
	if !fixedpoint.IsPositive(remainingCurrentSets) || !fixedpoint.IsPositive(minimumBid) {
		return new(big.Int)
	}
	return fixedpoint.FloorToMultiple(remainingCurrentSets, minimumBid)
}

func rawFlow(next, current, priceNumerator, priceDenominator *big.Int) *big.Int {
	in := new(big.Int).Mul(next, priceDenominator)
	out := new(big.Int).Mul(current, priceNumerator)
	return in.Sub(in, out)
}

func flowAmount(effectiveQuantity, magnitude, coefficient, priceDenominator *big.Int) *big.Int {
	x := fixedpoint.ScaledMul(effectiveQuantity, magnitude, coefficient)
	return fixedpoint.RoundDownQuo(x, priceDenominator)
}

func (f *TokenFlow) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Inflow)
}

// Validate checks both slices have length n and the one-sided invariant.
func (f *TokenFlow) Validate(n int) error {
	if f == nil {
		return fmt.Errorf("%w: nil flow", ErrInvalidBid)
	}
	if len(f.Inflow) != n || len(f.Outflow) != n {
		return fmt.Errorf("%w: flow lengths inflow=%d outflow=%d want %d", ErrInvalidBid, len(f.Inflow), len(f.Outflow), n)
	}
	for i := 0; i < n; i++ {
		if f.Inflow[i] == nil || f.Outflow[i] == nil {
			return fmt.Errorf("%w: nil flow at index %d", ErrInvalidBid, i)
		}
		if f.Inflow[i].Sign() < 0 || f.Outflow[i].Sign() < 0 {
			return fmt.Errorf("%w: negative flow at index %d", ErrInvalidBid, i)
		}
		if f.Inflow[i].Sign() != 0 && f.Outflow[i].Sign() != 0 {
			return fmt.Errorf("%w: token %d flows both ways", ErrInvalidBid, i)
		}
	}
	return nil
}

// CheckUint256 reports the first amount that cannot be submitted on-chain.
func (f *TokenFlow) CheckUint256() error {
	for i := 0; i < f.Len(); i++ {
		if !fixedpoint.FitsUint256(f.Inflow[i]) || !fixedpoint.FitsUint256(f.Outflow[i]) {
			return fmt.Errorf("%w: flow at index %d does not fit uint256", ErrInvalidBid, i)
		}
	}
	return nil
}

// Pairs zips the flow with its token addresses.
func (f *TokenFlow) Pairs(tokenArray []common.Address) ([]Transfer, error) {
	if err := f.Validate(len(tokenArray)); err != nil {
		return nil, err
	}
	out := make([]Transfer, 0, len(tokenArray))
	for i, a := range tokenArray {
		out = append(out, Transfer{Address: a, Inflow: f.Inflow[i], Outflow: f.Outflow[i]})
	}
	return out, nil
}
