package auction

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"set-gorebalance/internal/fixedpoint"
)

var (
	ErrAuctionNotStarted = errors.New("auction not started")
	ErrInvalidParameters = errors.New("invalid auction parameters")
)

// Parameters are fixed when a proposal enters the Rebalance state and stay
// constant for the lifetime of the auction.
type Parameters struct {
	StartTime        uint64   `json:"start_time"`    // unix seconds
	TimeToPivot      uint64   `json:"time_to_pivot"` // seconds
	StartPrice       *big.Int `json:"start_price"`
	PivotPrice       *big.Int `json:"pivot_price"`
	PriceDenominator *big.Int `json:"price_denominator"`
}

func (p Parameters) Validate() error {
	if p.TimeToPivot == 0 {
		return fmt.Errorf("%w: time to pivot must be > 0", ErrInvalidParameters)
	}
	if !fixedpoint.IsPositive(p.PriceDenominator) {
		return fmt.Errorf("%w: price denominator must be > 0, got %v", ErrInvalidParameters, p.PriceDenominator)
	}
	if p.StartPrice == nil || p.StartPrice.Sign() < 0 {
		return fmt.Errorf("%w: start price must be >= 0, got %v", ErrInvalidParameters, p.StartPrice)
	}
	if p.PivotPrice == nil || p.PivotPrice.Sign() < 0 {
		return fmt.Errorf("%w: pivot price must be >= 0, got %v", ErrInvalidParameters, p.PivotPrice)
	}
	return nil
}

// Price is the bid price as numerator/denominator.
type Price struct {
	Numerator   *big.Int `json:"numerator"`
	Denominator *big.Int `json:"denominator"`
}

func (p Price) String() string {
	return fmt.Sprintf("%v/%v", p.Numerator, p.Denominator)
}

// PriceAt interpolates linearly from StartPrice toward PivotPrice over
// TimeToPivot. Past the pivot the same slope keeps applying; the auction
// only stops moving when it is settled or ended on-chain.
//
// The slope term (pivot-start)*elapsed/timeToPivot is truncated toward zero.
func PriceAt(p Parameters, elapsedSeconds uint64) (Price, error) {
	if err := p.Validate(); err != nil {
		return Price{}, err
	}

	delta := new(big.Int).Sub(p.PivotPrice, p.StartPrice)
	delta.Mul(delta, new(big.Int).SetUint64(elapsedSeconds))
	delta = fixedpoint.DivRound(delta, new(big.Int).SetUint64(p.TimeToPivot), fixedpoint.RoundDown)

	num := new(big.Int).Add(p.StartPrice, delta)
	return Price{
		Numerator:   fixedpoint.NormalizeZero(num),
		Denominator: new(big.Int).Set(p.PriceDenominator),
	}, nil
}

// PriceAtTime is PriceAt with the elapsed time derived from now.
func PriceAtTime(p Parameters, now time.Time) (Price, error) {
	ts := now.Unix()
	if ts < 0 || uint64(ts) < p.StartTime {
		return Price{}, fmt.Errorf("%w: now=%d start=%d", ErrAuctionNotStarted, ts, p.StartTime)
	}
	return PriceAt(p, uint64(ts)-p.StartTime)
}

// Elapsed returns the seconds since StartTime at the given unix timestamp.
func Elapsed(p Parameters, unixSeconds uint64) (uint64, error) {
	if unixSeconds < p.StartTime {
		return 0, fmt.Errorf("%w: now=%d start=%d", ErrAuctionNotStarted, unixSeconds, p.StartTime)
	}
	return unixSeconds - p.StartTime, nil
}

// MinimumBid is the bid increment: maxNaturalUnit * priceDenominator.
// It does not depend on time.
func MinimumBid(p Parameters, maxNaturalUnit *big.Int) (*big.Int, error) {
	if !fixedpoint.IsPositive(maxNaturalUnit) {
		return nil, fmt.Errorf("%w: natural unit must be > 0, got %v", ErrInvalidParameters, maxNaturalUnit)
	}
	if !fixedpoint.IsPositive(p.PriceDenominator) {
		return nil, fmt.Errorf("%w: price denominator must be > 0, got %v", ErrInvalidParameters, p.PriceDenominator)
	}
	return new(big.Int).Mul(maxNaturalUnit, p.PriceDenominator), nil
}

// State mirrors the rebalancing token's on-chain state machine.
type State uint8

const (
	StateDefault State = iota
	StateProposal
	StateRebalance
	StateDrawdown
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateProposal:
		return "Proposal"
	case StateRebalance:
		return "Rebalance"
	case StateDrawdown:
		return "Drawdown"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ParseState converts the raw uint8 returned by the contract.
func ParseState(v uint8) (State, error) {
	if v > uint8(StateDrawdown) {
		return 0, fmt.Errorf("unknown rebalance state %d", v)
	}
	return State(v), nil
}
