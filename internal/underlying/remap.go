package underlying

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/bid"
	"set-gorebalance/internal/fixedpoint"
)

var (
	ErrLengthMismatch      = errors.New("length mismatch")
	ErrMissingExchangeRate = errors.New("missing exchange rate")
)

// Wrappers maps interest-bearing wrapper tokens (cTokens) to their
// underlying asset, with the wrapper's 1e18-scaled exchange rate.
type Wrappers struct {
	Underlying    map[common.Address]common.Address
	ExchangeRates map[common.Address]*big.Int
}

// Result is a flow re-addressed to underlying assets. TokenArray is
// index-aligned with the flow.
type Result struct {
	TokenArray []common.Address `json:"token_array"`
	Flow       *bid.TokenFlow   `json:"flow"`
}

// Transfer is one addressed amount.
type Transfer struct {
	Address common.Address `json:"address"`
	Unit    *big.Int       `json:"unit"`
}

// Detailed keeps the inflow and outflow buckets apart as address/amount
// pairs, one per token of the combined basket.
type Detailed struct {
	Inflows  []Transfer `json:"inflows"`
	Outflows []Transfer `json:"outflows"`
}

// Convert turns a wrapper amount into underlying units:
// amount * exchangeRate / 1e18, rounded down.
func Convert(amount, exchangeRate *big.Int) *big.Int {
	return fixedpoint.ScaledMul(amount, exchangeRate, fixedpoint.Wei)
}

func (w Wrappers) lookup(token common.Address) (common.Address, *big.Int, bool, error) {
	u, ok := w.Underlying[token]
	if !ok {
		return common.Address{}, nil, false, nil
	}
	rate := w.ExchangeRates[token]
	if !fixedpoint.IsPositive(rate) {
		return common.Address{}, nil, false, fmt.Errorf("%w: wrapper %s", ErrMissingExchangeRate, token.Hex())
	}
	return u, rate, true, nil
}

// Remap replaces every wrapper token in tokenArray with its underlying and
// converts its inflow and outflow by the exchange rate. A token never moves
// between buckets. Non-wrapper tokens pass through unchanged.
func Remap(flows *bid.TokenFlow, tokenArray []common.Address, w Wrappers) (*Result, error) {
	if err := checkLengths(flows, tokenArray); err != nil {
		return nil, err
	}

	out := &Result{
		TokenArray: make([]common.Address, len(tokenArray)),
		Flow: &bid.TokenFlow{
			Inflow:  make([]*big.Int, len(tokenArray)),
			Outflow: make([]*big.Int, len(tokenArray)),
		},
	}
	for i, token := range tokenArray {
		u, rate, wrapped, err := w.lookup(token)
		if err != nil {
			return nil, err
		}
		if !wrapped {
			out.TokenArray[i] = token
			out.Flow.Inflow[i] = new(big.Int).Set(flows.Inflow[i])
			out.Flow.Outflow[i] = new(big.Int).Set(flows.Outflow[i])
			continue
		}
		out.TokenArray[i] = u
		out.Flow.Inflow[i] = Convert(flows.Inflow[i], rate)
		out.Flow.Outflow[i] = Convert(flows.Outflow[i], rate)
	}
	return out, nil
}

// RemapDetailed is Remap returned as per-bucket address/amount pairs.
func RemapDetailed(flows *bid.TokenFlow, tokenArray []common.Address, w Wrappers) (*Detailed, error) {
	res, err := Remap(flows, tokenArray, w)
	if err != nil {
		return nil, err
	}
	out := &Detailed{
		Inflows:  make([]Transfer, 0, len(res.TokenArray)),
		Outflows: make([]Transfer, 0, len(res.TokenArray)),
	}
	for i, a := range res.TokenArray {
		out.Inflows = append(out.Inflows, Transfer{Address: a, Unit: res.Flow.Inflow[i]})
		out.Outflows = append(out.Outflows, Transfer{Address: a, Unit: res.Flow.Outflow[i]})
	}
	return out, nil
}

// RemapUnits converts a unit vector (e.g. a set's component units) to
// underlying terms.
func RemapUnits(tokenArray []common.Address, units []*big.Int, w Wrappers) ([]Transfer, error) {
	if len(tokenArray) != len(units) {
		return nil, fmt.Errorf("%w: tokens=%d units=%d", ErrLengthMismatch, len(tokenArray), len(units))
	}
	out := make([]Transfer, 0, len(tokenArray))
	for i, token := range tokenArray {
		if units[i] == nil {
			return nil, fmt.Errorf("%w: nil unit at index %d", ErrLengthMismatch, i)
		}
		u, rate, wrapped, err := w.lookup(token)
		if err != nil {
			return nil, err
		}
		if !wrapped {
			out = append(out, Transfer{Address: token, Unit: new(big.Int).Set(units[i])})
			continue
		}
		out = append(out, Transfer{Address: u, Unit: Convert(units[i], rate)})
	}
	return out, nil
}

func checkLengths(flows *bid.TokenFlow, tokenArray []common.Address) error {
	if flows == nil {
		return fmt.Errorf("%w: nil flow", ErrLengthMismatch)
	}
	if len(flows.Inflow) != len(tokenArray) || len(flows.Outflow) != len(tokenArray) {
		return fmt.Errorf("%w: tokens=%d inflow=%d outflow=%d", ErrLengthMismatch, len(tokenArray), len(flows.Inflow), len(flows.Outflow))
	}
	for i := range tokenArray {
		if flows.Inflow[i] == nil || flows.Outflow[i] == nil {
			return fmt.Errorf("%w: nil flow at index %d", ErrLengthMismatch, i)
		}
	}
	return nil
}
