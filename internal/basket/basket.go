package basket

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/fixedpoint"
)

var ErrInvalidBasket = errors.New("invalid basket")

// Component is one token of a set and the amount of it held per natural
// unit of the set.
type Component struct {
	Address common.Address `json:"address"`
	Unit    *big.Int       `json:"unit"`
}

// TokenBasket is a set's composition as read from chain. Units are
// expressed against the basket's own NaturalUnit.
type TokenBasket struct {
	Components  []Component `json:"components"`
	NaturalUnit *big.Int    `json:"natural_unit"`
}

// Combined is the union of a current and next basket with both unit
// vectors scaled to the larger natural unit. All three slices have equal
// length; a token missing from one basket has unit 0 there.
type Combined struct {
	TokenArray   []common.Address `json:"token_array"`
	CurrentUnits []*big.Int       `json:"current_units"`
	NextUnits    []*big.Int       `json:"next_units"`

	// NaturalUnit is max(current, next) natural unit.
	NaturalUnit *big.Int `json:"natural_unit,omitempty"`
}

// New builds a basket from parallel component/unit slices, the shape the
// set contracts return them in.
func New(components []common.Address, units []*big.Int, naturalUnit *big.Int) (TokenBasket, error) {
	if len(components) != len(units) {
		return TokenBasket{}, fmt.Errorf("%w: %d components, %d units", ErrInvalidBasket, len(components), len(units))
	}
	b := TokenBasket{
		Components:  make([]Component, 0, len(components)),
		NaturalUnit: naturalUnit,
	}
	for i := range components {
		b.Components = append(b.Components, Component{Address: components[i], Unit: units[i]})
	}
	return b, b.Validate()
}

func (b TokenBasket) Validate() error {
	if len(b.Components) == 0 {
		return fmt.Errorf("%w: no components", ErrInvalidBasket)
	}
	if !fixedpoint.IsPositive(b.NaturalUnit) {
		return fmt.Errorf("%w: natural unit must be > 0, got %v", ErrInvalidBasket, b.NaturalUnit)
	}
	seen := make(map[common.Address]struct{}, len(b.Components))
	for _, c := range b.Components {
		if (c.Address == common.Address{}) {
			return fmt.Errorf("%w: zero component address", ErrInvalidBasket)
		}
		if _, ok := seen[c.Address]; ok {
			return fmt.Errorf("%w: duplicate component %s", ErrInvalidBasket, c.Address.Hex())
		}
		seen[c.Address] = struct{}{}
		if c.Unit == nil || c.Unit.Sign() < 0 {
			return fmt.Errorf("%w: component %s unit must be >= 0, got %v", ErrInvalidBasket, c.Address.Hex(), c.Unit)
		}
	}
	return nil
}

// Addresses returns the component addresses in basket order.
func (b TokenBasket) Addresses() []common.Address {
	out := make([]common.Address, 0, len(b.Components))
	for _, c := range b.Components {
		out = append(out, c.Address)
	}
	return out
}

// UnitOf returns the unit for addr and whether the basket holds it.
func (b TokenBasket) UnitOf(addr common.Address) (*big.Int, bool) {
	for _, c := range b.Components {
		if c.Address == addr {
			return c.Unit, true
		}
	}
	return nil, false
}

func (b TokenBasket) unitIndex() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(b.Components))
	for _, c := range b.Components {
		out[c.Address] = c.Unit
	}
	return out
}

// Combine merges current and next into a single token array: current
// order first, then tokens only present in next. Units are rescaled as
// unit*maxNaturalUnit/naturalUnit, rounded down.
func Combine(current, next TokenBasket) (*Combined, error) {
	if err := current.Validate(); err != nil {
		return nil, fmt.Errorf("current: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("next: %w", err)
	}

	maxNaturalUnit := new(big.Int).Set(fixedpoint.Max(current.NaturalUnit, next.NaturalUnit))

	tokens := make([]common.Address, 0, len(current.Components)+len(next.Components))
	seen := make(map[common.Address]struct{}, cap(tokens))
	for _, addrs := range [][]common.Address{current.Addresses(), next.Addresses()} {
		for _, a := range addrs {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			tokens = append(tokens, a)
		}
	}

	return &Combined{
		TokenArray:   tokens,
		CurrentUnits: scaledUnits(tokens, current, maxNaturalUnit),
		NextUnits:    scaledUnits(tokens, next, maxNaturalUnit),
		NaturalUnit:  maxNaturalUnit,
	}, nil
}

func scaledUnits(tokens []common.Address, b TokenBasket, maxNaturalUnit *big.Int) []*big.Int {
	units := b.unitIndex()
	out := make([]*big.Int, 0, len(tokens))
	for _, a := range tokens {
		u, ok := units[a]
		if !ok {
			out = append(out, new(big.Int))
			continue
		}
		out = append(out, fixedpoint.ScaledMul(u, maxNaturalUnit, b.NaturalUnit))
	}
	return out
}

func (c *Combined) Len() int {
	if c == nil {
		return 0
	}
	return len(c.TokenArray)
}

// IndexOf returns the position of addr in TokenArray, or -1.
func (c *Combined) IndexOf(addr common.Address) int {
	if c == nil {
		return -1
	}
	for i, a := range c.TokenArray {
		if a == addr {
			return i
		}
	}
	return -1
}

// Validate checks the parallel-slice invariant; useful for combined arrays
// read back from a contract rather than built with Combine.
func (c *Combined) Validate() error {
	if c == nil || len(c.TokenArray) == 0 {
		return fmt.Errorf("%w: empty combined basket", ErrInvalidBasket)
	}
	if len(c.CurrentUnits) != len(c.TokenArray) || len(c.NextUnits) != len(c.TokenArray) {
		return fmt.Errorf("%w: combined lengths tokens=%d current=%d next=%d", ErrInvalidBasket, len(c.TokenArray), len(c.CurrentUnits), len(c.NextUnits))
	}
	for i := range c.TokenArray {
		if c.CurrentUnits[i] == nil || c.NextUnits[i] == nil {
			return fmt.Errorf("%w: nil unit at index %d", ErrInvalidBasket, i)
		}
	}
	return nil
}
