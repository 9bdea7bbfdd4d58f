package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Rounding selects how a quotient is reduced to an integer.
type Rounding int

const (
	// RoundDown truncates toward zero, matching EVM integer division on the
	// magnitude of a value.
	RoundDown Rounding = iota
	// RoundFloor rounds toward negative infinity.
	RoundFloor
	// RoundNearest rounds to the nearest integer, halves away from zero.
	RoundNearest
)

func (r Rounding) String() string {
	switch r {
	case RoundDown:
		return "down"
	case RoundFloor:
		return "floor"
	case RoundNearest:
		return "nearest"
	default:
		return fmt.Sprintf("rounding(%d)", int(r))
	}
}

// WeiDecimals is the scale of on-chain 1e18 fixed-point values such as
// cToken exchange rates.
const WeiDecimals = 18

var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)

	// Wei is 10^18.
	Wei = new(big.Int).Exp(big.NewInt(10), big.NewInt(WeiDecimals), nil)
)

// DivRound returns a/b reduced with the given rounding. It panics if b is
// zero; callers guard divisors that come from chain state.
func DivRound(a, b *big.Int, mode Rounding) *big.Int {
	if b == nil || b.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() == 0 {
		return NormalizeZero(q)
	}

	// Sign of the exact quotient.
	neg := (a.Sign() < 0) != (b.Sign() < 0)

	switch mode {
	case RoundDown:
	case RoundFloor:
		if neg {
			q.Sub(q, one)
		}
	case RoundNearest:
		twice := new(big.Int).Abs(r)
		twice.Lsh(twice, 1)
		if twice.Cmp(new(big.Int).Abs(b)) >= 0 {
			if neg {
				q.Sub(q, one)
			} else {
				q.Add(q, one)
			}
		}
	default:
		panic(fmt.Sprintf("fixedpoint: unknown rounding %d", int(mode)))
	}
	return NormalizeZero(q)
}

// RoundDownQuo is DivRound(a, b, RoundDown).
func RoundDownQuo(a, b *big.Int) *big.Int {
	return DivRound(a, b, RoundDown)
}

// RoundNearestQuo is DivRound(a, b, RoundNearest).
func RoundNearestQuo(a, b *big.Int) *big.Int {
	return DivRound(a, b, RoundNearest)
}

// ScaledMul returns a*b/denominator, multiplying before dividing so the
// remainder is taken once, rounded down.
func ScaledMul(a, b, denominator *big.Int) *big.Int {
	x := new(big.Int).Mul(a, b)
	return DivRound(x, denominator, RoundDown)
}

// ScaledDiv returns a*denominator/b, rounded down.
func ScaledDiv(a, b, denominator *big.Int) *big.Int {
	x := new(big.Int).Mul(a, denominator)
	return DivRound(x, b, RoundDown)
}

// FloorToMultiple rounds a non-negative x down to a multiple of step.
func FloorToMultiple(x, step *big.Int) *big.Int {
	q := DivRound(x, step, RoundDown)
	return q.Mul(q, step)
}

// NormalizeZero guarantees a zero result carries no sign and returns x.
// big.Int has no signed zero, so this only matters for values assembled
// from negated intermediates; keeping it explicit documents the invariant
// at every site that returns a magnitude.
func NormalizeZero(x *big.Int) *big.Int {
	if x.Sign() == 0 {
		return x.SetInt64(0)
	}
	return x
}

// Abs returns |x| as a fresh value.
func Abs(x *big.Int) *big.Int {
	return NormalizeZero(new(big.Int).Abs(x))
}

// Max returns the larger of a and b (a when equal).
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Min returns the smaller of a and b (a when equal).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// IsPositive reports whether x is non-nil and > 0.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// FitsUint256 reports whether x can be encoded as an EVM uint256 word.
func FitsUint256(x *big.Int) bool {
	if x == nil || x.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(x)
	return !overflow
}

// FormatUnits renders x with the given number of decimals, trimming
// trailing zeros ("1500000", 6 -> "1.5").
func FormatUnits(x *big.Int, decimals int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -int32(decimals)).String()
}

// ParseUnits converts a decimal string to base units. Extra precision is
// truncated, matching how amounts are floored before submission.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative not supported: %q", s)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// MustBig parses a base-10 integer literal; for constants and tests.
func MustBig(s string) *big.Int {
	x, ok := new(big.Int).SetString(strings.ReplaceAll(s, "_", ""), 10)
	if !ok {
		panic(fmt.Sprintf("fixedpoint: invalid integer %q", s))
	}
	return x
}

// IsZero reports whether x is nil or zero.
func IsZero(x *big.Int) bool {
	return x == nil || x.Cmp(zero) == 0
}
