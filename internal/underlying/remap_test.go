package underlying

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/bid"
	"set-gorebalance/internal/fixedpoint"
)

var (
	cUSDC = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func wrappers() Wrappers {
	return Wrappers{
		Underlying:    map[common.Address]common.Address{cUSDC: usdc},
		ExchangeRates: map[common.Address]*big.Int{cUSDC: fixedpoint.MustBig("200_000_000_000_000")}, // 0.0002e18
	}
}

func TestRemap_ReplacesWrapperAndKeepsBuckets(t *testing.T) {
	t.Parallel()

	flows := &bid.TokenFlow{
		Inflow:  []*big.Int{big.NewInt(0), big.NewInt(77)},
		Outflow: []*big.Int{big.NewInt(123_456_789), big.NewInt(0)},
	}
	res, err := Remap(flows, []common.Address{cUSDC, weth}, wrappers())
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if res.TokenArray[0] != usdc || res.TokenArray[1] != weth {
		t.Fatalf("tokens=%v", res.TokenArray)
	}
	// 123_456_789 * 2e14 / 1e18 = 24691.3578 -> 24691
	if got := res.Flow.Outflow[0].Int64(); got != 24_691 {
		t.Fatalf("outflow[0]=%d want 24691", got)
	}
	if res.Flow.Inflow[0].Sign() != 0 {
		t.Fatalf("wrapper moved buckets: inflow[0]=%s", res.Flow.Inflow[0])
	}
	if res.Flow.Inflow[1].Int64() != 77 || res.Flow.Outflow[1].Sign() != 0 {
		t.Fatalf("passthrough changed: in=%s out=%s", res.Flow.Inflow[1], res.Flow.Outflow[1])
	}
	// Input is not mutated.
	if flows.Outflow[0].Int64() != 123_456_789 {
		t.Fatalf("input mutated: %s", flows.Outflow[0])
	}
}

func TestRemapDetailed(t *testing.T) {
	t.Parallel()

	flows := &bid.TokenFlow{
		Inflow:  []*big.Int{big.NewInt(10_000_000_000), big.NewInt(0)},
		Outflow: []*big.Int{big.NewInt(0), big.NewInt(5)},
	}
	d, err := RemapDetailed(flows, []common.Address{cUSDC, weth}, wrappers())
	if err != nil {
		t.Fatalf("RemapDetailed: %v", err)
	}
	if len(d.Inflows) != 2 || len(d.Outflows) != 2 {
		t.Fatalf("unexpected sizes: %+v", d)
	}
	if d.Inflows[0].Address != usdc || d.Inflows[0].Unit.Int64() != 2_000_000 {
		t.Fatalf("inflow[0]=%+v", d.Inflows[0])
	}
	if d.Outflows[1].Address != weth || d.Outflows[1].Unit.Int64() != 5 {
		t.Fatalf("outflow[1]=%+v", d.Outflows[1])
	}
}

func TestRemap_Errors(t *testing.T) {
	t.Parallel()

	flows := &bid.TokenFlow{Inflow: []*big.Int{big.NewInt(1)}, Outflow: []*big.Int{big.NewInt(0)}}

	if _, err := Remap(flows, []common.Address{cUSDC, weth}, wrappers()); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}
	if _, err := Remap(nil, nil, wrappers()); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}

	noRate := Wrappers{Underlying: map[common.Address]common.Address{cUSDC: usdc}}
	if _, err := Remap(flows, []common.Address{cUSDC}, noRate); !errors.Is(err, ErrMissingExchangeRate) {
		t.Fatalf("got %v, want ErrMissingExchangeRate", err)
	}
}

func TestRemapUnits(t *testing.T) {
	t.Parallel()

	got, err := RemapUnits([]common.Address{weth, cUSDC}, []*big.Int{big.NewInt(3), big.NewInt(50_000)}, wrappers())
	if err != nil {
		t.Fatalf("RemapUnits: %v", err)
	}
	if got[0].Address != weth || got[0].Unit.Int64() != 3 {
		t.Fatalf("got[0]=%+v", got[0])
	}
	if got[1].Address != usdc || got[1].Unit.Int64() != 10 {
		t.Fatalf("got[1]=%+v", got[1])
	}
	if _, err := RemapUnits([]common.Address{weth}, nil, wrappers()); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("got %v, want ErrLengthMismatch", err)
	}
}
