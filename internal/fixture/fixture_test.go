package fixture

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"set-gorebalance/internal/auction"
	"set-gorebalance/internal/basket"
	"set-gorebalance/internal/rebalance"
)

func TestScenarios(t *testing.T) {
	t.Parallel()

	scenarios, err := LoadDir("testdata")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			t.Parallel()
			mismatches, err := sc.Run()
			require.NoError(t, err)
			for _, m := range mismatches {
				t.Error(m.String())
			}
		})
	}
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const wrongFlows = `
scenarios:
  - current:
      natural_unit: 10
      components:
        - {address: "0x000000000000000000000000000000000000000a", unit: 10}
    next:
      natural_unit: 10
      components:
        - {address: "0x000000000000000000000000000000000000000b", unit: 20}
    auction:
      time_to_pivot: 100
      start_price: 1000
      pivot_price: 1000
      price_denominator: 1000
    expect:
      minimum_bid: 1
    bids:
      - quantity: 10
        inflow: [0, 21]
        outflow: [10, 0]
      - quantity: 10
        error: zero_supply
`

func TestRun_ReportsMismatches(t *testing.T) {
	t.Parallel()

	scenarios, err := Load(writeScenario(t, wrongFlows))
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "s.yaml#0", scenarios[0].Name)

	mismatches, err := scenarios[0].Run()
	require.NoError(t, err)
	require.Len(t, mismatches, 3)
	assert.Equal(t, "minimum bid", mismatches[0].Check)
	assert.Equal(t, "10000", mismatches[0].Got)
	assert.Equal(t, "bid[0] inflow", mismatches[1].Check)
	assert.Equal(t, "[0 20]", mismatches[1].Got)
	assert.Equal(t, "[0 21]", mismatches[1].Want)
	assert.Equal(t, "bid[1]", mismatches[2].Check)
	assert.Equal(t, "no error", mismatches[2].Got)
}

func TestRun_UnknownErrorName(t *testing.T) {
	t.Parallel()

	scenarios, err := Load(writeScenario(t, `
scenarios:
  - name: bad
    expect:
      error: not_a_real_error
`))
	require.NoError(t, err)
	_, err = scenarios[0].Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_a_real_error")
}

func TestLoad_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown key":  "scenarios:\n  - name: x\n    bogus: 1\n",
		"bad amount":   "scenarios:\n  - name: x\n    elapsed: 0\n    bids:\n      - quantity: 1.5\n",
		"bad rate":     "scenarios:\n  - name: x\n    wrappers:\n      - rate: abc\n",
		"no scenarios": "scenarios: []\n",
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeScenario(t, body))
			assert.Error(t, err)
		})
	}
}

func TestRun_MissingSnapshot(t *testing.T) {
	t.Parallel()

	scenarios, err := Load(writeScenario(t, "scenarios:\n  - name: x\n    snapshot: missing.json\n"))
	require.NoError(t, err)
	_, err = scenarios[0].Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSnapshot_SaveLoad(t *testing.T) {
	t.Parallel()

	tokA := common.HexToAddress("0x000000000000000000000000000000000000000a")
	s := &rebalance.Snapshot{
		RebalancingSet: common.HexToAddress("0x00000000000000000000000000000000000000f0"),
		State:          auction.StateRebalance,
		Current: basket.TokenBasket{
			Components:  []basket.Component{{Address: tokA, Unit: new(big.Int).Lsh(big.NewInt(1), 200)}},
			NaturalUnit: big.NewInt(10),
		},
		Auction: auction.Parameters{
			StartTime:        1_700_000_000,
			TimeToPivot:      86_400,
			StartPrice:       big.NewInt(0),
			PivotPrice:       big.NewInt(2_000),
			PriceDenominator: big.NewInt(1_000),
		},
		Supply:      big.NewInt(5),
		NaturalUnit: big.NewInt(1),
		BlockTime:   1_700_000_123,
	}

	path := filepath.Join(t.TempDir(), "nested", "snap.json")
	require.NoError(t, SaveSnapshot(path, s))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, found, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s.RebalancingSet, got.RebalancingSet)
	assert.Equal(t, auction.StateRebalance, got.State)
	assert.Equal(t, 0, got.Current.Components[0].Unit.Cmp(s.Current.Components[0].Unit))
	assert.Equal(t, s.Auction.StartTime, got.Auction.StartTime)
	assert.Equal(t, "2000", got.Auction.PivotPrice.String())
	assert.Equal(t, s.BlockTime, got.BlockTime)
}

func TestLoadSnapshot_MissingAndInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	got, found, err := LoadSnapshot(filepath.Join(dir, "none.json"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)

	_, found, err = LoadSnapshot("")
	require.NoError(t, err)
	assert.False(t, found)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"version": 9, "snapshot": {}}`), 0o644))
	_, _, err = LoadSnapshot(bad)
	assert.Error(t, err)

	require.NoError(t, SaveSnapshot("", &rebalance.Snapshot{}))
	assert.Error(t, SaveSnapshot(filepath.Join(dir, "x.json"), nil))
}
