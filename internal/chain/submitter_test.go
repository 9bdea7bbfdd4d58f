package chain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"set-gorebalance/internal/fixedpoint"
)

func newSimulatedSubmitter(t *testing.T) (*simulated.Backend, *Submitter) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	sim := simulated.NewBackend(types.GenesisAlloc{
		from: {Balance: new(big.Int).Mul(big.NewInt(10), fixedpoint.Wei)},
	})
	t.Cleanup(func() { _ = sim.Close() })

	chainID, err := sim.Client().ChainID(context.Background())
	require.NoError(t, err)

	s, err := NewSubmitter(sim.Client(), chainID, key)
	require.NoError(t, err)
	require.Equal(t, from, s.From())
	return sim, s
}

func TestSubmitter_BidMinedAndEncoded(t *testing.T) {
	sim, s := newSimulatedSubmitter(t)
	ctx := context.Background()

	module := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	opts := TxOptions{GasLimit: 200_000, WaitTimeout: 10 * time.Second}

	for _, withdraw := range []bool{false, true} {
		tx, err := s.Bid(ctx, opts, module, rebalancingAddr, big.NewInt(10_000), withdraw, true)
		require.NoError(t, err)
		sim.Commit()

		receipt, err := s.Wait(ctx, opts, tx)
		require.NoError(t, err)
		assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

		method, err := auctionModuleABI.MethodById(tx.Data()[:4])
		require.NoError(t, err)
		want := "bid"
		if withdraw {
			want = "bidAndWithdraw"
		}
		assert.Equal(t, want, method.Name)

		args, err := method.Inputs.Unpack(tx.Data()[4:])
		require.NoError(t, err)
		require.Len(t, args, 3)
		assert.Equal(t, rebalancingAddr, args[0])
		assert.Equal(t, "10000", args[1].(*big.Int).String())
		assert.Equal(t, true, args[2])
	}
}

func TestSubmitter_EstimationNeedsCode(t *testing.T) {
	_, s := newSimulatedSubmitter(t)

	module := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	_, err := s.Bid(context.Background(), TxOptions{}, module, rebalancingAddr, big.NewInt(1), false, false)
	require.ErrorIs(t, err, bind.ErrNoCode)
}

func TestSubmitter_RejectsBadQuantity(t *testing.T) {
	_, s := newSimulatedSubmitter(t)
	ctx := context.Background()

	module := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	for _, q := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5), new(big.Int).Lsh(big.NewInt(1), 256)} {
		_, err := s.Bid(ctx, TxOptions{GasLimit: 100_000}, module, rebalancingAddr, q, false, false)
		assert.Error(t, err, "quantity %v", q)
	}
}

func TestNewSubmitter_Validation(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewSubmitter(nil, big.NewInt(1), key)
	assert.Error(t, err)
}

func TestSubmitter_LifecycleCalls(t *testing.T) {
	sim, s := newSimulatedSubmitter(t)
	ctx := context.Background()
	opts := TxOptions{GasLimit: 200_000, WaitTimeout: 10 * time.Second}

	nextSet := common.HexToAddress("0x00000000000000000000000000000000000000f2")
	library := common.HexToAddress("0x00000000000000000000000000000000000000f3")

	propose := func(ctx context.Context, opts TxOptions, set common.Address) (*types.Transaction, error) {
		return s.Propose(ctx, opts, set, Proposal{
			NextSet:        nextSet,
			AuctionLibrary: library,
			TimeToPivot:    big.NewInt(86_400),
			StartPrice:     big.NewInt(500),
			PivotPrice:     big.NewInt(1_500),
		})
	}
	calls := []struct {
		method string
		send   func(context.Context, TxOptions, common.Address) (*types.Transaction, error)
	}{
		{"propose", propose},
		{"startRebalance", s.StartRebalance},
		{"settleRebalance", s.SettleRebalance},
		{"endFailedAuction", s.EndFailedAuction},
	}
	for _, c := range calls {
		tx, err := c.send(ctx, opts, rebalancingAddr)
		require.NoError(t, err, c.method)
		sim.Commit()
		_, err = s.Wait(ctx, opts, tx)
		require.NoError(t, err, c.method)

		m, err := rebalancingSetABI.MethodById(tx.Data()[:4])
		require.NoError(t, err)
		assert.Equal(t, c.method, m.Name)
		assert.Equal(t, rebalancingAddr, *tx.To())
	}

	_, err := s.Propose(ctx, opts, rebalancingAddr, Proposal{NextSet: nextSet, AuctionLibrary: library})
	assert.Error(t, err)
}
