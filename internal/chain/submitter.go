package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"set-gorebalance/internal/fixedpoint"
)

const defaultWaitTimeout = 3 * time.Minute

var ErrTxReverted = errors.New("transaction reverted")

// Backend is what Submitter needs to send and wait for transactions.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// TxOptions are passed explicitly to every submission. Zero values leave
// the choice to the node (gas price, gas limit via estimation).
type TxOptions struct {
	GasPrice    *big.Int
	GasLimit    uint64
	WaitTimeout time.Duration
}

// Submitter signs and sends the rebalancing transactions from one key.
type Submitter struct {
	backend Backend
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

func NewSubmitter(backend Backend, chainID *big.Int, key *ecdsa.PrivateKey) (*Submitter, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	if key == nil {
		return nil, fmt.Errorf("private key required")
	}
	return &Submitter{
		backend: backend,
		chainID: new(big.Int).Set(chainID),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *Submitter) From() common.Address { return s.from }

func (s *Submitter) transactOpts(ctx context.Context, opts TxOptions) (*bind.TransactOpts, error) {
	txOpts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, err
	}
	txOpts.Context = ctx
	if opts.GasPrice != nil {
		txOpts.GasPrice = new(big.Int).Set(opts.GasPrice)
	}
	txOpts.GasLimit = opts.GasLimit
	return txOpts, nil
}

func (s *Submitter) transact(ctx context.Context, opts TxOptions, contractABI abi.ABI, to common.Address, method string, args ...interface{}) (*types.Transaction, error) {
	txOpts, err := s.transactOpts(ctx, opts)
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(to, contractABI, s.backend, s.backend, s.backend)
	tx, err := contract.Transact(txOpts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s(%s): %w", method, to.Hex(), err)
	}
	return tx, nil
}

// Bid submits a bid of quantity against rebalancingSet through the auction
// module. With withdraw set, received tokens are withdrawn from the vault
// in the same transaction.
func (s *Submitter) Bid(ctx context.Context, opts TxOptions, auctionModule, rebalancingSet common.Address, quantity *big.Int, withdraw, allowPartialFill bool) (*types.Transaction, error) {
	if !fixedpoint.IsPositive(quantity) || !fixedpoint.FitsUint256(quantity) {
		return nil, fmt.Errorf("bid quantity out of range: %v", quantity)
	}
	method := "bid"
	if withdraw {
		method = "bidAndWithdraw"
	}
	return s.transact(ctx, opts, auctionModuleABI, auctionModule, method, rebalancingSet, quantity, allowPartialFill)
}

// Proposal is the argument set of propose().
type Proposal struct {
	NextSet        common.Address
	AuctionLibrary common.Address
	TimeToPivot    *big.Int
	StartPrice     *big.Int
	PivotPrice     *big.Int
}

func (s *Submitter) Propose(ctx context.Context, opts TxOptions, rebalancingSet common.Address, p Proposal) (*types.Transaction, error) {
	for name, v := range map[string]*big.Int{"time to pivot": p.TimeToPivot, "start price": p.StartPrice, "pivot price": p.PivotPrice} {
		if !fixedpoint.FitsUint256(v) {
			return nil, fmt.Errorf("propose: %s out of range: %v", name, v)
		}
	}
	return s.transact(ctx, opts, rebalancingSetABI, rebalancingSet, "propose", p.NextSet, p.AuctionLibrary, p.TimeToPivot, p.StartPrice, p.PivotPrice)
}

func (s *Submitter) StartRebalance(ctx context.Context, opts TxOptions, rebalancingSet common.Address) (*types.Transaction, error) {
	return s.transact(ctx, opts, rebalancingSetABI, rebalancingSet, "startRebalance")
}

func (s *Submitter) SettleRebalance(ctx context.Context, opts TxOptions, rebalancingSet common.Address) (*types.Transaction, error) {
	return s.transact(ctx, opts, rebalancingSetABI, rebalancingSet, "settleRebalance")
}

func (s *Submitter) EndFailedAuction(ctx context.Context, opts TxOptions, rebalancingSet common.Address) (*types.Transaction, error) {
	return s.transact(ctx, opts, rebalancingSetABI, rebalancingSet, "endFailedAuction")
}

// Wait blocks until tx is mined and fails with ErrTxReverted on a failed
// receipt.
func (s *Submitter) Wait(ctx context.Context, opts TxOptions, tx *types.Transaction) (*types.Receipt, error) {
	timeout := opts.WaitTimeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, s.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: tx=%s", ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}
