package unitshares

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"set-gorebalance/internal/basket"
	"set-gorebalance/internal/fixedpoint"
)

var ErrZeroSupply = errors.New("zero rebalancing supply")

// Projection explains how unit shares were derived.
type Projection struct {
	// Binding is the component whose vault balance limits issuance.
	Binding        common.Address `json:"binding"`
	MaxIssueAmount *big.Int       `json:"max_issue_amount"`
	IssueAmount    *big.Int       `json:"issue_amount"`
	// NaturalUnitsOutstanding is supply / rebalancing natural unit.
	NaturalUnitsOutstanding *big.Int `json:"natural_units_outstanding"`
	UnitShares              *big.Int `json:"unit_shares"`
}

// Project returns the unitShares the rebalancing token will hold once the
// next set is issued from the vault balances it owns.
func Project(next basket.TokenBasket, vaultBalances map[common.Address]*big.Int, rebalancingSupply, rebalancingNaturalUnit *big.Int) (*big.Int, error) {
	p, err := ProjectDetailed(next, vaultBalances, rebalancingSupply, rebalancingNaturalUnit)
	if err != nil {
		return nil, err
	}
	return p.UnitShares, nil
}

// ProjectDetailed is Project with the intermediate values. A component
// with no entry in vaultBalances has balance zero.
func ProjectDetailed(next basket.TokenBasket, vaultBalances map[common.Address]*big.Int, rebalancingSupply, rebalancingNaturalUnit *big.Int) (*Projection, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if rebalancingSupply == nil || rebalancingSupply.Sign() <= 0 {
		return nil, fmt.Errorf("%w: supply=%v", ErrZeroSupply, rebalancingSupply)
	}
	if !fixedpoint.IsPositive(rebalancingNaturalUnit) {
		return nil, fmt.Errorf("%w: rebalancing natural unit must be > 0, got %v", basket.ErrInvalidBasket, rebalancingNaturalUnit)
	}

	var (
		maxIssue *big.Int
		binding  common.Address
	)
	for _, c := range next.Components {
		if c.Unit.Sign() == 0 {
			return nil, fmt.Errorf("%w: component %s has zero unit", basket.ErrInvalidBasket, c.Address.Hex())
		}
		balance := vaultBalances[c.Address]
		if balance == nil || balance.Sign() < 0 {
			balance = new(big.Int)
		}
		issuable := fixedpoint.RoundDownQuo(balance, c.Unit)
		issuable.Mul(issuable, next.NaturalUnit)
		if maxIssue == nil || issuable.Cmp(maxIssue) < 0 {
			maxIssue = issuable
			binding = c.Address
		}
	}

	issueAmount := fixedpoint.FloorToMultiple(maxIssue, next.NaturalUnit)
	outstanding := fixedpoint.RoundDownQuo(rebalancingSupply, rebalancingNaturalUnit)
	if outstanding.Sign() == 0 {
		return nil, fmt.Errorf("%w: supply %s below natural unit %s", ErrZeroSupply, rebalancingSupply, rebalancingNaturalUnit)
	}

	return &Projection{
		Binding:                 binding,
		MaxIssueAmount:          maxIssue,
		IssueAmount:             issueAmount,
		NaturalUnitsOutstanding: outstanding,
		UnitShares:              fixedpoint.RoundDownQuo(issueAmount, outstanding),
	}, nil
}
