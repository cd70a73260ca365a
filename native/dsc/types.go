package dsc

import (
	"math/big"

	"dscd/crypto"
)

// Position maintains the collateral and debt bookkeeping for an individual
// account. Positions come into existence implicitly on first deposit; an
// account with zero balances is indistinguishable from one with no history.
type Position struct {
	// Address is the owning account.
	Address crypto.Address
	// Collateral records the deposited amount per supported asset symbol.
	Collateral map[string]*big.Int
	// Debt is the outstanding minted stablecoin amount.
	Debt *big.Int
}

// EnsureDefaults populates nil fields so JSON round-trips and fresh positions
// are safe to mutate.
func (p *Position) EnsureDefaults() {
	if p.Collateral == nil {
		p.Collateral = make(map[string]*big.Int)
	}
	for asset, amount := range p.Collateral {
		if amount == nil {
			p.Collateral[asset] = big.NewInt(0)
		}
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
}

// Clone returns a deep copy of the position. Engine operations mutate clones
// and persist them only after every invariant check and external call has
// succeeded, which keeps failed operations free of observable side effects.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address, Collateral: make(map[string]*big.Int, len(p.Collateral))}
	for asset, amount := range p.Collateral {
		if amount == nil {
			clone.Collateral[asset] = big.NewInt(0)
			continue
		}
		clone.Collateral[asset] = new(big.Int).Set(amount)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	} else {
		clone.Debt = big.NewInt(0)
	}
	return clone
}

// CollateralBalance returns a copy of the recorded amount for the asset.
func (p *Position) CollateralBalance(asset string) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	amount, ok := p.Collateral[asset]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// IsEmpty reports whether the position has reverted to its zero-valued default.
func (p *Position) IsEmpty() bool {
	if p == nil {
		return true
	}
	if p.Debt != nil && p.Debt.Sign() != 0 {
		return false
	}
	for _, amount := range p.Collateral {
		if amount != nil && amount.Sign() != 0 {
			return false
		}
	}
	return true
}
