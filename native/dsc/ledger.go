package dsc

import "math/big"

// The collateral and debt ledgers operate on in-memory position clones. The
// engine is the only writer: it loads a clone, applies ledger mutations,
// validates the health-factor invariant, performs the external transfers and
// persists the clone last. Any failure along the way simply discards the
// clone, so no partial state is ever observable.

// addCollateral credits the asset balance. Amount and asset validity are
// checked by the engine before ledger mutation.
func (p *Position) addCollateral(asset string, amount *big.Int) {
	current, ok := p.Collateral[asset]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	p.Collateral[asset] = new(big.Int).Add(current, amount)
}

// removeCollateral debits the asset balance, guarding against underflow. A
// balance that reaches zero is deleted so the position reverts to its default
// shape once fully unwound.
func (p *Position) removeCollateral(asset string, amount *big.Int) error {
	current, ok := p.Collateral[asset]
	if !ok || current == nil || current.Cmp(amount) < 0 {
		return ErrCollateralUnderflow
	}
	remaining := new(big.Int).Sub(current, amount)
	if remaining.Sign() == 0 {
		delete(p.Collateral, asset)
		return nil
	}
	p.Collateral[asset] = remaining
	return nil
}

// increaseDebt records newly minted stablecoin against the position.
func (p *Position) increaseDebt(amount *big.Int) {
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
	p.Debt = new(big.Int).Add(p.Debt, amount)
}

// decreaseDebt retires debt, guarding against underflow.
func (p *Position) decreaseDebt(amount *big.Int) error {
	if p.Debt == nil || p.Debt.Cmp(amount) < 0 {
		return ErrDebtUnderflow
	}
	p.Debt = new(big.Int).Sub(p.Debt, amount)
	return nil
}
