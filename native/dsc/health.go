package dsc

import "math/big"

// CalculateHealthFactor derives the scaled solvency ratio from a position's
// total collateral value (1e18 USD scale) and outstanding debt. Zero debt
// makes a position unconditionally solvent: the max sentinel is returned
// through an explicit branch and the division is never evaluated.
func CalculateHealthFactor(collateralValueUsd, debt *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	value := big.NewInt(0)
	if collateralValueUsd != nil {
		value = collateralValueUsd
	}
	adjusted := new(big.Int).Mul(value, big.NewInt(liquidationThreshold))
	adjusted.Quo(adjusted, big.NewInt(liquidationPrecision))
	factor := new(big.Int).Mul(adjusted, precision)
	factor.Quo(factor, debt)
	return factor
}

// healthy reports whether the factor clears the solvency boundary.
func healthy(factor *big.Int) bool {
	return factor != nil && factor.Cmp(minHealthFactor) >= 0
}

func (e *Engine) positionHealthFactor(pos *Position) (*big.Int, error) {
	if pos == nil || pos.Debt == nil || pos.Debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	value, err := e.valuator.CollateralValue(pos)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(value, pos.Debt), nil
}
