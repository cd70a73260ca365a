package dsc

import "math/big"

const (
	// liquidationThreshold is the share of raw collateral value counted toward
	// solvency. 50 means positions must stay at least 200% overcollateralized.
	liquidationThreshold = 50
	// liquidationPrecision is the denominator for threshold and bonus math.
	liquidationPrecision = 100
	// liquidationBonus is the extra collateral percentage paid to liquidators.
	liquidationBonus = 10
)

var (
	// precision is the 1e18 fixed-point scale used for USD values and ratios.
	precision = mustBigInt("1000000000000000000")
	// additionalFeedPrecision lifts 8-decimal oracle quotes to the 1e18 scale.
	additionalFeedPrecision = mustBigInt("10000000000")
	// minHealthFactor is the scaled value of exactly 1.0, the solvency boundary.
	minHealthFactor = mustBigInt("1000000000000000000")
	// maxHealthFactor is the sentinel reported for debt-free positions.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MinHealthFactor returns a copy of the scaled solvency boundary.
func MinHealthFactor() *big.Int {
	return new(big.Int).Set(minHealthFactor)
}

// MaxHealthFactor returns a copy of the debt-free sentinel.
func MaxHealthFactor() *big.Int {
	return new(big.Int).Set(maxHealthFactor)
}

// LiquidationBonusPercent reports the liquidation incentive for operators.
func LiquidationBonusPercent() uint64 {
	return liquidationBonus
}

// LiquidationThresholdPercent reports the solvency threshold for operators.
func LiquidationThresholdPercent() uint64 {
	return liquidationThreshold
}
