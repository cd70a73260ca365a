package dsc

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrNilState signals the engine was used before SetState.
	ErrNilState = errors.New("dsc engine: state not configured")
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("dsc engine: amount must be positive")
	// ErrUnsupportedAsset rejects assets outside the configured collateral set.
	ErrUnsupportedAsset = errors.New("dsc engine: unsupported collateral asset")
	// ErrConfigMismatch rejects construction with unequal asset and feed lists.
	ErrConfigMismatch = errors.New("dsc engine: asset and feed lists must have equal length")
	// ErrNoAssets rejects construction with an empty collateral set.
	ErrNoAssets = errors.New("dsc engine: at least one collateral asset required")
	// ErrCollateralUnderflow rejects withdrawals exceeding recorded collateral.
	ErrCollateralUnderflow = errors.New("dsc engine: redeem exceeds recorded collateral")
	// ErrDebtUnderflow rejects burns exceeding recorded debt.
	ErrDebtUnderflow = errors.New("dsc engine: burn exceeds recorded debt")
	// ErrBreaksHealthFactor marks operations that would leave a position below
	// the minimum health factor. Matched via errors.Is against the typed
	// HealthFactorError carrying the computed value.
	ErrBreaksHealthFactor = errors.New("dsc engine: health factor below minimum")
	// ErrTransferFailed wraps a failed collateral transfer.
	ErrTransferFailed = errors.New("dsc engine: asset transfer failed")
	// ErrMintFailed wraps a failed stablecoin mint.
	ErrMintFailed = errors.New("dsc engine: stablecoin mint failed")
	// ErrBurnFailed wraps a failed stablecoin burn.
	ErrBurnFailed = errors.New("dsc engine: stablecoin burn failed")
	// ErrHealthFactorOK rejects liquidation of a solvent position.
	ErrHealthFactorOK = errors.New("dsc engine: health factor above minimum, cannot liquidate")
	// ErrHealthFactorNotImproved rejects liquidations that fail to improve the
	// target position.
	ErrHealthFactorNotImproved = errors.New("dsc engine: liquidation did not improve health factor")
	// ErrReentrantCall rejects nested calls observed while an operation holds
	// the engine guard.
	ErrReentrantCall = errors.New("dsc engine: reentrant call")
)

// HealthFactorError reports the computed health factor of the position that
// failed the solvency check. It unwraps to ErrBreaksHealthFactor.
type HealthFactorError struct {
	Factor *big.Int
}

func (e *HealthFactorError) Error() string {
	factor := "unknown"
	if e.Factor != nil {
		factor = e.Factor.String()
	}
	return fmt.Sprintf("dsc engine: health factor %s below minimum", factor)
}

func (e *HealthFactorError) Unwrap() error { return ErrBreaksHealthFactor }

func breaksHealthFactor(factor *big.Int) error {
	captured := big.NewInt(0)
	if factor != nil {
		captured = new(big.Int).Set(factor)
	}
	return &HealthFactorError{Factor: captured}
}
