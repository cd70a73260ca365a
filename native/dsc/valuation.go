package dsc

import (
	"fmt"
	"math/big"

	"dscd/native/oracle"
)

// Valuator converts collateral amounts to 1e18-scaled USD values and back
// using the per-asset price feeds. Prices are read fresh on every call; the
// valuator holds no quote state of its own.
type Valuator struct {
	order []string
	feeds map[string]oracle.PriceFeed
}

// NewValuator pairs each asset symbol with its price feed. The two lists must
// be equal length and non-empty; this is a deploy-time contract.
func NewValuator(assets []string, feeds []oracle.PriceFeed) (*Valuator, error) {
	if len(assets) != len(feeds) {
		return nil, ErrConfigMismatch
	}
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}
	v := &Valuator{
		order: make([]string, 0, len(assets)),
		feeds: make(map[string]oracle.PriceFeed, len(assets)),
	}
	for i, asset := range assets {
		if asset == "" || feeds[i] == nil {
			return nil, ErrConfigMismatch
		}
		if _, exists := v.feeds[asset]; exists {
			return nil, fmt.Errorf("%w: duplicate asset %q", ErrConfigMismatch, asset)
		}
		v.order = append(v.order, asset)
		v.feeds[asset] = feeds[i]
	}
	return v, nil
}

// Supports reports whether the asset belongs to the configured collateral set.
func (v *Valuator) Supports(asset string) bool {
	_, ok := v.feeds[asset]
	return ok
}

// SupportedAssets returns the collateral set in construction order.
func (v *Valuator) SupportedAssets() []string {
	return append([]string(nil), v.order...)
}

func (v *Valuator) price(asset string) (*big.Int, error) {
	feed, ok := v.feeds[asset]
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	price, err := feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("dsc engine: read price for %s: %w", asset, err)
	}
	return price, nil
}

// UsdValue converts an asset amount to its 1e18-scaled USD value:
// price * additionalFeedPrecision * amount / precision. Truncates toward zero.
func (v *Valuator) UsdValue(asset string, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	price, err := v.price(asset)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(price, additionalFeedPrecision)
	value.Mul(value, amount)
	value.Quo(value, precision)
	return value, nil
}

// TokenAmountFromUsd converts a 1e18-scaled USD value into asset units:
// usd * precision / (price * additionalFeedPrecision). Inverse of UsdValue up
// to integer truncation.
func (v *Valuator) TokenAmountFromUsd(asset string, usdAmount *big.Int) (*big.Int, error) {
	if usdAmount == nil || usdAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	price, err := v.price(asset)
	if err != nil {
		return nil, err
	}
	scaledPrice := new(big.Int).Mul(price, additionalFeedPrecision)
	amount := new(big.Int).Mul(usdAmount, precision)
	amount.Quo(amount, scaledPrice)
	return amount, nil
}

// CollateralValue sums the USD value of every deposited asset in the position.
// Assets with a zero recorded balance are skipped, which keeps valuation of
// empty positions independent of feed availability.
func (v *Valuator) CollateralValue(pos *Position) (*big.Int, error) {
	total := big.NewInt(0)
	if pos == nil {
		return total, nil
	}
	for _, asset := range v.order {
		amount, ok := pos.Collateral[asset]
		if !ok || amount == nil || amount.Sign() == 0 {
			continue
		}
		value, err := v.UsdValue(asset, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
