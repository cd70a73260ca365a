package types

import "math/big"

// Account holds the wallet balances for a single address. Balances is keyed by
// asset symbol and includes both collateral assets and the stablecoin once it
// leaves engine custody.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// EnsureDefaults populates nil fields so JSON round-trips stay safe.
func (a *Account) EnsureDefaults() {
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	for asset, amount := range a.Balances {
		if amount == nil {
			a.Balances[asset] = big.NewInt(0)
		}
	}
}

// Balance returns a copy of the recorded balance for the asset, zero when the
// asset has never been credited.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	amount, ok := a.Balances[asset]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]*big.Int, len(a.Balances))}
	for asset, amount := range a.Balances {
		if amount == nil {
			clone.Balances[asset] = big.NewInt(0)
			continue
		}
		clone.Balances[asset] = new(big.Int).Set(amount)
	}
	return clone
}
