package bank

import (
	"errors"
	"fmt"
	"math/big"

	"dscd/core/types"
	"dscd/crypto"
)

var (
	errNilState            = errors.New("bank: state not configured")
	errInvalidAmount       = errors.New("bank: amount must be positive")
	errInvalidAsset        = errors.New("bank: asset symbol required")
	errInsufficientBalance = errors.New("bank: insufficient balance")
)

// State is the persistence boundary for wallet accounts. A nil account means
// the address has never been credited.
type State interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, acc *types.Account) error
}

// Ledger is the in-process asset bank. It implements the engine's transfer
// port: collateral moves between wallets and engine custody through it, and
// the daemon credits starting balances through it.
type Ledger struct {
	state State
}

func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) loadAccount(addr crypto.Address) (*types.Account, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	} else {
		acc = acc.Clone()
	}
	acc.EnsureDefaults()
	return acc, nil
}

// Transfer moves an asset amount between two holders. Both account writes
// happen only after the debit has been validated. The debit is persisted
// first; if the credit write then fails the debit is restored, so a storage
// fault can never destroy funds.
func (l *Ledger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if asset == "" {
		return errInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromAcc, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	balance := fromAcc.Balance(asset)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	if from.Equal(to) {
		return nil
	}
	toAcc, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balances[asset] = balance.Sub(balance, amount)
	toBalance := toAcc.Balance(asset)
	toAcc.Balances[asset] = toBalance.Add(toBalance, amount)

	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	if err := l.state.PutAccount(to, toAcc); err != nil {
		fromAcc.Balances[asset] = new(big.Int).Add(fromAcc.Balances[asset], amount)
		if restoreErr := l.state.PutAccount(from, fromAcc); restoreErr != nil {
			return fmt.Errorf("bank: credit write failed: %v (debit restore also failed: %v)", err, restoreErr)
		}
		return err
	}
	return nil
}

// Credit mints asset units into a wallet. Operator/faucet path; collateral
// assets are exogenous so the bank itself carries no supply invariant.
func (l *Ledger) Credit(asset string, to crypto.Address, amount *big.Int) error {
	if asset == "" {
		return errInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	acc, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	balance := acc.Balance(asset)
	acc.Balances[asset] = balance.Add(balance, amount)
	return l.state.PutAccount(to, acc)
}

// Balance reports the recorded holding for an address.
func (l *Ledger) Balance(asset string, addr crypto.Address) (*big.Int, error) {
	acc, err := l.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance(asset), nil
}
