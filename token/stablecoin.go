package token

import (
	"errors"
	"math/big"
	"sync"

	"dscd/crypto"
)

var (
	errInvalidAmount       = errors.New("stablecoin: amount must be positive")
	errInsufficientBalance = errors.New("stablecoin: insufficient balance")
	errInsufficientAllow   = errors.New("stablecoin: insufficient allowance")
	errMinterGranted       = errors.New("stablecoin: minter capability already granted")
	errZeroAddress         = errors.New("stablecoin: zero address")
)

// Stablecoin is the USD-pegged token ledger. It tracks balances, allowances
// and total supply, but carries no monetary policy of its own: supply only
// changes through the MinterBurner capability handed out once at construction
// time. The engine is the sole holder of that capability.
type Stablecoin struct {
	mu         sync.RWMutex
	name       string
	symbol     string
	address    crypto.Address
	balances   map[string]*big.Int
	allowances map[string]map[string]*big.Int
	supply     *big.Int
	granted    bool
}

// New constructs the token ledger. The address identifies the token itself so
// callers can report it alongside balances.
func New(name, symbol string) *Stablecoin {
	return &Stablecoin{
		name:       name,
		symbol:     symbol,
		address:    crypto.ModuleAddress("token/" + symbol),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]map[string]*big.Int),
		supply:     big.NewInt(0),
	}
}

func (s *Stablecoin) Name() string   { return s.name }
func (s *Stablecoin) Symbol() string { return s.symbol }

// Address returns the deterministic identity of the token ledger.
func (s *Stablecoin) Address() crypto.Address { return s.address }

// TotalSupply returns a copy of the outstanding supply.
func (s *Stablecoin) TotalSupply() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.supply)
}

// BalanceOf returns a copy of the holder's balance.
func (s *Stablecoin) BalanceOf(holder crypto.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance(holder)
}

func (s *Stablecoin) balance(holder crypto.Address) *big.Int {
	amount, ok := s.balances[holder.String()]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// Transfer moves tokens between holders.
func (s *Stablecoin) Transfer(from, to crypto.Address, amount *big.Int) error {
	if from.IsZero() || to.IsZero() {
		return errZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(from, to, amount)
}

func (s *Stablecoin) move(from, to crypto.Address, amount *big.Int) error {
	fromBal := s.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	s.balances[from.String()] = fromBal.Sub(fromBal, amount)
	toBal := s.balance(to)
	s.balances[to.String()] = toBal.Add(toBal, amount)
	return nil
}

// Approve sets the spender allowance for the owner.
func (s *Stablecoin) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return errZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byOwner, ok := s.allowances[owner.String()]
	if !ok {
		byOwner = make(map[string]*big.Int)
		s.allowances[owner.String()] = byOwner
	}
	byOwner[spender.String()] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns a copy of the remaining spender allowance.
func (s *Stablecoin) Allowance(owner, spender crypto.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byOwner, ok := s.allowances[owner.String()]
	if !ok {
		return big.NewInt(0)
	}
	amount, ok := byOwner[spender.String()]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func (s *Stablecoin) spendAllowance(owner, spender crypto.Address, amount *big.Int) error {
	byOwner, ok := s.allowances[owner.String()]
	if !ok {
		return errInsufficientAllow
	}
	remaining, ok := byOwner[spender.String()]
	if !ok || remaining == nil || remaining.Cmp(amount) < 0 {
		return errInsufficientAllow
	}
	byOwner[spender.String()] = new(big.Int).Sub(remaining, amount)
	return nil
}

// GrantMinter hands out the mint/burn capability exactly once, bound to the
// holder address that will custody collected tokens. Subsequent calls fail.
func (s *Stablecoin) GrantMinter(holder crypto.Address) (*MinterBurner, error) {
	if holder.IsZero() {
		return nil, errZeroAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.granted {
		return nil, errMinterGranted
	}
	s.granted = true
	return &MinterBurner{token: s, holder: holder}, nil
}

// MinterBurner is the single capability allowed to change token supply. It is
// bound to its holder: Burn destroys tokens from the holder's own balance and
// TransferFrom spends allowances granted to the holder.
type MinterBurner struct {
	token  *Stablecoin
	holder crypto.Address
}

// Address reports the token ledger identity.
func (m *MinterBurner) Address() crypto.Address {
	return m.token.Address()
}

// Mint creates new tokens for the recipient.
func (m *MinterBurner) Mint(to crypto.Address, amount *big.Int) error {
	if to.IsZero() {
		return errZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	s := m.token
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balance(to)
	s.balances[to.String()] = bal.Add(bal, amount)
	s.supply = new(big.Int).Add(s.supply, amount)
	return nil
}

// Burn destroys tokens held by the capability holder.
func (m *MinterBurner) Burn(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	s := m.token
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balance(m.holder)
	if bal.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	s.balances[m.holder.String()] = bal.Sub(bal, amount)
	s.supply = new(big.Int).Sub(s.supply, amount)
	return nil
}

// TransferFrom moves tokens on behalf of the owner, consuming the allowance
// the owner granted to the capability holder.
func (m *MinterBurner) TransferFrom(from, to crypto.Address, amount *big.Int) error {
	if from.IsZero() || to.IsZero() {
		return errZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	s := m.token
	s.mu.Lock()
	defer s.mu.Unlock()
	// Spending the holder's own balance needs no allowance.
	if !from.Equal(m.holder) {
		if err := s.spendAllowance(from, m.holder, amount); err != nil {
			return err
		}
	}
	return s.move(from, to, amount)
}
