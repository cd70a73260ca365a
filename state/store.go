package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"dscd/core/types"
	"dscd/crypto"
	"dscd/native/dsc"
	"dscd/storage"
)

const (
	positionPrefix = "dsc/pos/"
	accountPrefix  = "bank/acct/"
	positionIndex  = "dsc/pos-index"
)

// Store persists engine positions and bank accounts as JSON documents in a
// key-value database. It implements dsc.EngineState and bank.State. Writes
// are serialized so the index stays consistent with position documents.
type Store struct {
	mu sync.Mutex
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type positionDoc struct {
	Address    string              `json:"address"`
	Collateral map[string]*big.Int `json:"collateral"`
	Debt       *big.Int            `json:"debt"`
}

// GetPosition returns the stored position or nil when the account has none.
func (s *Store) GetPosition(addr crypto.Address) (*dsc.Position, error) {
	raw, err := s.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc positionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("state: decode position %s: %w", addr, err)
	}
	pos := &dsc.Position{Address: addr, Collateral: doc.Collateral, Debt: doc.Debt}
	pos.EnsureDefaults()
	return pos, nil
}

// PutPosition stores the position and maintains the account index. Positions
// that have unwound to their zero-valued default are deleted so the account
// reverts to the no-history shape.
func (s *Store) PutPosition(pos *dsc.Position) error {
	if pos == nil {
		return fmt.Errorf("state: nil position")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos.IsEmpty() {
		if err := s.db.Delete(positionKey(pos.Address)); err != nil {
			return err
		}
		return s.updateIndex(pos.Address, false)
	}
	doc := positionDoc{Address: pos.Address.String(), Collateral: pos.Collateral, Debt: pos.Debt}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("state: encode position %s: %w", pos.Address, err)
	}
	if err := s.db.Put(positionKey(pos.Address), raw); err != nil {
		return err
	}
	return s.updateIndex(pos.Address, true)
}

// PositionAddresses lists every account with a live position, sorted for
// deterministic iteration.
func (s *Store) PositionAddresses() ([]crypto.Address, error) {
	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	addrs := make([]crypto.Address, 0, len(index))
	for _, encoded := range index {
		addr, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return nil, fmt.Errorf("state: corrupt position index entry %q: %w", encoded, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// TotalDebt sums the outstanding debt across every live position.
func (s *Store) TotalDebt() (*big.Int, error) {
	addrs, err := s.PositionAddresses()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, addr := range addrs {
		pos, err := s.GetPosition(addr)
		if err != nil {
			return nil, err
		}
		if pos != nil && pos.Debt != nil {
			total.Add(total, pos.Debt)
		}
	}
	return total, nil
}

func (s *Store) readIndex() ([]string, error) {
	raw, err := s.db.Get([]byte(positionIndex))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index []string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("state: decode position index: %w", err)
	}
	return index, nil
}

func (s *Store) updateIndex(addr crypto.Address, present bool) error {
	index, err := s.readIndex()
	if err != nil {
		return err
	}
	encoded := addr.String()
	found := -1
	for i, entry := range index {
		if entry == encoded {
			found = i
			break
		}
	}
	switch {
	case present && found < 0:
		index = append(index, encoded)
		sort.Strings(index)
	case !present && found >= 0:
		index = append(index[:found], index[found+1:]...)
	default:
		return nil
	}
	raw, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(positionIndex), raw)
}

// GetAccount returns the stored wallet account or nil when none exists.
func (s *Store) GetAccount(addr crypto.Address) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acc := &types.Account{}
	if err := json.Unmarshal(raw, acc); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	acc.EnsureDefaults()
	return acc, nil
}

// PutAccount stores the wallet account.
func (s *Store) PutAccount(addr crypto.Address, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("state: encode account %s: %w", addr, err)
	}
	return s.db.Put(accountKey(addr), raw)
}

func positionKey(addr crypto.Address) []byte {
	return []byte(positionPrefix + addr.String())
}

func accountKey(addr crypto.Address) []byte {
	return []byte(accountPrefix + addr.String())
}
