// Package accounts holds the address to account mapping owned by one replay run.
package accounts

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
)

// ErrPositionOwned is returned when a position is attached to an address while
// another address still owns it.
var ErrPositionOwned = errors.New("position owned by another account")

// Store maps addresses to accounts and indexes LP positions by token id.
//
// A Store is not safe for concurrent use; a replay run owns it exclusively.
type Store struct {
	accounts map[string]*domain.Account
	order    []string          // insertion order
	owners   map[uint64]string // tokenId -> owning address
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		owners:   make(map[uint64]string),
	}
}

// Get returns the account for address, if present.
func (s *Store) Get(address string) (*domain.Account, bool) {
	acc, ok := s.accounts[address]
	return acc, ok
}

// GetOrCreate returns the account for address, creating a zeroed one on first
// reference. The returned handle stays valid for the lifetime of the store.
func (s *Store) GetOrCreate(address string) *domain.Account {
	if acc, ok := s.accounts[address]; ok {
		return acc
	}
	acc := domain.NewAccount(address)
	s.accounts[address] = acc
	s.order = append(s.order, address)
	return acc
}

// Delete removes an account and its position index entries.
func (s *Store) Delete(address string) {
	acc, ok := s.accounts[address]
	if !ok {
		return
	}
	for _, p := range acc.LpPositions {
		if s.owners[p.TokenID] == address {
			delete(s.owners, p.TokenID)
		}
	}
	delete(s.accounts, address)
	for i, a := range s.order {
		if a == address {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of accounts.
func (s *Store) Len() int {
	return len(s.accounts)
}

// All returns the accounts in insertion order.
func (s *Store) All() []*domain.Account {
	out := make([]*domain.Account, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.accounts[a])
	}
	return out
}

// Sorted returns the accounts ordered by address.
func (s *Store) Sorted() []*domain.Account {
	out := s.All()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

// Owner returns the address currently holding tokenID.
func (s *Store) Owner(tokenID uint64) (string, bool) {
	owner, ok := s.owners[tokenID]
	return owner, ok
}

// AttachPosition appends a new position to the account at address and indexes
// it. The token must not be held by another account.
func (s *Store) AttachPosition(address string, pos domain.LpPosition) error {
	if owner, ok := s.owners[pos.TokenID]; ok && owner != address {
		return fmt.Errorf("%w: token %d held by %s", ErrPositionOwned, pos.TokenID, owner)
	}
	acc := s.GetOrCreate(address)
	if i := acc.PositionIndex(pos.TokenID); i >= 0 {
		acc.LpPositions[i] = pos
	} else {
		acc.LpPositions = append(acc.LpPositions, pos)
	}
	s.owners[pos.TokenID] = address
	return nil
}

// DetachPosition removes tokenID from the account at address.
// It reports whether a position was removed.
func (s *Store) DetachPosition(address string, tokenID uint64) bool {
	acc, ok := s.accounts[address]
	if !ok {
		return false
	}
	i := acc.PositionIndex(tokenID)
	if i < 0 {
		return false
	}
	acc.LpPositions = append(acc.LpPositions[:i], acc.LpPositions[i+1:]...)
	if s.owners[tokenID] == address {
		delete(s.owners, tokenID)
	}
	return true
}

// TotalWeight returns the sum of all staking weights.
func (s *Store) TotalWeight() decimal.Decimal {
	total := fixed.Zero
	for _, a := range s.order {
		total = total.Add(s.accounts[a].StakingWeight)
	}
	return total
}

// TotalEarned returns the sum of all earned rewards.
func (s *Store) TotalEarned() decimal.Decimal {
	total := fixed.Zero
	for _, a := range s.order {
		total = total.Add(s.accounts[a].Earned)
	}
	return total
}

// Snapshot returns deep copies of all accounts in insertion order. Restore
// rebuilds an equal store from it.
func (s *Store) Snapshot() []*domain.Account {
	out := make([]*domain.Account, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.accounts[a].Clone())
	}
	return out
}

// Restore builds a store from account snapshots. Accounts are cloned and keep
// their order.
func Restore(snapshot []*domain.Account) (*Store, error) {
	s := New()
	for _, a := range snapshot {
		if _, ok := s.accounts[a.Address]; ok {
			return nil, fmt.Errorf("duplicate account %s", a.Address)
		}
		acc := a.Clone()
		for _, p := range acc.LpPositions {
			if owner, ok := s.owners[p.TokenID]; ok {
				return nil, fmt.Errorf("%w: token %d held by %s", ErrPositionOwned, p.TokenID, owner)
			}
			s.owners[p.TokenID] = acc.Address
		}
		s.accounts[acc.Address] = acc
		s.order = append(s.order, acc.Address)
	}
	return s, nil
}
