package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// AccountManager manages account settlement contexts and portfolios
type AccountManager struct {
	accounts map[uuid.UUID]*Account
}

func NewAccountManager() *AccountManager {
	return &AccountManager{
		accounts: make(map[uuid.UUID]*Account),
	}
}

// GetAccount returns existing account or nil
func (am *AccountManager) GetAccount(id uuid.UUID) *Account {
	return am.accounts[id]
}

// GetOrCreateAccount returns existing or creates a new empty account
func (am *AccountManager) GetOrCreateAccount(id uuid.UUID) *Account {
	acc := am.accounts[id]

	if acc == nil {
		acc = &Account{ID: id}
		am.accounts[id] = acc
	}

	return acc
}

// SetAccount directly sets an account (used for snapshot restore)
func (am *AccountManager) SetAccount(acc *Account) {
	am.accounts[acc.ID] = acc
}

// GetAllAccounts returns all accounts sorted by ID for deterministic
// iteration
func (am *AccountManager) GetAllAccounts() []*Account {
	result := make([]*Account, 0, len(am.accounts))
	for _, acc := range am.accounts {
		result = append(result, acc)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})
	return result
}

// Count returns the number of tracked accounts
func (am *AccountManager) Count() int {
	return len(am.accounts)
}
