package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetUserCashBalance returns an account's settled cash balance. Negative
// balances are legal: settlement of a matured borrow debits cash the
// account may not hold yet.
func (bt *BalanceTracker) GetUserCashBalance(accountID uuid.UUID, currencyID uint16) int64 {
	return bt.GetBalance(UserCashKey(accountID, currencyID))
}

// ValidateSufficientCash checks the account can give up the required cash
func (bt *BalanceTracker) ValidateSufficientCash(accountID uuid.UUID, currencyID uint16, required int64) error {
	balance := bt.GetUserCashBalance(accountID, currencyID)
	if balance < required {
		return fmt.Errorf("insufficient cash balance: have=%d, need=%d", balance, required)
	}
	return nil
}

// HasNegativeUserCash reports whether any of the account's cash balances
// is negative, across all currencies.
func (bt *BalanceTracker) HasNegativeUserCash(accountID uuid.UUID) bool {
	for key, balance := range bt.balances {
		if balance < 0 && key.Scope == AccountScopeUser && key.EntityID == accountID && key.SubType == SubTypeCash {
			return true
		}
	}
	return false
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per currency (should be 0
// for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[uint16]int64 {
	totals := make(map[uint16]int64)

	for key, balance := range bt.balances {
		totals[key.CurrencyID] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances from a snapshot
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
