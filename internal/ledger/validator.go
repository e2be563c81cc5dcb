package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum per currency
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for currencyID, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for currency %d is non-zero: %d", currencyID, total)
		}
	}

	return nil
}

// ValidateMarketCashNonNegative checks the pooled market cash never goes
// negative. Curve trades cannot draw more than the pool holds, so a
// negative balance means a journal bug.
func (v *InvariantValidator) ValidateMarketCashNonNegative(currencyID uint16) error {
	return v.tracker.ValidateNonNegative(MarketCashKey(currencyID))
}

// ValidateFeeReserveNonNegative checks the fee reserve only accumulates
func (v *InvariantValidator) ValidateFeeReserveNonNegative(currencyID uint16) error {
	return v.tracker.ValidateNonNegative(FeeReserveKey(currencyID))
}
