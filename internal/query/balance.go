package query

import (
	"github.com/google/uuid"
)

// CashBalanceResponse represents an account's cash position in one
// currency for API queries.
type CashBalanceResponse struct {
	AccountID  uuid.UUID `json:"account_id"`
	CurrencyID uint16    `json:"currency_id"`

	// Ledger balance, scaled to InternalTokenPrecision. Negative means
	// the account owes pooled market cash from matured borrows.
	CashBalance int64 `json:"cash_balance"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected event sequence
}
