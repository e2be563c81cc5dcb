package event

import "github.com/google/uuid"

// CashWithdrawn removes underlying cash from an account. The engine checks
// the settled cash balance before applying it.
type CashWithdrawn struct {
	WithdrawalID uuid.UUID
	AccountID    uuid.UUID
	Currency     uint16
	Amount       int64 // 1e8 internal token precision
	Sequence     int64
	Timestamp    int64
}

func (w *CashWithdrawn) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *CashWithdrawn) EventType() EventType {
	return EventTypeCashWithdrawn
}

func (w *CashWithdrawn) CurrencyID() *uint16 {
	c := w.Currency
	return &c
}

func (w *CashWithdrawn) SourceSequence() int64 {
	return w.Sequence
}

func (w *CashWithdrawn) BlockTime() int64 {
	return w.Timestamp
}
