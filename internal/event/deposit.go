// internal/event/deposit.go
package event

import "github.com/google/uuid"

// CashDeposited credits underlying cash to an account. Custody confirmation
// happens upstream; by the time the event reaches the engine the funds are
// final.
type CashDeposited struct {
	DepositID uuid.UUID
	AccountID uuid.UUID
	Currency  uint16
	Amount    int64 // 1e8 internal token precision
	Sequence  int64
	Timestamp int64 // Versioned block time (epoch seconds)
}

func (d *CashDeposited) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *CashDeposited) EventType() EventType {
	return EventTypeCashDeposited
}

func (d *CashDeposited) CurrencyID() *uint16 {
	c := d.Currency
	return &c
}

func (d *CashDeposited) SourceSequence() int64 {
	return d.Sequence
}

func (d *CashDeposited) BlockTime() int64 {
	return d.Timestamp
}
