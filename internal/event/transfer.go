package event

import "github.com/google/uuid"

// FCashTransferred moves a fixed notional between two accounts without
// touching the curve. Both parties are settled before the transfer so the
// notional lands in current-quarter portfolios.
type FCashTransferred struct {
	TransferID    uuid.UUID
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Currency      uint16
	Maturity      int64
	Notional      int64 // 1e8 scale, positive
	Sequence      int64
	Timestamp     int64
}

func (t *FCashTransferred) IdempotencyKey() string {
	return t.TransferID.String()
}

func (t *FCashTransferred) EventType() EventType {
	return EventTypeFCashTransferred
}

func (t *FCashTransferred) CurrencyID() *uint16 {
	c := t.Currency
	return &c
}

func (t *FCashTransferred) SourceSequence() int64 {
	return t.Sequence
}

func (t *FCashTransferred) BlockTime() int64 {
	return t.Timestamp
}
