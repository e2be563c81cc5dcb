package event

import "github.com/google/uuid"

// BitmapCurrencyEnabled switches an account's portfolio to the bitmap
// encoding for one currency. Irreversible, and only valid while the
// account holds no array assets of that currency.
type BitmapCurrencyEnabled struct {
	RequestID uuid.UUID
	AccountID uuid.UUID
	Currency  uint16
	Sequence  int64
	Timestamp int64
}

func (b *BitmapCurrencyEnabled) IdempotencyKey() string {
	return b.RequestID.String()
}

func (b *BitmapCurrencyEnabled) EventType() EventType {
	return EventTypeBitmapCurrencyEnabled
}

func (b *BitmapCurrencyEnabled) CurrencyID() *uint16 {
	c := b.Currency
	return &c
}

func (b *BitmapCurrencyEnabled) SourceSequence() int64 {
	return b.Sequence
}

func (b *BitmapCurrencyEnabled) BlockTime() int64 {
	return b.Timestamp
}
