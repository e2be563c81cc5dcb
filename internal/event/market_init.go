package event

import "github.com/google/uuid"

// MarketsInitialized rolls a currency's markets into the current quarter:
// active liquidity is reclaimed, the liquidity account is settled, and new
// markets are seeded from its cash balance. Valid once per currency per
// quarter; a second roll in the same quarter is rejected by the handler.
type MarketsInitialized struct {
	RequestID uuid.UUID
	Currency  uint16
	Sequence  int64
	Timestamp int64
}

func (m *MarketsInitialized) IdempotencyKey() string {
	return m.RequestID.String()
}

func (m *MarketsInitialized) EventType() EventType {
	return EventTypeMarketsInitialized
}

func (m *MarketsInitialized) CurrencyID() *uint16 {
	c := m.Currency
	return &c
}

func (m *MarketsInitialized) SourceSequence() int64 {
	return m.Sequence
}

func (m *MarketsInitialized) BlockTime() int64 {
	return m.Timestamp
}
