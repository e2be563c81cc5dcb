package event

import "github.com/google/uuid"

// TradeExecuted lends or borrows against one of a currency's active
// markets. Exactly one of FCashAmount and CashAmount is non-zero: a
// specified fCash amount prices directly off the curve (positive = lend,
// negative = borrow), while a specified cash amount asks the engine to
// solve for the fCash that produces it (positive = borrow proceeds,
// negative = lend cost).
type TradeExecuted struct {
	TradeID     uuid.UUID // Idempotency key
	AccountID   uuid.UUID
	Currency    uint16
	MarketIndex int
	FCashAmount int64 // 1e8 scale, signed
	CashAmount  int64 // 1e8 scale, signed
	Sequence    int64 // Source sequence from upstream
	Timestamp   int64 // Versioned block time (epoch seconds)
}

func (t *TradeExecuted) IdempotencyKey() string {
	return t.TradeID.String()
}

func (t *TradeExecuted) EventType() EventType {
	return EventTypeTradeExecuted
}

func (t *TradeExecuted) CurrencyID() *uint16 {
	c := t.Currency
	return &c
}

func (t *TradeExecuted) SourceSequence() int64 {
	return t.Sequence
}

func (t *TradeExecuted) BlockTime() int64 {
	return t.Timestamp
}
