package event

import (
	"github.com/google/uuid"

	"TermLedger/internal/market"
)

// CashGroupUpdated installs or replaces a currency's cash group
// parameters. Governance input: existing markets keep trading against the
// new parameters, and the next initialization seeds markets from them.
type CashGroupUpdated struct {
	RequestID uuid.UUID
	Currency  uint16
	Params    market.CashGroup
	Sequence  int64
	Timestamp int64
}

func (c *CashGroupUpdated) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *CashGroupUpdated) EventType() EventType {
	return EventTypeCashGroupUpdated
}

func (c *CashGroupUpdated) CurrencyID() *uint16 {
	id := c.Currency
	return &id
}

func (c *CashGroupUpdated) SourceSequence() int64 {
	return c.Sequence
}

func (c *CashGroupUpdated) BlockTime() int64 {
	return c.Timestamp
}
