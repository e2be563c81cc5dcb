package state

import (
	"github.com/google/uuid"

	"TermLedger/internal/portfolio"
	"TermLedger/internal/settle"
)

// Account is the event-sourced state of one account: the settlement
// context plus the fCash portfolio. Cash balances live in the ledger,
// keyed by the same account ID.
type Account struct {
	ID        uuid.UUID
	Context   settle.Context
	Portfolio portfolio.Portfolio
}

// CanonicalBytes returns deterministic serialization for hashing
func (a *Account) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// account_id (16 bytes UUID binary)
	buf = append(buf, a.ID[:]...)

	// next_settle_time (8 bytes LE)
	buf = appendInt64LE(buf, a.Context.NextSettleTime)

	// flags (1 byte)
	buf = append(buf, a.Context.Flags)

	// bitmap_currency_id (2 bytes LE)
	buf = appendUint16LE(buf, a.Context.BitmapCurrencyID)

	// bitmap base time (presence byte, then 8 bytes LE when present)
	if a.Portfolio.Bitmap != nil {
		buf = append(buf, 1)
		buf = appendInt64LE(buf, a.Portfolio.Bitmap.BaseTime)
	} else {
		buf = append(buf, 0)
	}

	// assets, count-prefixed, sorted by (currency, maturity)
	assets := a.Portfolio.Assets()
	buf = appendUint16LE(buf, uint16(len(assets)))
	for _, asset := range assets {
		buf = appendUint16LE(buf, asset.CurrencyID)
		buf = appendInt64LE(buf, asset.Maturity)
		buf = appendInt64LE(buf, asset.Notional)
	}

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendUint16LE(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}
