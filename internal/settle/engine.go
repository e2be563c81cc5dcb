package settle

import (
	"sort"

	"TermLedger/internal/market"
	"TermLedger/internal/portfolio"
)

// CashDelta is cash credited (positive) or debited (negative) to an account
// by settling matured fCash at par.
type CashDelta struct {
	CurrencyID uint16
	Amount     int64 // 1e8 internal token precision
}

// SettleAccount converts every position matured at or before the current
// quarter boundary into cash at par and re-anchors the bitmap, if any, to
// that boundary. Settlement is lazy: callers invoke it before every
// operation on the account, and once NextSettleTime has caught up with the
// boundary the call is a no-op. The portfolio is only mutated when the
// whole settlement succeeds.
func SettleAccount(ctx Context, p *portfolio.Portfolio, blockTime int64) (Context, []CashDelta, error) {
	tRef := market.TRef(blockTime)
	if ctx.NextSettleTime >= tRef {
		return ctx, nil, nil
	}

	cash := make(map[uint16]int64)

	kept := make([]portfolio.Asset, 0, len(p.Array.Items))
	for _, a := range p.Array.Items {
		if a.Maturity <= tRef {
			cash[a.CurrencyID] += a.Notional
		} else {
			kept = append(kept, a)
		}
	}

	var migrated *portfolio.Bitmap
	if p.Bitmap != nil {
		// Settle and re-anchor a scratch copy so a failed migration
		// leaves the account exactly as it was.
		migrated = portfolio.NewBitmap(p.Bitmap.CurrencyID, p.Bitmap.BaseTime)
		migrated.Bits = p.Bitmap.Bits
		for m, n := range p.Bitmap.Notionals {
			migrated.Notionals[m] = n
		}
		for m := range migrated.Notionals {
			if m <= tRef {
				cash[migrated.CurrencyID] += migrated.Remove(m)
			}
		}
		if err := migrated.Migrate(tRef); err != nil {
			return ctx, nil, err
		}
	}

	p.Array.Items = kept
	if migrated != nil {
		p.Bitmap = migrated
	}

	deltas := make([]CashDelta, 0, len(cash))
	for currencyID, amount := range cash {
		if amount == 0 {
			continue
		}
		deltas = append(deltas, CashDelta{CurrencyID: currencyID, Amount: amount})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].CurrencyID < deltas[j].CurrencyID })

	flags := ctx.Flags & HasCashDebt
	for _, d := range deltas {
		if d.Amount < 0 {
			flags |= HasCashDebt
		}
	}
	if p.HasNegativeNotional() {
		flags |= HasAssetDebt
	}

	ctx.Flags = flags
	ctx.NextSettleTime = tRef
	return ctx, deltas, nil
}
