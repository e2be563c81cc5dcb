package portfolio

import "sort"

// Portfolio is the composite of both asset encodings: a bounded sorted
// array for multi-currency accounts, plus at most one bitmap holding a
// single designated currency. Adds route by currency; everything else
// presents the merged view.
type Portfolio struct {
	Array  Array
	Bitmap *Bitmap
}

// EnableBitmap designates currencyID as this account's bitmap currency.
// It fails if a bitmap already exists or if the array already holds
// positions in that currency, since those positions could not be merged
// onto the grid retroactively.
func (p *Portfolio) EnableBitmap(currencyID uint16, baseTime int64) error {
	if p.Bitmap != nil {
		return ErrBitmapEnabled
	}
	for _, it := range p.Array.Items {
		if it.CurrencyID == currencyID {
			return ErrBitmapConflict
		}
	}
	p.Bitmap = NewBitmap(currencyID, baseTime)
	return nil
}

// Add merges notional into the position at (currencyID, maturity), routing
// to the bitmap when the currency matches its designated currency.
func (p *Portfolio) Add(currencyID uint16, maturity, notional int64) error {
	if p.Bitmap != nil && p.Bitmap.CurrencyID == currencyID {
		return p.Bitmap.Add(maturity, notional)
	}
	return p.Array.Add(currencyID, maturity, notional)
}

// Notional returns the signed position at (currencyID, maturity).
func (p *Portfolio) Notional(currencyID uint16, maturity int64) int64 {
	if p.Bitmap != nil && p.Bitmap.CurrencyID == currencyID {
		return p.Bitmap.Notional(maturity)
	}
	return p.Array.Notional(currencyID, maturity)
}

// Assets returns every position across both encodings, sorted by
// (currency, maturity).
func (p *Portfolio) Assets() []Asset {
	assets := make([]Asset, 0, len(p.Array.Items))
	assets = append(assets, p.Array.Items...)
	if p.Bitmap != nil {
		assets = append(assets, p.Bitmap.Assets()...)
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].CurrencyID != assets[j].CurrencyID {
			return assets[i].CurrencyID < assets[j].CurrencyID
		}
		return assets[i].Maturity < assets[j].Maturity
	})
	if len(assets) == 0 {
		return nil
	}
	return assets
}

// TotalNotional sums the signed notional held in currencyID across both
// encodings.
func (p *Portfolio) TotalNotional(currencyID uint16) int64 {
	sum := p.Array.TotalNotional(currencyID)
	if p.Bitmap != nil && p.Bitmap.CurrencyID == currencyID {
		sum += p.Bitmap.TotalNotional()
	}
	return sum
}

// HasNegativeNotional reports whether any position in any currency is an
// obligation. Settlement uses this to maintain the asset-debt flag.
func (p *Portfolio) HasNegativeNotional() bool {
	for _, it := range p.Array.Items {
		if it.Notional < 0 {
			return true
		}
	}
	if p.Bitmap != nil {
		for _, n := range p.Bitmap.Notionals {
			if n < 0 {
				return true
			}
		}
	}
	return false
}

// IsEmpty reports whether the portfolio holds no positions at all.
func (p *Portfolio) IsEmpty() bool {
	return len(p.Array.Items) == 0 && (p.Bitmap == nil || len(p.Bitmap.Notionals) == 0)
}

// Clone returns a deep copy sharing no state with the original. Callers
// run fallible multi-step mutations on the copy and swap it in only once
// every step has succeeded.
func (p *Portfolio) Clone() *Portfolio {
	out := &Portfolio{}
	if len(p.Array.Items) > 0 {
		out.Array.Items = append([]Asset(nil), p.Array.Items...)
	}
	if p.Bitmap != nil {
		b := NewBitmap(p.Bitmap.CurrencyID, p.Bitmap.BaseTime)
		b.Bits = p.Bitmap.Bits
		for maturity, notional := range p.Bitmap.Notionals {
			b.Notionals[maturity] = notional
		}
		out.Bitmap = b
	}
	return out
}
