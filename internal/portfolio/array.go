package portfolio

import "sort"

// Array stores assets as a bounded slice sorted by (currency, maturity).
// Adds merge into existing positions and positions that net to zero are
// dropped, so the capacity bounds live positions, not trade count.
type Array struct {
	Capacity int
	Items    []Asset
}

func (a *Array) capacity() int {
	if a.Capacity <= 0 {
		return DefaultArrayCapacity
	}
	return a.Capacity
}

func (a *Array) search(currencyID uint16, maturity int64) int {
	return sort.Search(len(a.Items), func(i int) bool {
		it := a.Items[i]
		if it.CurrencyID != currencyID {
			return it.CurrencyID > currencyID
		}
		return it.Maturity >= maturity
	})
}

// Add merges notional into the position at (currencyID, maturity). A
// position netting to zero is removed. Adding a new position beyond
// capacity fails with ErrPortfolioFull and changes nothing.
func (a *Array) Add(currencyID uint16, maturity, notional int64) error {
	if notional == 0 {
		return nil
	}

	i := a.search(currencyID, maturity)
	if i < len(a.Items) && a.Items[i].CurrencyID == currencyID && a.Items[i].Maturity == maturity {
		a.Items[i].Notional += notional
		if a.Items[i].Notional == 0 {
			a.Items = append(a.Items[:i], a.Items[i+1:]...)
		}
		return nil
	}

	if len(a.Items) >= a.capacity() {
		return ErrPortfolioFull
	}
	a.Items = append(a.Items, Asset{})
	copy(a.Items[i+1:], a.Items[i:])
	a.Items[i] = Asset{CurrencyID: currencyID, Maturity: maturity, Notional: notional}
	return nil
}

// Remove deletes the position at (currencyID, maturity) and returns its
// notional, or zero when no position exists.
func (a *Array) Remove(currencyID uint16, maturity int64) int64 {
	i := a.search(currencyID, maturity)
	if i >= len(a.Items) || a.Items[i].CurrencyID != currencyID || a.Items[i].Maturity != maturity {
		return 0
	}
	notional := a.Items[i].Notional
	a.Items = append(a.Items[:i], a.Items[i+1:]...)
	return notional
}

// Notional returns the signed position at (currencyID, maturity).
func (a *Array) Notional(currencyID uint16, maturity int64) int64 {
	i := a.search(currencyID, maturity)
	if i >= len(a.Items) || a.Items[i].CurrencyID != currencyID || a.Items[i].Maturity != maturity {
		return 0
	}
	return a.Items[i].Notional
}

// TotalNotional sums the signed notional held in currencyID.
func (a *Array) TotalNotional(currencyID uint16) int64 {
	var sum int64
	for _, it := range a.Items {
		if it.CurrencyID == currencyID {
			sum += it.Notional
		}
	}
	return sum
}
