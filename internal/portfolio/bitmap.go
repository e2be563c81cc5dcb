package portfolio

import (
	"sort"

	fpmath "TermLedger/internal/math"
)

// Bitmap grid boundaries, in days from the base time. The first 90 bits are
// daily, then 6-day weeks through day 360, 30-day months through day 2160,
// and 90-day quarters through day 7650 (~21 years).
const (
	maxDayBit   = 90
	maxWeekBit  = 135
	maxMonthBit = 195

	maxDayOffset     = 90
	maxWeekOffset    = 360
	maxMonthOffset   = 2160
	maxQuarterOffset = 7650
)

// Bitmap stores fCash positions of a single currency as set bits relative
// to a base time, one bit per addressable maturity, with notionals held in
// a side map. The invariant throughout: a bit is set if and only if its
// maturity has a non-zero notional.
type Bitmap struct {
	CurrencyID uint16
	BaseTime   int64
	Bits       [4]uint64
	Notionals  map[int64]int64
}

// NewBitmap returns an empty bitmap anchored at baseTime.
func NewBitmap(currencyID uint16, baseTime int64) *Bitmap {
	return &Bitmap{
		CurrencyID: currencyID,
		BaseTime:   baseTime,
		Notionals:  make(map[int64]int64),
	}
}

// BitNumFromMaturity maps a maturity onto the bitmap grid relative to
// baseTime. Bit numbers are 1-based. The maturity must be day-aligned with
// the base, strictly in the future, and land exactly on a grid point:
// off-grid days fail with ErrInvalidMaturity rather than rounding.
func BitNumFromMaturity(baseTime, maturity int64) (int, error) {
	diff := maturity - baseTime
	if diff <= 0 || diff%fpmath.SecondsInDay != 0 {
		return 0, ErrInvalidMaturity
	}
	days := diff / fpmath.SecondsInDay

	switch {
	case days <= maxDayOffset:
		return int(days), nil
	case days <= maxWeekOffset:
		if (days-maxDayOffset)%6 != 0 {
			return 0, ErrInvalidMaturity
		}
		return maxDayBit + int((days-maxDayOffset)/6), nil
	case days <= maxMonthOffset:
		if (days-maxWeekOffset)%30 != 0 {
			return 0, ErrInvalidMaturity
		}
		return maxWeekBit + int((days-maxWeekOffset)/30), nil
	case days <= maxQuarterOffset:
		if (days-maxMonthOffset)%90 != 0 {
			return 0, ErrInvalidMaturity
		}
		return maxMonthBit + int((days-maxMonthOffset)/90), nil
	}
	return 0, ErrBitmapRange
}

// MaturityFromBitNum is the exact inverse of BitNumFromMaturity.
func MaturityFromBitNum(baseTime int64, bitNum int) (int64, error) {
	if bitNum < 1 || bitNum > MaxBitmapBits {
		return 0, ErrBitmapRange
	}

	var days int64
	switch {
	case bitNum <= maxDayBit:
		days = int64(bitNum)
	case bitNum <= maxWeekBit:
		days = maxDayOffset + int64(bitNum-maxDayBit)*6
	case bitNum <= maxMonthBit:
		days = maxWeekOffset + int64(bitNum-maxWeekBit)*30
	default:
		days = maxMonthOffset + int64(bitNum-maxMonthBit)*90
	}
	return baseTime + days*fpmath.SecondsInDay, nil
}

// Bit 1 is the most significant bit of word 0.
func bitMask(bitNum int) (word int, mask uint64) {
	idx := bitNum - 1
	return idx / 64, 1 << (63 - uint(idx)%64)
}

// IsBitSet reports whether bitNum (1-based) is set.
func (b *Bitmap) IsBitSet(bitNum int) bool {
	if bitNum < 1 || bitNum > MaxBitmapBits {
		return false
	}
	word, mask := bitMask(bitNum)
	return b.Bits[word]&mask != 0
}

func (b *Bitmap) setBit(bitNum int) {
	word, mask := bitMask(bitNum)
	b.Bits[word] |= mask
}

func (b *Bitmap) clearBit(bitNum int) {
	word, mask := bitMask(bitNum)
	b.Bits[word] &^= mask
}

// Add accumulates notional at maturity, setting or clearing the maturity's
// bit to keep it in lockstep with the notional map.
func (b *Bitmap) Add(maturity, notional int64) error {
	if notional == 0 {
		return nil
	}
	bitNum, err := BitNumFromMaturity(b.BaseTime, maturity)
	if err != nil {
		return err
	}

	if b.Notionals == nil {
		b.Notionals = make(map[int64]int64)
	}
	next := b.Notionals[maturity] + notional
	if next == 0 {
		delete(b.Notionals, maturity)
		b.clearBit(bitNum)
		return nil
	}
	b.Notionals[maturity] = next
	b.setBit(bitNum)
	return nil
}

// Remove deletes the position at maturity and returns its notional.
func (b *Bitmap) Remove(maturity int64) int64 {
	notional, ok := b.Notionals[maturity]
	if !ok {
		return 0
	}
	delete(b.Notionals, maturity)
	if bitNum, err := BitNumFromMaturity(b.BaseTime, maturity); err == nil {
		b.clearBit(bitNum)
	}
	return notional
}

// Notional returns the signed position at maturity.
func (b *Bitmap) Notional(maturity int64) int64 {
	return b.Notionals[maturity]
}

// Assets returns the bitmap's positions sorted by maturity.
func (b *Bitmap) Assets() []Asset {
	if len(b.Notionals) == 0 {
		return nil
	}
	maturities := make([]int64, 0, len(b.Notionals))
	for m := range b.Notionals {
		maturities = append(maturities, m)
	}
	sort.Slice(maturities, func(i, j int) bool { return maturities[i] < maturities[j] })

	assets := make([]Asset, 0, len(maturities))
	for _, m := range maturities {
		assets = append(assets, Asset{CurrencyID: b.CurrencyID, Maturity: m, Notional: b.Notionals[m]})
	}
	return assets
}

// TotalNotional sums the bitmap's signed notional.
func (b *Bitmap) TotalNotional() int64 {
	var sum int64
	for _, n := range b.Notionals {
		sum += n
	}
	return sum
}

// Migrate re-anchors every position against newBaseTime. The whole
// migration is validated into a fresh bit set first; any position that no
// longer lands on the grid (or has passed the new base) fails the entire
// call and leaves the bitmap untouched, so notional is never dropped on a
// roll.
func (b *Bitmap) Migrate(newBaseTime int64) error {
	var bits [4]uint64
	for maturity := range b.Notionals {
		bitNum, err := BitNumFromMaturity(newBaseTime, maturity)
		if err != nil {
			return err
		}
		word, mask := bitMask(bitNum)
		bits[word] |= mask
	}
	b.Bits = bits
	b.BaseTime = newBaseTime
	return nil
}
