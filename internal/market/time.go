package market

import (
	"errors"

	fpmath "TermLedger/internal/math"
)

// MaxMarketIndex is the longest supported market tenor (20 years).
const MaxMarketIndex = 9

// marketQuarters maps market index (1-based) to the maturity offset from the
// reference time, in 90-day quarters: 3mo, 6mo, 1y, 2y, 5y, 7y, 10y, 15y, 20y.
var marketQuarters = [MaxMarketIndex]int64{1, 2, 4, 8, 20, 28, 40, 60, 80}

var ErrInvalidMarketIndex = errors.New("market: index out of range")

// TRef truncates a block time down to its quarter boundary. All tradable
// maturities and all settlement boundaries are derived from this anchor.
func TRef(blockTime int64) int64 {
	return blockTime - blockTime%fpmath.SecondsInQuarter
}

// MaturityForIndex returns the maturity of a market index relative to a
// quarter-aligned reference time.
func MaturityForIndex(tRef int64, marketIndex int) (int64, error) {
	if marketIndex < 1 || marketIndex > MaxMarketIndex {
		return 0, ErrInvalidMarketIndex
	}
	return tRef + marketQuarters[marketIndex-1]*fpmath.SecondsInQuarter, nil
}

// ActiveMaturities returns the maturities of all tradable markets at tRef,
// in ascending order.
func ActiveMaturities(tRef int64, maxMarketIndex int) []int64 {
	if maxMarketIndex > MaxMarketIndex {
		maxMarketIndex = MaxMarketIndex
	}
	maturities := make([]int64, 0, maxMarketIndex)
	for i := 1; i <= maxMarketIndex; i++ {
		maturities = append(maturities, tRef+marketQuarters[i-1]*fpmath.SecondsInQuarter)
	}
	return maturities
}

// TimeToMaturity returns the seconds remaining until maturity, or zero if
// the maturity has passed.
func TimeToMaturity(blockTime, maturity int64) int64 {
	if maturity <= blockTime {
		return 0
	}
	return maturity - blockTime
}
