package market

import (
	"fmt"

	fpmath "TermLedger/internal/math"
)

// State is the reserve state of a single fixed-rate market. Cash and fCash
// amounts use InternalTokenPrecision (1e8), rates use RatePrecision (1e9).
type State struct {
	CurrencyID        uint16
	Maturity          int64 // unix seconds, quarter aligned
	TotalfCash        int64
	TotalCash         int64
	TotalLiquidity    int64 // cash contributed by the liquidity account at the last seed
	LastImpliedRate   int64 // annualized rate set after every trade
	OracleRate        int64 // time-weighted blend toward LastImpliedRate
	PreviousTradeTime int64
}

// Key returns the map key used by the market manager.
func (s State) Key() string {
	return MarketKey(s.CurrencyID, s.Maturity)
}

// MarketKey is the canonical "currency:maturity" identifier.
func MarketKey(currencyID uint16, maturity int64) string {
	return fmt.Sprintf("%d:%d", currencyID, maturity)
}

// UpdateOracleRate blends the oracle toward the last traded implied rate.
// The weight ramps linearly over the oracle window, so a single trade moves
// the oracle only in proportion to the time elapsed since the previous one.
func (s *State) UpdateOracleRate(blockTime, window int64) {
	if window <= 0 || s.PreviousTradeTime <= 0 {
		s.OracleRate = s.LastImpliedRate
		return
	}

	elapsed := blockTime - s.PreviousTradeTime
	if elapsed < 0 {
		elapsed = 0
	}

	weight := fpmath.MulDivTrunc(elapsed, fpmath.RatePrecision, window)
	if weight >= fpmath.RatePrecision {
		s.OracleRate = s.LastImpliedRate
		return
	}

	newTerm := fpmath.MultiplyInt128(s.LastImpliedRate, weight)
	oldTerm := fpmath.MultiplyInt128(s.OracleRate, fpmath.RatePrecision-weight)
	newTerm.Add(newTerm, oldTerm)
	s.OracleRate = fpmath.DivideInt128(newTerm, fpmath.RatePrecision, fpmath.RoundHalfEven)
	fpmath.ReleaseInt128(oldTerm)
	fpmath.ReleaseInt128(newTerm)
}
