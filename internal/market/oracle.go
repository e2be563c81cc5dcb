package market

import (
	fpmath "TermLedger/internal/math"
)

// InterpolateOracleRate linearly interpolates (or extrapolates) an oracle
// rate at targetMaturity from two reference markets. The quotient is
// truncated toward zero and the final value clamped non-negative, matching
// the integer convention used everywhere else in the curve.
func InterpolateOracleRate(shortMaturity, shortRate, longMaturity, longRate, targetMaturity int64) int64 {
	if longMaturity == shortMaturity {
		return fpmath.AbsInt64(shortRate)
	}
	numerator := fpmath.MultiplyInt128(longRate-shortRate, targetMaturity-shortMaturity)
	slope := fpmath.DivideInt128(numerator, longMaturity-shortMaturity, fpmath.RoundDown)
	fpmath.ReleaseInt128(numerator)
	return fpmath.AbsInt64(slope + shortRate)
}
