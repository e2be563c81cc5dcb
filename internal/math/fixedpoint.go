// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"
)

// Fixed-point scales and time constants shared by the whole engine.
// These values are wire-compatible with the rate oracle and must not change.
const (
	// RatePrecision is the scale for rates, proportions, and exchange rates.
	RatePrecision int64 = 1_000_000_000

	// InternalTokenPrecision is the scale for cash and fCash notional amounts.
	InternalTokenPrecision int64 = 100_000_000

	// BasisPoint is one hundredth of a percent at RatePrecision scale.
	BasisPoint int64 = RatePrecision / 10_000

	// NormalizedRateTime is the 360-day annualization period in seconds.
	NormalizedRateTime int64 = 31_104_000

	SecondsInDay     int64 = 86_400
	SecondsInQuarter int64 = 90 * SecondsInDay
	SecondsInYear    int64 = 360 * SecondsInDay
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// ReleaseInt128 returns an intermediate produced by MultiplyInt128 to the pool.
func ReleaseInt128(v *big.Int) {
	putInt128(v)
}

type RoundingMode int

const (
	// RoundDown truncates toward zero, matching integer-division semantics
	// for signed values. This is the default for all curve math.
	RoundDown RoundingMode = iota
	// RoundHalfEven is banker's rounding, used for oracle rate blending.
	RoundHalfEven
)

// DivideInt128 performs numerator / denominator with the given rounding.
// The quotient is truncated toward zero; RoundHalfEven adjusts away from
// zero when the remainder magnitude reaches half the denominator.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)
	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		rem := remainder.Int64()
		if rem < 0 {
			rem = -rem
		}
		half := denominator / 2
		if denominator < 0 {
			half = -half
		}

		if rem > half {
			result = incrementAwayFromZero(numerator, result)
		} else if rem == half && denominator%2 == 0 && result%2 != 0 {
			result = incrementAwayFromZero(numerator, result)
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

func incrementAwayFromZero(numerator *big.Int, result int64) int64 {
	if numerator.Sign() < 0 {
		return result - 1
	}
	return result + 1
}

// MulDivTrunc computes a * b / denominator with truncation toward zero.
func MulDivTrunc(a, b, denominator int64) int64 {
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, denominator, RoundDown)
	putInt128(product)
	return result
}

// MulRatePrecision computes a * b / RatePrecision, truncated.
func MulRatePrecision(a, b int64) int64 {
	return MulDivTrunc(a, b, RatePrecision)
}

// DivRatePrecision computes a * RatePrecision / b, truncated.
func DivRatePrecision(a, b int64) int64 {
	return MulDivTrunc(a, RatePrecision, b)
}

// AbsInt64 returns |x|. Callers guarantee x != MinInt64.
func AbsInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
