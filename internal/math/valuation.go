package math

import "errors"

var ErrDiscountOverflow = errors.New("discount factor out of range")

// PresentValue discounts an fCash notional to today using continuous
// compounding at the given annualized oracle rate:
//
//	pv = notional * e^(-oracleRate * ttm / NormalizedRateTime)
//
// Matured positions (ttm <= 0) are worth par. The sign of the notional is
// preserved, so borrow positions discount to a negative present value.
func PresentValue(notional, oracleRate, timeToMaturity int64) (int64, error) {
	if notional == 0 {
		return 0, nil
	}
	if timeToMaturity <= 0 {
		return notional, nil
	}

	exponent := MulDivTrunc(oracleRate, timeToMaturity, NormalizedRateTime)
	discount, ok := NaturalExp(-exponent)
	if !ok {
		return 0, ErrDiscountOverflow
	}

	return MulDivTrunc(notional, discount, RatePrecision), nil
}
