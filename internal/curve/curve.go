package curve

import (
	"errors"

	fpmath "TermLedger/internal/math"
)

var (
	// ErrProportionBounds rejects trades that would push the market
	// proportion outside the open (0, 1) interval.
	ErrProportionBounds = errors.New("curve: proportion out of bounds")
	// ErrLogarithm reports a logarithm of a non-positive value.
	ErrLogarithm = errors.New("curve: logarithm of non-positive value")
	// ErrRateOverflow reports an exchange rate that overflows int64.
	ErrRateOverflow = errors.New("curve: exchange rate overflow")
	// ErrMarketExpired rejects trades at or after maturity.
	ErrMarketExpired = errors.New("curve: market has matured")
	// ErrRateScalar reports a rate scalar that is zero or negative after
	// annualization.
	ErrRateScalar = errors.New("curve: effective rate scalar is not positive")
	// ErrSubParRate rejects lends whose fee would push the exchange rate
	// below par and invert the trade direction.
	ErrSubParRate = errors.New("curve: fee pushes exchange rate below par")
	// ErrDegenerateMarket rejects trades that leave the market with a zero
	// implied rate.
	ErrDegenerateMarket = errors.New("curve: trade degenerates market state")
	// ErrSolverDivergence reports that the inverse solver exhausted its
	// iteration budget without converging.
	ErrSolverDivergence = errors.New("curve: fcash solver failed to converge")
)

// LogProportion returns ln(proportion / (1 - proportion)) at RatePrecision,
// the logit term at the heart of the exchange rate. proportion must lie
// strictly inside (0, RatePrecision).
func LogProportion(proportion int64) (int64, error) {
	if proportion <= 0 || proportion >= fpmath.RatePrecision {
		return 0, ErrProportionBounds
	}
	ratio := fpmath.MulDivTrunc(proportion, fpmath.RatePrecision, fpmath.RatePrecision-proportion)
	result, ok := fpmath.NaturalLog(ratio)
	if !ok {
		return 0, ErrLogarithm
	}
	return result, nil
}

// ExchangeRate prices fCashToAccount against the market reserves:
//
//	rate = ln(p / (1-p)) / rateScalar + rateAnchor
//
// where p is the post-trade fCash proportion
// (totalfCash - fCashToAccount) / (totalfCash + totalCash - fCashToAccount).
// Positive fCashToAccount is a lend (the account receives fCash), negative a
// borrow. The rate is floored at par so a unit of fCash never costs more
// than a unit of cash.
func ExchangeRate(totalfCash, totalCash, rateScalar, rateAnchor, fCashToAccount int64) (int64, error) {
	numerator := totalfCash - fCashToAccount
	denominator := totalfCash + totalCash - fCashToAccount
	if numerator <= 0 || denominator <= numerator {
		return 0, ErrProportionBounds
	}

	proportion := fpmath.MulDivTrunc(numerator, fpmath.RatePrecision, denominator)
	logP, err := LogProportion(proportion)
	if err != nil {
		return 0, err
	}

	rate := logP/rateScalar + rateAnchor
	if rate < fpmath.RatePrecision {
		rate = fpmath.RatePrecision
	}
	return rate, nil
}

// ExchangeRateFromImpliedRate converts an annualized rate into the exchange
// rate a zero-coupon position at timeToMaturity implies:
// RatePrecision * e^(impliedRate * ttm / NormalizedRateTime).
func ExchangeRateFromImpliedRate(impliedRate, timeToMaturity int64) (int64, error) {
	exponent := fpmath.MulDivTrunc(impliedRate, timeToMaturity, fpmath.NormalizedRateTime)
	rate, ok := fpmath.NaturalExp(exponent)
	if !ok {
		return 0, ErrRateOverflow
	}
	return rate, nil
}

// RateAnchor recalibrates the curve's vertical offset so that the current
// proportion re-prices to the market's last traded implied rate at the new
// time to maturity. Without this shift the implied rate would drift as the
// maturity approaches, opening a riskless arbitrage against the market.
func RateAnchor(totalfCash, lastImpliedRate, totalCash, rateScalar, timeToMaturity int64) (int64, error) {
	rateAtProportion, err := ExchangeRateFromImpliedRate(lastImpliedRate, timeToMaturity)
	if err != nil {
		return 0, err
	}

	if totalfCash <= 0 || totalCash <= 0 {
		return 0, ErrProportionBounds
	}
	proportion := fpmath.MulDivTrunc(totalfCash, fpmath.RatePrecision, totalfCash+totalCash)
	logP, err := LogProportion(proportion)
	if err != nil {
		return 0, err
	}

	return rateAtProportion - logP/rateScalar, nil
}

// ImpliedRate annualizes the zero-trade exchange rate:
// ln(exchangeRate) * NormalizedRateTime / ttm. The result is never negative
// because exchange rates are floored at par.
func ImpliedRate(totalfCash, totalCash, rateScalar, rateAnchor, timeToMaturity int64) (int64, error) {
	rate, err := ExchangeRate(totalfCash, totalCash, rateScalar, rateAnchor, 0)
	if err != nil {
		return 0, err
	}
	lnRate, ok := fpmath.NaturalLog(rate)
	if !ok {
		return 0, ErrLogarithm
	}
	return fpmath.MulDivTrunc(lnRate, fpmath.NormalizedRateTime, timeToMaturity), nil
}

// EffectiveRateScalar annualizes a cash group's configured scalar for the
// trade horizon: scalar * NormalizedRateTime / ttm. Shorter maturities get a
// larger scalar and therefore a flatter curve, which keeps slippage for a
// given trade size consistent across tenors.
func EffectiveRateScalar(annualizedScalar, timeToMaturity int64) (int64, error) {
	if timeToMaturity <= 0 {
		return 0, ErrMarketExpired
	}
	if annualizedScalar <= 0 {
		return 0, ErrRateScalar
	}
	scalar := fpmath.MulDivTrunc(annualizedScalar, fpmath.NormalizedRateTime, timeToMaturity)
	if scalar <= 0 {
		return 0, ErrRateScalar
	}
	return scalar, nil
}
