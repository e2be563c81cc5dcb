package curve

import (
	fpmath "TermLedger/internal/math"
)

// FeePolicy converts a cash group's annualized fee into the multiplicative
// rate applied to a trade's exchange rate. Implementations must return a
// value >= RatePrecision.
type FeePolicy interface {
	FeeRate(annualFeeRate, timeToMaturity int64) (int64, error)
}

// ExponentialFee compounds the annualized fee over the trade horizon, the
// same way an implied rate converts to an exchange rate. Longer maturities
// therefore pay proportionally more fee, matching the larger rate risk they
// transfer to the market.
type ExponentialFee struct{}

func (ExponentialFee) FeeRate(annualFeeRate, timeToMaturity int64) (int64, error) {
	return ExchangeRateFromImpliedRate(annualFeeRate, timeToMaturity)
}

// NoFee prices every trade at the raw curve rate.
type NoFee struct{}

func (NoFee) FeeRate(int64, int64) (int64, error) {
	return fpmath.RatePrecision, nil
}

// postFeeExchangeRate applies the directional fee: lends divide the pre-fee
// rate (the lender receives a worse price), borrows multiply it. A lend
// whose post-fee rate would cross below par is rejected outright rather
// than clamped, since clamping would let the fee invert the trade.
func postFeeExchangeRate(preFeeRate, feeRate int64, lend bool) (int64, error) {
	if lend {
		rate := fpmath.MulDivTrunc(preFeeRate, fpmath.RatePrecision, feeRate)
		if rate < fpmath.RatePrecision {
			return 0, ErrSubParRate
		}
		return rate, nil
	}
	return fpmath.MulDivTrunc(preFeeRate, feeRate, fpmath.RatePrecision), nil
}
