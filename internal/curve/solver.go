package curve

import (
	"math/big"

	"TermLedger/internal/market"
	fpmath "TermLedger/internal/math"
)

// SolverConfig bounds the Newton iteration in FCashGivenCashAmount.
type SolverConfig struct {
	MaxIterations int
	Tolerance     int64 // |G(x)| convergence bound, in cash units
}

func DefaultSolverConfig() SolverConfig {
	return SolverConfig{MaxIterations: 250, Tolerance: 1}
}

// FCashGivenCashAmount inverts CalculateTrade: it finds the fCash amount
// whose post-fee cash flow to the account equals netCashToAccount. Newton's
// method runs on
//
//	G(x) = x + netCashToAccount * postFeeRate(x) / RatePrecision
//
// seeded from the zero-trade exchange rate, or from seed when non-zero.
// Proposals that leave the curve's domain are pulled back toward zero, and
// proposals at or past the fCash reserve bisect toward the boundary. A
// result is returned only once |G| falls within tolerance; exhausting the
// iteration budget reports ErrSolverDivergence rather than a near answer.
func (c Calculator) FCashGivenCashAmount(state market.State, cg market.CashGroup, netCashToAccount int64, marketIndex int, timeToMaturity, seed int64) (int64, error) {
	if netCashToAccount == 0 {
		return 0, nil
	}

	rateScalar, err := EffectiveRateScalar(cg.RateScalar(marketIndex), timeToMaturity)
	if err != nil {
		return 0, err
	}
	rateAnchor, err := RateAnchor(state.TotalfCash, state.LastImpliedRate, state.TotalCash, rateScalar, timeToMaturity)
	if err != nil {
		return 0, err
	}
	feeRate, err := c.Fee.FeeRate(cg.TotalFeeRate, timeToMaturity)
	if err != nil {
		return 0, err
	}

	fCash := seed
	if fCash == 0 {
		zeroTradeRate, err := ExchangeRate(state.TotalfCash, state.TotalCash, rateScalar, rateAnchor, 0)
		if err != nil {
			return 0, err
		}
		postFeeRate, err := postFeeExchangeRate(zeroTradeRate, feeRate, netCashToAccount < 0)
		if err != nil {
			return 0, err
		}
		fCash = -fpmath.MulDivTrunc(netCashToAccount, postFeeRate, fpmath.RatePrecision)
	}
	if fCash >= state.TotalfCash {
		fCash = state.TotalfCash / 2
	}

	for i := 0; i < c.Solver.MaxIterations; i++ {
		preFeeRate, err := ExchangeRate(state.TotalfCash, state.TotalCash, rateScalar, rateAnchor, fCash)
		if err != nil {
			// Out of the curve's domain; pull the proposal halfway
			// back toward zero and retry.
			fCash /= 2
			continue
		}
		lend := fCash > 0 || (fCash == 0 && netCashToAccount < 0)
		postFeeRate, err := postFeeExchangeRate(preFeeRate, feeRate, lend)
		if err != nil {
			return 0, err
		}

		g := fCash + fpmath.MulDivTrunc(netCashToAccount, postFeeRate, fpmath.RatePrecision)
		if fpmath.AbsInt64(g) <= c.Solver.Tolerance {
			return fCash, nil
		}

		deriv := solverDerivative(netCashToAccount, feeRate, rateScalar, state.TotalfCash, fCash, lend)
		if deriv <= 0 {
			return 0, ErrSolverDivergence
		}
		step := fpmath.MulDivTrunc(g, fpmath.RatePrecision, deriv)
		if step == 0 {
			// Truncation stalled the iteration; force a unit step.
			if g > 0 {
				step = 1
			} else {
				step = -1
			}
		}

		next := fCash - step
		if next >= state.TotalfCash {
			next = (fCash + state.TotalfCash) / 2
		}
		fCash = next
	}
	return 0, ErrSolverDivergence
}

// solverDerivative computes G'(x) at RatePrecision scale. The post-fee
// exchange rate moves by -1/(rateScalar*(totalfCash-x)) per unit of fCash,
// divided by the fee rate for lends and multiplied by it for borrows.
func solverDerivative(netCashToAccount, feeRate, rateScalar, totalfCash, fCash int64, lend bool) int64 {
	reserve := totalfCash - fCash
	if reserve <= 0 {
		return 0
	}

	num := fpmath.MultiplyInt128(netCashToAccount, fpmath.RatePrecision)
	if lend {
		num.Mul(num, big.NewInt(fpmath.RatePrecision))
		num.Quo(num, big.NewInt(feeRate))
	} else {
		num.Mul(num, big.NewInt(feeRate))
		num.Quo(num, big.NewInt(fpmath.RatePrecision))
	}
	num.Quo(num, big.NewInt(rateScalar))
	term := fpmath.DivideInt128(num, reserve, fpmath.RoundDown)
	fpmath.ReleaseInt128(num)

	return fpmath.RatePrecision - term
}
