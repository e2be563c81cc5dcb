package curve

import (
	"TermLedger/internal/market"
	fpmath "TermLedger/internal/math"
)

// Calculator executes trades against market state. The fee policy and
// solver budget are explicit so callers can run fee-free or with a tighter
// iteration cap.
type Calculator struct {
	Fee    FeePolicy
	Solver SolverConfig
}

// NewCalculator returns a Calculator with the exponential fee policy and
// the default solver configuration.
func NewCalculator() Calculator {
	return Calculator{Fee: ExponentialFee{}, Solver: DefaultSolverConfig()}
}

// CalculateTrade prices fCashToAccount (positive = lend, negative = borrow)
// against the market and returns the post-trade state, the signed cash flow
// to the account, and the fee cut owed to the reserve. The input state is
// never mutated; on error it is returned unchanged with zero cash flows.
//
// The account's cash flow, the market's cash flow, and the reserve fee
// always sum to zero exactly.
func (c Calculator) CalculateTrade(state market.State, cg market.CashGroup, fCashToAccount, timeToMaturity int64, marketIndex int) (market.State, int64, int64, error) {
	rateScalar, err := EffectiveRateScalar(cg.RateScalar(marketIndex), timeToMaturity)
	if err != nil {
		return state, 0, 0, err
	}

	rateAnchor, err := RateAnchor(state.TotalfCash, state.LastImpliedRate, state.TotalCash, rateScalar, timeToMaturity)
	if err != nil {
		return state, 0, 0, err
	}

	preFeeRate, err := ExchangeRate(state.TotalfCash, state.TotalCash, rateScalar, rateAnchor, fCashToAccount)
	if err != nil {
		return state, 0, 0, err
	}

	netCashToAccount, feeToReserve, err := c.cashFromRate(cg, preFeeRate, fCashToAccount, timeToMaturity)
	if err != nil {
		return state, 0, 0, err
	}
	netCashToMarket := -(netCashToAccount + feeToReserve)

	next := state
	next.TotalfCash -= fCashToAccount
	next.TotalCash += netCashToMarket

	// Recomputing the implied rate doubles as the post-trade reserve
	// check: a market drained of either reserve fails here before any
	// state is committed.
	impliedRate, err := ImpliedRate(next.TotalfCash, next.TotalCash, rateScalar, rateAnchor, timeToMaturity)
	if err != nil {
		return state, 0, 0, err
	}
	if impliedRate == 0 {
		return state, 0, 0, ErrDegenerateMarket
	}
	next.LastImpliedRate = impliedRate
	next.PreviousTradeTime = state.Maturity - timeToMaturity

	return next, netCashToAccount, feeToReserve, nil
}

// cashFromRate converts the pre-fee exchange rate into the account's cash
// flow and the reserve's share of the fee. The remainder of the fee stays
// in the market's cash reserve.
func (c Calculator) cashFromRate(cg market.CashGroup, preFeeRate, fCashToAccount, timeToMaturity int64) (int64, int64, error) {
	if fCashToAccount == 0 {
		return 0, 0, nil
	}
	preFeeCash := -fpmath.MulDivTrunc(fCashToAccount, fpmath.RatePrecision, preFeeRate)

	feeRate, err := c.Fee.FeeRate(cg.TotalFeeRate, timeToMaturity)
	if err != nil {
		return 0, 0, err
	}
	postFeeRate, err := postFeeExchangeRate(preFeeRate, feeRate, fCashToAccount > 0)
	if err != nil {
		return 0, 0, err
	}
	postFeeCash := -fpmath.MulDivTrunc(fCashToAccount, fpmath.RatePrecision, postFeeRate)

	fee := preFeeCash - postFeeCash
	feeToReserve := fee * cg.ReserveFeeShare / 100
	return postFeeCash, feeToReserve, nil
}
