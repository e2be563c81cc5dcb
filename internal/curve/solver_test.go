package curve_test

import (
	"errors"
	"testing"

	"TermLedger/internal/curve"
	"TermLedger/internal/market"
	fpmath "TermLedger/internal/math"
)

// ============================================================================
// Test: FCashGivenCashAmount
// ============================================================================

func TestFCashGivenCashAmount_RoundTrip(t *testing.T) {
	calc := curve.NewCalculator()
	cg := testCashGroup()
	maturities := market.ActiveMaturities(0, 9)

	proportions := []int64{330_000_000, 500_000_000, 660_000_000}
	impliedRates := []int64{20_000_000, 60_000_000, 200_000_000}
	cashAmounts := []int64{-1e16, -1e12, -1e8, 1e8, 1e12, 1e16}

	for _, marketIndex := range []int{1, 2, 5, 9} {
		ttm := maturities[marketIndex-1]
		for _, p := range proportions {
			for _, rate := range impliedRates {
				totalfCash := int64(1e18)
				state := market.State{
					CurrencyID:      1,
					Maturity:        ttm,
					TotalfCash:      totalfCash,
					TotalCash:       fpmath.MulDivTrunc(totalfCash, fpmath.RatePrecision-p, p),
					LastImpliedRate: rate,
				}
				for _, cash := range cashAmounts {
					fCash, err := calc.FCashGivenCashAmount(state, cg, cash, marketIndex, ttm, 0)
					if err != nil {
						t.Fatalf("idx=%d p=%d rate=%d cash=%d: solver: %v", marketIndex, p, rate, cash, err)
					}
					_, gotCash, _, err := calc.CalculateTrade(state, cg, fCash, ttm, marketIndex)
					if err != nil {
						t.Fatalf("idx=%d p=%d rate=%d cash=%d: trade at solved fcash %d: %v", marketIndex, p, rate, cash, fCash, err)
					}
					if diff := fpmath.AbsInt64(gotCash - cash); diff > 2 {
						t.Errorf("idx=%d p=%d rate=%d cash=%d: round trip got %d (diff %d)", marketIndex, p, rate, cash, gotCash, diff)
					}
				}
			}
		}
	}
}

func TestFCashGivenCashAmount_ZeroCash(t *testing.T) {
	calc := curve.NewCalculator()
	cg := testCashGroup()
	state := tradeFixture()

	fCash, err := calc.FCashGivenCashAmount(state, cg, 0, 1, fpmath.SecondsInQuarter, 0)
	if err != nil {
		t.Fatalf("FCashGivenCashAmount: %v", err)
	}
	if fCash != 0 {
		t.Errorf("got %d, want 0", fCash)
	}
}

func TestFCashGivenCashAmount_CallerSeed(t *testing.T) {
	calc := curve.NewCalculator()
	cg := testCashGroup()
	state := tradeFixture()
	state.TotalfCash = 1e18
	state.TotalCash = 1e18
	ttm := fpmath.SecondsInQuarter
	cash := int64(-1e12)

	exact, err := calc.FCashGivenCashAmount(state, cg, cash, 1, ttm, 0)
	if err != nil {
		t.Fatalf("unseeded solve: %v", err)
	}

	// A nearby seed must converge to the same cash flow.
	seeded, err := calc.FCashGivenCashAmount(state, cg, cash, 1, ttm, exact+50_000)
	if err != nil {
		t.Fatalf("seeded solve: %v", err)
	}
	_, gotCash, _, err := calc.CalculateTrade(state, cg, seeded, ttm, 1)
	if err != nil {
		t.Fatalf("trade at seeded solution: %v", err)
	}
	if diff := fpmath.AbsInt64(gotCash - cash); diff > 2 {
		t.Errorf("seeded round trip got %d (diff %d)", gotCash, diff)
	}
}

func TestFCashGivenCashAmount_DivergenceReported(t *testing.T) {
	calc := feeFree()
	cg := testCashGroup()
	state := tradeFixture()
	state.TotalfCash = 1e18
	state.TotalCash = 1e18

	// No fCash amount inside the reserve can absorb three times the
	// market's entire fCash side; the solver must say so rather than
	// return a boundary answer.
	_, err := calc.FCashGivenCashAmount(state, cg, -3e18, 1, fpmath.SecondsInQuarter, 0)
	if !errors.Is(err, curve.ErrSolverDivergence) {
		t.Errorf("got %v, want ErrSolverDivergence", err)
	}
}

func TestFCashGivenCashAmount_SubParLendRejected(t *testing.T) {
	calc := curve.NewCalculator()
	cg := testCashGroup()
	state := tradeFixture()
	state.LastImpliedRate = 1_000 // essentially a zero-rate market

	// At par the trading fee would push a lend below an exchange rate of
	// one, so the solve fails up front.
	_, err := calc.FCashGivenCashAmount(state, cg, -1e10, 1, fpmath.SecondsInQuarter, 0)
	if !errors.Is(err, curve.ErrSubParRate) {
		t.Errorf("got %v, want ErrSubParRate", err)
	}
}
