package market

import (
	"fmt"

	fpmath "TermLedger/internal/math"
)

// CashGroup holds the per-currency curve and initialization parameters. The
// core treats it as an immutable snapshot; governance updates replace the
// whole value.
type CashGroup struct {
	CurrencyID           uint16
	MaxMarketIndex       int
	RateOracleTimeWindow int64   // seconds over which the oracle rate ramps
	TotalFeeRate         int64   // annualized trading fee (RatePrecision)
	ReserveFeeShare      int64   // percent of the fee kept by the reserve
	RateScalars          []int64 // annualized curve slope per market index
	DepositShares        []int64 // seed cash split (InternalTokenPrecision, sums to 1e8)
	LeverageThresholds   []int64 // proportion cap per market index (RatePrecision)
	TargetProportions    []int64 // seed proportion per market index (RatePrecision)
	InitialAnnualRates   []int64 // first-initialization rates (RatePrecision)
}

func (cg CashGroup) index(marketIndex int, values []int64) int64 {
	if marketIndex < 1 || marketIndex > len(values) {
		return 0
	}
	return values[marketIndex-1]
}

// RateScalar returns the annualized curve slope for a market index, or zero
// when the index is out of range.
func (cg CashGroup) RateScalar(marketIndex int) int64 {
	return cg.index(marketIndex, cg.RateScalars)
}

func (cg CashGroup) DepositShare(marketIndex int) int64 {
	return cg.index(marketIndex, cg.DepositShares)
}

func (cg CashGroup) LeverageThreshold(marketIndex int) int64 {
	return cg.index(marketIndex, cg.LeverageThresholds)
}

func (cg CashGroup) TargetProportion(marketIndex int) int64 {
	return cg.index(marketIndex, cg.TargetProportions)
}

func (cg CashGroup) InitialAnnualRate(marketIndex int) int64 {
	return cg.index(marketIndex, cg.InitialAnnualRates)
}

// Validate checks that the cash group parameters are internally consistent:
// every per-market slice covers MaxMarketIndex entries, deposit shares sum
// to one, and proportions stay inside the curve's open (0, 1) interval.
func (cg CashGroup) Validate() error {
	if cg.CurrencyID == 0 {
		return fmt.Errorf("currency id must be non-zero")
	}
	if cg.MaxMarketIndex < 1 || cg.MaxMarketIndex > MaxMarketIndex {
		return fmt.Errorf("max market index must be in [1, %d], got %d", MaxMarketIndex, cg.MaxMarketIndex)
	}
	if cg.RateOracleTimeWindow <= 0 {
		return fmt.Errorf("rate oracle time window must be > 0, got %d", cg.RateOracleTimeWindow)
	}
	if cg.TotalFeeRate < 0 {
		return fmt.Errorf("total fee rate must be >= 0, got %d", cg.TotalFeeRate)
	}
	if cg.ReserveFeeShare < 0 || cg.ReserveFeeShare > 100 {
		return fmt.Errorf("reserve fee share must be in [0, 100], got %d", cg.ReserveFeeShare)
	}

	for _, s := range [...]struct {
		name   string
		values []int64
	}{
		{"rate scalars", cg.RateScalars},
		{"deposit shares", cg.DepositShares},
		{"leverage thresholds", cg.LeverageThresholds},
		{"target proportions", cg.TargetProportions},
		{"initial annual rates", cg.InitialAnnualRates},
	} {
		if len(s.values) < cg.MaxMarketIndex {
			return fmt.Errorf("%s cover %d markets, need %d", s.name, len(s.values), cg.MaxMarketIndex)
		}
	}

	var shareSum int64
	for i := 1; i <= cg.MaxMarketIndex; i++ {
		if cg.RateScalar(i) <= 0 {
			return fmt.Errorf("rate scalar for market %d must be > 0, got %d", i, cg.RateScalar(i))
		}
		if p := cg.TargetProportion(i); p <= 0 || p >= fpmath.RatePrecision {
			return fmt.Errorf("target proportion for market %d must be in (0, %d), got %d", i, fpmath.RatePrecision, p)
		}
		if lt := cg.LeverageThreshold(i); lt <= 0 || lt >= fpmath.RatePrecision {
			return fmt.Errorf("leverage threshold for market %d must be in (0, %d), got %d", i, fpmath.RatePrecision, lt)
		}
		if r := cg.InitialAnnualRate(i); r <= 0 {
			return fmt.Errorf("initial annual rate for market %d must be > 0, got %d", i, r)
		}
		shareSum += cg.DepositShare(i)
	}
	if shareSum != fpmath.InternalTokenPrecision {
		return fmt.Errorf("deposit shares must sum to %d, got %d", fpmath.InternalTokenPrecision, shareSum)
	}
	return nil
}
