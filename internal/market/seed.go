package market

import (
	"errors"
	"fmt"

	fpmath "TermLedger/internal/math"
)

// ErrInsufficientCash is returned when the liquidity balance cannot seed
// every market in the cash group with a non-zero reserve.
var ErrInsufficientCash = errors.New("market: insufficient cash to seed markets")

// SeedMarkets builds the market set for the quarter containing blockTime.
// netCash is split across maturities by deposit share; each market is seeded
// at min(target proportion, leverage threshold) so that fCash/(fCash+cash)
// lands on the configured point of the curve. previous is the prior
// quarter's full market set ascending by maturity, including the
// just-matured three-month market; it supplies the rate history for the
// roll. The caller owns all resulting cash and fCash obligations.
func SeedMarkets(cg CashGroup, previous []State, netCash, blockTime int64) ([]State, error) {
	if err := cg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cash group %d: %w", cg.CurrencyID, err)
	}
	if netCash <= 0 {
		return nil, ErrInsufficientCash
	}

	tRef := TRef(blockTime)
	seeded := make([]State, 0, cg.MaxMarketIndex)
	for i := 1; i <= cg.MaxMarketIndex; i++ {
		cash := fpmath.MulDivTrunc(netCash, cg.DepositShare(i), fpmath.InternalTokenPrecision)
		if cash <= 0 {
			return nil, fmt.Errorf("market %d: %w", i, ErrInsufficientCash)
		}

		proportion := cg.TargetProportion(i)
		if lt := cg.LeverageThreshold(i); proportion > lt {
			proportion = lt
		}
		fCash := fpmath.MulDivTrunc(cash, proportion, fpmath.RatePrecision-proportion)
		if fCash <= 0 {
			return nil, fmt.Errorf("market %d: %w", i, ErrInsufficientCash)
		}

		lastRate, oracleRate := rollRate(cg, previous, seeded, i)
		if lastRate <= 0 || oracleRate <= 0 {
			return nil, fmt.Errorf("market %d: no oracle rate available", i)
		}

		maturity, err := MaturityForIndex(tRef, i)
		if err != nil {
			return nil, err
		}

		seeded = append(seeded, State{
			CurrencyID:        cg.CurrencyID,
			Maturity:          maturity,
			TotalfCash:        fCash,
			TotalCash:         cash,
			TotalLiquidity:    cash,
			LastImpliedRate:   lastRate,
			OracleRate:        oracleRate,
			PreviousTradeTime: blockTime,
		})
	}
	return seeded, nil
}

// rollRate resolves the implied and oracle rates for a market index from the
// prior quarter's markets. The new three-month maturity coincides with the
// old six-month maturity, so its rates carry over directly; the new
// six-month rate interpolates between the old six-month and one-year
// markets; longer tenors extrapolate from the adjacent new market and their
// old selves. Indices with no usable history fall back to the configured
// initial rate, then to the nearest shorter market.
func rollRate(cg CashGroup, previous, seeded []State, marketIndex int) (int64, int64) {
	prev := func(j int) (State, bool) {
		if j >= 0 && j < len(previous) && previous[j].OracleRate > 0 {
			return previous[j], true
		}
		return State{}, false
	}

	idx := marketIndex - 1
	switch {
	case idx == 0:
		if p, ok := prev(1); ok {
			return p.LastImpliedRate, p.OracleRate
		}
	case idx == 1:
		if short, ok := prev(1); ok {
			if long, ok := prev(2); ok {
				r := InterpolateOracleRate(
					short.Maturity, short.OracleRate,
					long.Maturity, long.OracleRate,
					short.Maturity+fpmath.SecondsInQuarter,
				)
				return r, r
			}
		}
	default:
		if long, ok := prev(idx); ok && len(seeded) == idx {
			short := seeded[idx-1]
			r := InterpolateOracleRate(
				short.Maturity, short.OracleRate,
				long.Maturity, long.OracleRate,
				long.Maturity+fpmath.SecondsInQuarter,
			)
			return r, r
		}
	}

	if r := cg.InitialAnnualRate(marketIndex); r > 0 {
		return r, r
	}
	if len(seeded) > 0 {
		s := seeded[len(seeded)-1]
		return s.LastImpliedRate, s.OracleRate
	}
	return 0, 0
}
