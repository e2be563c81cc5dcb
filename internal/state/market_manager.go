package state

import (
	"sort"

	"TermLedger/internal/market"
)

// MarketManager holds live market reserve states keyed by currency and
// maturity. Markets enter on initialization, trade in place, and leave
// when the next initialization reclaims them.
type MarketManager struct {
	markets map[string]*market.State
}

func NewMarketManager() *MarketManager {
	return &MarketManager{
		markets: make(map[string]*market.State),
	}
}

// GetMarket returns the market at (currencyID, maturity) or nil
func (mm *MarketManager) GetMarket(currencyID uint16, maturity int64) *market.State {
	return mm.markets[market.MarketKey(currencyID, maturity)]
}

// PutMarket inserts or replaces a market state
func (mm *MarketManager) PutMarket(s *market.State) {
	mm.markets[s.Key()] = s
}

// RemoveMarket drops the market at (currencyID, maturity)
func (mm *MarketManager) RemoveMarket(currencyID uint16, maturity int64) {
	delete(mm.markets, market.MarketKey(currencyID, maturity))
}

// MarketsForCurrency returns one currency's markets sorted by maturity.
// Between initializations this is exactly the active set.
func (mm *MarketManager) MarketsForCurrency(currencyID uint16) []*market.State {
	result := make([]*market.State, 0, market.MaxMarketIndex)
	for _, s := range mm.markets {
		if s.CurrencyID == currencyID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Maturity < result[j].Maturity
	})
	return result
}

// GetAllMarkets returns all markets sorted by currency then maturity for
// deterministic iteration
func (mm *MarketManager) GetAllMarkets() []*market.State {
	result := make([]*market.State, 0, len(mm.markets))
	for _, s := range mm.markets {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CurrencyID != result[j].CurrencyID {
			return result[i].CurrencyID < result[j].CurrencyID
		}
		return result[i].Maturity < result[j].Maturity
	})
	return result
}

// Count returns the number of live markets
func (mm *MarketManager) Count() int {
	return len(mm.markets)
}

// MarketCanonicalBytes returns deterministic serialization of one market
// for hashing
func MarketCanonicalBytes(s *market.State) []byte {
	buf := make([]byte, 0, 64)

	// currency_id (2 bytes LE)
	buf = appendUint16LE(buf, s.CurrencyID)

	// maturity (8 bytes LE)
	buf = appendInt64LE(buf, s.Maturity)

	// total_fcash (8 bytes LE)
	buf = appendInt64LE(buf, s.TotalfCash)

	// total_cash (8 bytes LE)
	buf = appendInt64LE(buf, s.TotalCash)

	// total_liquidity (8 bytes LE)
	buf = appendInt64LE(buf, s.TotalLiquidity)

	// last_implied_rate (8 bytes LE)
	buf = appendInt64LE(buf, s.LastImpliedRate)

	// oracle_rate (8 bytes LE)
	buf = appendInt64LE(buf, s.OracleRate)

	// previous_trade_time (8 bytes LE)
	buf = appendInt64LE(buf, s.PreviousTradeTime)

	return buf
}
