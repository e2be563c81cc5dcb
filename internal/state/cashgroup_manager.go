package state

import (
	"fmt"
	"sort"

	"TermLedger/internal/event"
	"TermLedger/internal/market"
)

// CashGroupManager manages per-currency curve parameters
type CashGroupManager struct {
	groups map[uint16]market.CashGroup
}

func NewCashGroupManager() *CashGroupManager {
	return &CashGroupManager{
		groups: make(map[uint16]market.CashGroup),
	}
}

// Apply validates and installs the parameters carried by a governance
// update. Existing parameters for the currency are replaced whole.
func (cm *CashGroupManager) Apply(evt *event.CashGroupUpdated) error {
	if evt.Params.CurrencyID != evt.Currency {
		return fmt.Errorf("cash group currency %d does not match event currency %d",
			evt.Params.CurrencyID, evt.Currency)
	}
	if err := evt.Params.Validate(); err != nil {
		return fmt.Errorf("invalid cash group for currency %d: %w", evt.Currency, err)
	}

	cm.groups[evt.Currency] = evt.Params
	return nil
}

// GetCashGroup returns the parameters for a currency
func (cm *CashGroupManager) GetCashGroup(currencyID uint16) (market.CashGroup, bool) {
	cg, ok := cm.groups[currencyID]
	return cg, ok
}

// SetCashGroup directly sets parameters (used for snapshot restore)
func (cm *CashGroupManager) SetCashGroup(cg market.CashGroup) {
	cm.groups[cg.CurrencyID] = cg
}

// GetAllCashGroups returns all parameters sorted by currency for
// deterministic iteration
func (cm *CashGroupManager) GetAllCashGroups() []market.CashGroup {
	result := make([]market.CashGroup, 0, len(cm.groups))
	for _, cg := range cm.groups {
		result = append(result, cg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CurrencyID < result[j].CurrencyID
	})
	return result
}

// CashGroupCanonicalBytes returns deterministic serialization of one cash
// group for hashing
func CashGroupCanonicalBytes(cg market.CashGroup) []byte {
	buf := make([]byte, 0, 256)

	// currency_id (2 bytes LE)
	buf = appendUint16LE(buf, cg.CurrencyID)

	// max_market_index (1 byte)
	buf = append(buf, byte(cg.MaxMarketIndex))

	// rate_oracle_time_window (8 bytes LE)
	buf = appendInt64LE(buf, cg.RateOracleTimeWindow)

	// total_fee_rate (8 bytes LE)
	buf = appendInt64LE(buf, cg.TotalFeeRate)

	// reserve_fee_share (8 bytes LE)
	buf = appendInt64LE(buf, cg.ReserveFeeShare)

	// per-market slices, each length-prefixed
	for _, values := range [][]int64{
		cg.RateScalars,
		cg.DepositShares,
		cg.LeverageThresholds,
		cg.TargetProportions,
		cg.InitialAnnualRates,
	} {
		buf = append(buf, byte(len(values)))
		for _, v := range values {
			buf = appendInt64LE(buf, v)
		}
	}

	return buf
}
