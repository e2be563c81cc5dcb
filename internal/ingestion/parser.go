package ingestion

import (
	"encoding/json"
	"fmt"

	"TermLedger/internal/event"
	"TermLedger/internal/market"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into
// a typed event.Event. The ingestion shell validates, parses, and converts
// raw commands before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "CashDeposited":
		return parseCashDeposited(raw.Data)
	case "CashWithdrawn":
		return parseCashWithdrawn(raw.Data)
	case "TradeExecuted":
		return parseTradeExecuted(raw.Data)
	case "FCashTransferred":
		return parseFCashTransferred(raw.Data)
	case "AccountSettled":
		return parseAccountSettled(raw.Data)
	case "BitmapCurrencyEnabled":
		return parseBitmapCurrencyEnabled(raw.Data)
	case "MarketsInitialized":
		return parseMarketsInitialized(raw.Data)
	case "CashGroupUpdated":
		return parseCashGroupUpdated(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// MarshalWireEvent serializes a typed event back into its wire JSON. The
// stored payload must round-trip through ParseRawEvent on replay, so this
// is the exact inverse of the parse functions below.
func MarshalWireEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.CashDeposited:
		return json.Marshal(depositJSON{
			DepositID: e.DepositID.String(),
			AccountID: e.AccountID.String(),
			Currency:  e.Currency,
			Amount:    e.Amount,
			Sequence:  e.Sequence,
			BlockTime: e.Timestamp,
		})
	case *event.CashWithdrawn:
		return json.Marshal(withdrawalJSON{
			WithdrawalID: e.WithdrawalID.String(),
			AccountID:    e.AccountID.String(),
			Currency:     e.Currency,
			Amount:       e.Amount,
			Sequence:     e.Sequence,
			BlockTime:    e.Timestamp,
		})
	case *event.TradeExecuted:
		return json.Marshal(tradeJSON{
			TradeID:     e.TradeID.String(),
			AccountID:   e.AccountID.String(),
			Currency:    e.Currency,
			MarketIndex: e.MarketIndex,
			FCashAmount: e.FCashAmount,
			CashAmount:  e.CashAmount,
			Sequence:    e.Sequence,
			BlockTime:   e.Timestamp,
		})
	case *event.FCashTransferred:
		return json.Marshal(transferJSON{
			TransferID:    e.TransferID.String(),
			FromAccountID: e.FromAccountID.String(),
			ToAccountID:   e.ToAccountID.String(),
			Currency:      e.Currency,
			Maturity:      e.Maturity,
			Notional:      e.Notional,
			Sequence:      e.Sequence,
			BlockTime:     e.Timestamp,
		})
	case *event.AccountSettled:
		return json.Marshal(settleJSON{
			RequestID: e.RequestID.String(),
			AccountID: e.AccountID.String(),
			Sequence:  e.Sequence,
			BlockTime: e.Timestamp,
		})
	case *event.BitmapCurrencyEnabled:
		return json.Marshal(bitmapJSON{
			RequestID: e.RequestID.String(),
			AccountID: e.AccountID.String(),
			Currency:  e.Currency,
			Sequence:  e.Sequence,
			BlockTime: e.Timestamp,
		})
	case *event.MarketsInitialized:
		return json.Marshal(marketInitJSON{
			RequestID: e.RequestID.String(),
			Currency:  e.Currency,
			Sequence:  e.Sequence,
			BlockTime: e.Timestamp,
		})
	case *event.CashGroupUpdated:
		return json.Marshal(cashGroupJSON{
			RequestID:            e.RequestID.String(),
			Currency:             e.Currency,
			MaxMarketIndex:       e.Params.MaxMarketIndex,
			RateOracleTimeWindow: e.Params.RateOracleTimeWindow,
			TotalFeeRate:         e.Params.TotalFeeRate,
			ReserveFeeShare:      e.Params.ReserveFeeShare,
			RateScalars:          e.Params.RateScalars,
			DepositShares:        e.Params.DepositShares,
			LeverageThresholds:   e.Params.LeverageThresholds,
			TargetProportions:    e.Params.TargetProportions,
			InitialAnnualRates:   e.Params.InitialAnnualRates,
			Sequence:             e.Sequence,
			BlockTime:            e.Timestamp,
		})
	default:
		return nil, fmt.Errorf("unknown event type %T", evt)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type depositJSON struct {
	DepositID string `json:"deposit_id"`
	AccountID string `json:"account_id"`
	Currency  uint16 `json:"currency"`
	Amount    int64  `json:"amount"`
	Sequence  int64  `json:"sequence"`
	BlockTime int64  `json:"block_time"`
}

func parseCashDeposited(data []byte) (*event.CashDeposited, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CashDeposited: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", j.Amount)
	}
	return &event.CashDeposited{
		DepositID: depositID,
		AccountID: accountID,
		Currency:  j.Currency,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.BlockTime,
	}, nil
}

type withdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	AccountID    string `json:"account_id"`
	Currency     uint16 `json:"currency"`
	Amount       int64  `json:"amount"`
	Sequence     int64  `json:"sequence"`
	BlockTime    int64  `json:"block_time"`
}

func parseCashWithdrawn(data []byte) (*event.CashWithdrawn, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CashWithdrawn: %w", err)
	}
	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %d", j.Amount)
	}
	return &event.CashWithdrawn{
		WithdrawalID: withdrawalID,
		AccountID:    accountID,
		Currency:     j.Currency,
		Amount:       j.Amount,
		Sequence:     j.Sequence,
		Timestamp:    j.BlockTime,
	}, nil
}

type tradeJSON struct {
	TradeID     string `json:"trade_id"`
	AccountID   string `json:"account_id"`
	Currency    uint16 `json:"currency"`
	MarketIndex int    `json:"market_index"`
	FCashAmount int64  `json:"fcash_amount"`
	CashAmount  int64  `json:"cash_amount"`
	Sequence    int64  `json:"sequence"`
	BlockTime   int64  `json:"block_time"`
}

func parseTradeExecuted(data []byte) (*event.TradeExecuted, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeExecuted: %w", err)
	}
	tradeID, err := uuid.Parse(j.TradeID)
	if err != nil {
		return nil, fmt.Errorf("parse trade_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	// Exactly one of fcash_amount and cash_amount drives the trade
	if (j.FCashAmount == 0) == (j.CashAmount == 0) {
		return nil, fmt.Errorf("exactly one of fcash_amount and cash_amount must be non-zero")
	}
	return &event.TradeExecuted{
		TradeID:     tradeID,
		AccountID:   accountID,
		Currency:    j.Currency,
		MarketIndex: j.MarketIndex,
		FCashAmount: j.FCashAmount,
		CashAmount:  j.CashAmount,
		Sequence:    j.Sequence,
		Timestamp:   j.BlockTime,
	}, nil
}

type transferJSON struct {
	TransferID    string `json:"transfer_id"`
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Currency      uint16 `json:"currency"`
	Maturity      int64  `json:"maturity"`
	Notional      int64  `json:"notional"`
	Sequence      int64  `json:"sequence"`
	BlockTime     int64  `json:"block_time"`
}

func parseFCashTransferred(data []byte) (*event.FCashTransferred, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FCashTransferred: %w", err)
	}
	transferID, err := uuid.Parse(j.TransferID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer_id: %w", err)
	}
	fromID, err := uuid.Parse(j.FromAccountID)
	if err != nil {
		return nil, fmt.Errorf("parse from_account_id: %w", err)
	}
	toID, err := uuid.Parse(j.ToAccountID)
	if err != nil {
		return nil, fmt.Errorf("parse to_account_id: %w", err)
	}
	if fromID == toID {
		return nil, fmt.Errorf("transfer to self")
	}
	if j.Notional <= 0 {
		return nil, fmt.Errorf("transfer notional must be positive, got %d", j.Notional)
	}
	return &event.FCashTransferred{
		TransferID:    transferID,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Currency:      j.Currency,
		Maturity:      j.Maturity,
		Notional:      j.Notional,
		Sequence:      j.Sequence,
		Timestamp:     j.BlockTime,
	}, nil
}

type settleJSON struct {
	RequestID string `json:"request_id"`
	AccountID string `json:"account_id"`
	Sequence  int64  `json:"sequence"`
	BlockTime int64  `json:"block_time"`
}

func parseAccountSettled(data []byte) (*event.AccountSettled, error) {
	var j settleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AccountSettled: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	return &event.AccountSettled{
		RequestID: requestID,
		AccountID: accountID,
		Sequence:  j.Sequence,
		Timestamp: j.BlockTime,
	}, nil
}

type bitmapJSON struct {
	RequestID string `json:"request_id"`
	AccountID string `json:"account_id"`
	Currency  uint16 `json:"currency"`
	Sequence  int64  `json:"sequence"`
	BlockTime int64  `json:"block_time"`
}

func parseBitmapCurrencyEnabled(data []byte) (*event.BitmapCurrencyEnabled, error) {
	var j bitmapJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BitmapCurrencyEnabled: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	return &event.BitmapCurrencyEnabled{
		RequestID: requestID,
		AccountID: accountID,
		Currency:  j.Currency,
		Sequence:  j.Sequence,
		Timestamp: j.BlockTime,
	}, nil
}

type marketInitJSON struct {
	RequestID string `json:"request_id"`
	Currency  uint16 `json:"currency"`
	Sequence  int64  `json:"sequence"`
	BlockTime int64  `json:"block_time"`
}

func parseMarketsInitialized(data []byte) (*event.MarketsInitialized, error) {
	var j marketInitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketsInitialized: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.MarketsInitialized{
		RequestID: requestID,
		Currency:  j.Currency,
		Sequence:  j.Sequence,
		Timestamp: j.BlockTime,
	}, nil
}

type cashGroupJSON struct {
	RequestID            string  `json:"request_id"`
	Currency             uint16  `json:"currency"`
	MaxMarketIndex       int     `json:"max_market_index"`
	RateOracleTimeWindow int64   `json:"rate_oracle_time_window"`
	TotalFeeRate         int64   `json:"total_fee_rate"`
	ReserveFeeShare      int64   `json:"reserve_fee_share"`
	RateScalars          []int64 `json:"rate_scalars"`
	DepositShares        []int64 `json:"deposit_shares"`
	LeverageThresholds   []int64 `json:"leverage_thresholds"`
	TargetProportions    []int64 `json:"target_proportions"`
	InitialAnnualRates   []int64 `json:"initial_annual_rates"`
	Sequence             int64   `json:"sequence"`
	BlockTime            int64   `json:"block_time"`
}

func parseCashGroupUpdated(data []byte) (*event.CashGroupUpdated, error) {
	var j cashGroupJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CashGroupUpdated: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.CashGroupUpdated{
		RequestID: requestID,
		Currency:  j.Currency,
		Params: market.CashGroup{
			CurrencyID:           j.Currency,
			MaxMarketIndex:       j.MaxMarketIndex,
			RateOracleTimeWindow: j.RateOracleTimeWindow,
			TotalFeeRate:         j.TotalFeeRate,
			ReserveFeeShare:      j.ReserveFeeShare,
			RateScalars:          j.RateScalars,
			DepositShares:        j.DepositShares,
			LeverageThresholds:   j.LeverageThresholds,
			TargetProportions:    j.TargetProportions,
			InitialAnnualRates:   j.InitialAnnualRates,
		},
		Sequence:  j.Sequence,
		Timestamp: j.BlockTime,
	}, nil
}
