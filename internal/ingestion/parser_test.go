package ingestion_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"TermLedger/internal/event"
	"TermLedger/internal/ingestion"
	"TermLedger/internal/market"

	"github.com/google/uuid"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseCashDeposited(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"currency":   uint16(1),
		"amount":     int64(100_00000000),
		"sequence":   int64(1),
		"block_time": int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CashDeposited")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := evt.(*event.CashDeposited)
	if !ok {
		t.Fatalf("expected *event.CashDeposited, got %T", evt)
	}

	if d.Currency != 1 {
		t.Errorf("currency: got %d, want 1", d.Currency)
	}
	if d.Amount != 100_00000000 {
		t.Errorf("amount: got %d, want 100_00000000", d.Amount)
	}
	if d.BlockTime() != 1_700_000_000 {
		t.Errorf("block_time: got %d, want 1_700_000_000", d.BlockTime())
	}
	if d.EventType() != event.EventTypeCashDeposited {
		t.Errorf("event type: got %v, want CashDeposited", d.EventType())
	}
}

func TestParseCashDeposited_NonPositiveAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"currency":   uint16(1),
		"amount":     int64(0),
		"sequence":   int64(1),
		"block_time": int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "CashDeposited"); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestParseCashWithdrawn(t *testing.T) {
	payload := map[string]interface{}{
		"withdrawal_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id":    "660e8400-e29b-41d4-a716-446655440001",
		"currency":      uint16(2),
		"amount":        int64(50_00000000),
		"sequence":      int64(7),
		"block_time":    int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CashWithdrawn")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	w, ok := evt.(*event.CashWithdrawn)
	if !ok {
		t.Fatalf("expected *event.CashWithdrawn, got %T", evt)
	}

	if w.Amount != 50_00000000 {
		t.Errorf("amount: got %d, want 50_00000000", w.Amount)
	}
	if w.SourceSequence() != 7 {
		t.Errorf("sequence: got %d, want 7", w.SourceSequence())
	}
}

func TestParseTradeExecuted_FCashLeg(t *testing.T) {
	payload := map[string]interface{}{
		"trade_id":     "550e8400-e29b-41d4-a716-446655440000",
		"account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"currency":     uint16(1),
		"market_index": 2,
		"fcash_amount": int64(10_00000000),
		"cash_amount":  int64(0),
		"sequence":     int64(42),
		"block_time":   int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TradeExecuted")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tr, ok := evt.(*event.TradeExecuted)
	if !ok {
		t.Fatalf("expected *event.TradeExecuted, got %T", evt)
	}

	if tr.MarketIndex != 2 {
		t.Errorf("market_index: got %d, want 2", tr.MarketIndex)
	}
	if tr.FCashAmount != 10_00000000 {
		t.Errorf("fcash_amount: got %d, want 10_00000000", tr.FCashAmount)
	}
	if tr.CashAmount != 0 {
		t.Errorf("cash_amount: got %d, want 0", tr.CashAmount)
	}
}

func TestParseTradeExecuted_BothLegs_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"trade_id":     "550e8400-e29b-41d4-a716-446655440000",
		"account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"currency":     uint16(1),
		"market_index": 1,
		"fcash_amount": int64(10_00000000),
		"cash_amount":  int64(-9_00000000),
		"sequence":     int64(1),
		"block_time":   int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "TradeExecuted"); err == nil {
		t.Fatal("expected error when both fcash_amount and cash_amount are set")
	}
}

func TestParseTradeExecuted_NeitherLeg_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"trade_id":     "550e8400-e29b-41d4-a716-446655440000",
		"account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"currency":     uint16(1),
		"market_index": 1,
		"fcash_amount": int64(0),
		"cash_amount":  int64(0),
		"sequence":     int64(1),
		"block_time":   int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "TradeExecuted"); err == nil {
		t.Fatal("expected error when neither leg is set")
	}
}

func TestParseFCashTransferred(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id":     "550e8400-e29b-41d4-a716-446655440000",
		"from_account_id": "660e8400-e29b-41d4-a716-446655440001",
		"to_account_id":   "770e8400-e29b-41d4-a716-446655440002",
		"currency":        uint16(1),
		"maturity":        int64(1_703_721_600),
		"notional":        int64(25_00000000),
		"sequence":        int64(3),
		"block_time":      int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FCashTransferred")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tr, ok := evt.(*event.FCashTransferred)
	if !ok {
		t.Fatalf("expected *event.FCashTransferred, got %T", evt)
	}

	if tr.Maturity != 1_703_721_600 {
		t.Errorf("maturity: got %d, want 1_703_721_600", tr.Maturity)
	}
	if tr.Notional != 25_00000000 {
		t.Errorf("notional: got %d, want 25_00000000", tr.Notional)
	}
}

func TestParseFCashTransferred_SelfTransfer_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id":     "550e8400-e29b-41d4-a716-446655440000",
		"from_account_id": "660e8400-e29b-41d4-a716-446655440001",
		"to_account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"currency":        uint16(1),
		"maturity":        int64(1_703_721_600),
		"notional":        int64(25_00000000),
		"sequence":        int64(3),
		"block_time":      int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "FCashTransferred"); err == nil {
		t.Fatal("expected error for self transfer")
	}
}

func TestParseAccountSettled(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "660e8400-e29b-41d4-a716-446655440001",
		"sequence":   int64(9),
		"block_time": int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "AccountSettled")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	s, ok := evt.(*event.AccountSettled)
	if !ok {
		t.Fatalf("expected *event.AccountSettled, got %T", evt)
	}
	if s.CurrencyID() != nil {
		t.Errorf("settlement should not bind to a currency, got %v", *s.CurrencyID())
	}
}

func TestParseCashGroupUpdated(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":              "550e8400-e29b-41d4-a716-446655440000",
		"currency":                uint16(1),
		"max_market_index":        2,
		"rate_oracle_time_window": int64(3600),
		"total_fee_rate":          int64(3_000_000),
		"reserve_fee_share":       int64(50),
		"rate_scalars":            []int64{100, 100},
		"deposit_shares":          []int64{60_000_000, 40_000_000},
		"leverage_thresholds":     []int64{800_000_000, 800_000_000},
		"target_proportions":      []int64{500_000_000, 500_000_000},
		"initial_annual_rates":    []int64{30_000_000, 30_000_000},
		"sequence":                int64(1),
		"block_time":              int64(1_700_000_000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CashGroupUpdated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cg, ok := evt.(*event.CashGroupUpdated)
	if !ok {
		t.Fatalf("expected *event.CashGroupUpdated, got %T", evt)
	}

	if cg.Params.MaxMarketIndex != 2 {
		t.Errorf("max_market_index: got %d, want 2", cg.Params.MaxMarketIndex)
	}
	if cg.Params.CurrencyID != 1 {
		t.Errorf("params currency: got %d, want 1", cg.Params.CurrencyID)
	}
	if len(cg.Params.RateScalars) != 2 {
		t.Errorf("rate_scalars: got %d entries, want 2", len(cg.Params.RateScalars))
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "TradeExecuted")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"trade_id":     "not-a-uuid",
		"account_id":   "also-not-a-uuid",
		"currency":     uint16(1),
		"market_index": 1,
		"fcash_amount": int64(1_00000000),
		"cash_amount":  int64(0),
		"sequence":     int64(0),
		"block_time":   int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "TradeExecuted")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestMarshalWireEvent_RoundTrips(t *testing.T) {
	deposit := &event.CashDeposited{
		DepositID: uuid.New(),
		AccountID: uuid.New(),
		Currency:  1,
		Amount:    100_00000000,
		Sequence:  4,
		Timestamp: 1_700_000_000,
	}
	withdrawal := &event.CashWithdrawn{
		WithdrawalID: uuid.New(),
		AccountID:    uuid.New(),
		Currency:     2,
		Amount:       50_00000000,
		Sequence:     5,
		Timestamp:    1_700_000_100,
	}
	trade := &event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   uuid.New(),
		Currency:    1,
		MarketIndex: 2,
		FCashAmount: 10_00000000,
		Sequence:    6,
		Timestamp:   1_700_000_200,
	}
	transfer := &event.FCashTransferred{
		TransferID:    uuid.New(),
		FromAccountID: uuid.New(),
		ToAccountID:   uuid.New(),
		Currency:      1,
		Maturity:      1_703_721_600,
		Notional:      25_00000000,
		Sequence:      7,
		Timestamp:     1_700_000_300,
	}
	settled := &event.AccountSettled{
		RequestID: uuid.New(),
		AccountID: uuid.New(),
		Sequence:  0,
		Timestamp: 1_700_000_400,
	}
	bitmap := &event.BitmapCurrencyEnabled{
		RequestID: uuid.New(),
		AccountID: uuid.New(),
		Currency:  1,
		Sequence:  8,
		Timestamp: 1_700_000_500,
	}
	marketInit := &event.MarketsInitialized{
		RequestID: uuid.New(),
		Currency:  1,
		Sequence:  9,
		Timestamp: 1_700_000_600,
	}
	cashGroup := &event.CashGroupUpdated{
		RequestID: uuid.New(),
		Currency:  1,
		Params: market.CashGroup{
			CurrencyID:           1,
			MaxMarketIndex:       2,
			RateOracleTimeWindow: 3600,
			TotalFeeRate:         3_000_000,
			ReserveFeeShare:      50,
			RateScalars:          []int64{100, 100},
			DepositShares:        []int64{60_000_000, 40_000_000},
			LeverageThresholds:   []int64{800_000_000, 800_000_000},
			TargetProportions:    []int64{500_000_000, 500_000_000},
			InitialAnnualRates:   []int64{30_000_000, 30_000_000},
		},
		Sequence:  10,
		Timestamp: 1_700_000_700,
	}

	events := []event.Event{deposit, withdrawal, trade, transfer, settled, bitmap, marketInit, cashGroup}
	for _, original := range events {
		data, err := ingestion.MarshalWireEvent(original)
		if err != nil {
			t.Fatalf("marshal %T: %v", original, err)
		}

		raw := ingestion.RawEvent{Subject: "test", Data: data, Timestamp: time.Now()}
		parsed, err := ingestion.ParseRawEvent(raw, original.EventType().String())
		if err != nil {
			t.Fatalf("reparse %T: %v", original, err)
		}

		if !reflect.DeepEqual(parsed, original) {
			t.Errorf("%T did not round-trip:\n got  %+v\n want %+v", original, parsed, original)
		}
	}
}

func TestMarshalWireEvent_UnknownType(t *testing.T) {
	if _, err := ingestion.MarshalWireEvent(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}
