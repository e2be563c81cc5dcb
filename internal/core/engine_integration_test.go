package core_test

import (
	"testing"

	"TermLedger/internal/core"
	"TermLedger/internal/event"
	"TermLedger/internal/ledger"
	"TermLedger/internal/market"
	fpmath "TermLedger/internal/math"
	"TermLedger/internal/settle"
	"TermLedger/internal/state"

	"github.com/google/uuid"
)

// --- Test helpers ---

const testCurrency uint16 = 1

// Quarter 250 keeps maturities well away from epoch-zero edge cases.
var baseTime = int64(250)*fpmath.SecondsInQuarter + 100

func testCashGroup() market.CashGroup {
	return market.CashGroup{
		CurrencyID:           testCurrency,
		MaxMarketIndex:       3,
		RateOracleTimeWindow: 3600,
		TotalFeeRate:         30 * fpmath.BasisPoint,
		ReserveFeeShare:      50,
		RateScalars:          []int64{100, 100, 100},
		DepositShares:        []int64{40_000_000, 35_000_000, 25_000_000},
		LeverageThresholds:   []int64{800_000_000, 800_000_000, 800_000_000},
		TargetProportions:    []int64{500_000_000, 500_000_000, 500_000_000},
		InitialAnnualRates:   []int64{20_000_000, 30_000_000, 40_000_000},
	}
}

// world wraps a core with per-partition source-sequence bookkeeping. The
// validator advances before dispatch, so an event rejected by its handler
// still consumes its slot; apply and applyErr both burn one.
type world struct {
	t       *testing.T
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	seqs    map[string]int64
}

func newWorld(t *testing.T) *world {
	t.Helper()
	persist := make(chan core.CoreOutput, 1024)
	proj := make(chan core.CoreOutput, 1024)
	return &world{
		t:       t,
		core:    core.NewDeterministicCore(0, persist, proj, nil, nil),
		persist: persist,
		proj:    proj,
		seqs:    make(map[string]int64),
	}
}

func (w *world) nextSeq(partition string) int64 {
	s := w.seqs[partition]
	w.seqs[partition] = s + 1
	return s
}

func (w *world) curSeq() int64    { return w.nextSeq("currency:1") }
func (w *world) globalSeq() int64 { return w.nextSeq("global") }

func (w *world) apply(evt event.Event) {
	w.t.Helper()
	if err := w.core.ProcessEvent(evt); err != nil {
		w.t.Fatalf("ProcessEvent(%T): %v", evt, err)
	}
}

func (w *world) applyErr(evt event.Event) error {
	w.t.Helper()
	err := w.core.ProcessEvent(evt)
	if err == nil {
		w.t.Fatalf("ProcessEvent(%T): expected error, got nil", evt)
	}
	return err
}

func (w *world) deposit(acc uuid.UUID, amount, ts int64) {
	w.t.Helper()
	w.apply(&event.CashDeposited{
		DepositID: uuid.New(),
		AccountID: acc,
		Currency:  testCurrency,
		Amount:    amount,
		Sequence:  w.curSeq(),
		Timestamp: ts,
	})
}

// setupMarkets publishes the cash group, funds the liquidity account and
// initializes the quarter's markets. The 40/35/25 deposit shares split the
// 1,000 token seed into 400/350/250 cash per market, with fCash equal to
// cash at the 0.5 target proportion.
func (w *world) setupMarkets(ts int64) {
	w.t.Helper()
	w.apply(&event.CashGroupUpdated{
		RequestID: uuid.New(),
		Currency:  testCurrency,
		Params:    testCashGroup(),
		Sequence:  w.curSeq(),
		Timestamp: ts,
	})
	w.deposit(ledger.LiquidityAccountID(testCurrency), 1_000*fpmath.InternalTokenPrecision, ts)
	w.apply(&event.MarketsInitialized{
		RequestID: uuid.New(),
		Currency:  testCurrency,
		Sequence:  w.curSeq(),
		Timestamp: ts,
	})
}

func (w *world) balance(key ledger.AccountKey) int64 {
	return w.core.CreateSnapshotState().Balances[key]
}

func (w *world) account(id uuid.UUID) *state.Account {
	for _, acc := range w.core.CreateSnapshotState().Accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

func (w *world) drain() []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case out := <-w.persist:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: deposits and withdrawals
// ============================================================================

func TestCashDeposited_CreditsUserCash(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()

	w.deposit(acc, 100*fpmath.InternalTokenPrecision, baseTime)

	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != 100*fpmath.InternalTokenPrecision {
		t.Errorf("user cash: got %d, want %d", got, 100*fpmath.InternalTokenPrecision)
	}
	deposits := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, testCurrency)
	if got := w.balance(deposits); got != -100*fpmath.InternalTokenPrecision {
		t.Errorf("external deposits: got %d, want %d", got, -100*fpmath.InternalTokenPrecision)
	}
}

func TestCashWithdrawn_SpendsSettledCash(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()
	w.deposit(acc, 100*fpmath.InternalTokenPrecision, baseTime)

	w.apply(&event.CashWithdrawn{
		WithdrawalID: uuid.New(),
		AccountID:    acc,
		Currency:     testCurrency,
		Amount:       40 * fpmath.InternalTokenPrecision,
		Sequence:     w.curSeq(),
		Timestamp:    baseTime + 10,
	})

	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != 60*fpmath.InternalTokenPrecision {
		t.Errorf("user cash after withdrawal: got %d, want %d", got, 60*fpmath.InternalTokenPrecision)
	}
}

func TestCashWithdrawn_InsufficientCashRejected(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()
	w.deposit(acc, 10*fpmath.InternalTokenPrecision, baseTime)
	hashBefore := w.core.GetStateHash()

	w.applyErr(&event.CashWithdrawn{
		WithdrawalID: uuid.New(),
		AccountID:    acc,
		Currency:     testCurrency,
		Amount:       11 * fpmath.InternalTokenPrecision,
		Sequence:     w.curSeq(),
		Timestamp:    baseTime + 10,
	})

	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != 10*fpmath.InternalTokenPrecision {
		t.Errorf("user cash after rejected withdrawal: got %d, want %d", got, 10*fpmath.InternalTokenPrecision)
	}
	if w.core.GetStateHash() != hashBefore {
		t.Error("state hash advanced on a rejected withdrawal")
	}

	// The rejected event consumed its source-sequence slot.
	w.deposit(acc, fpmath.InternalTokenPrecision, baseTime+20)
	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != 11*fpmath.InternalTokenPrecision {
		t.Errorf("user cash after follow-up deposit: got %d, want %d", got, 11*fpmath.InternalTokenPrecision)
	}
}

// ============================================================================
// Test: idempotency and source sequencing
// ============================================================================

func TestDuplicateEvent_AppliedOnce(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()

	evt := &event.CashDeposited{
		DepositID: uuid.New(),
		AccountID: acc,
		Currency:  testCurrency,
		Amount:    50 * fpmath.InternalTokenPrecision,
		Sequence:  w.curSeq(),
		Timestamp: baseTime,
	}
	w.apply(evt)
	seqAfterFirst := w.core.GetSequence()

	// Redelivery carries the same idempotency key and source sequence.
	if err := w.core.ProcessEvent(evt); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}

	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != 50*fpmath.InternalTokenPrecision {
		t.Errorf("user cash after duplicate: got %d, want %d", got, 50*fpmath.InternalTokenPrecision)
	}
	if got := w.core.GetSequence(); got != seqAfterFirst {
		t.Errorf("global sequence advanced on duplicate: got %d, want %d", got, seqAfterFirst)
	}
	if outputs := w.drain(); len(outputs) != 1 {
		t.Errorf("persist outputs: got %d, want 1", len(outputs))
	}
}

func TestSequenceGap_Rejected(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()
	w.deposit(acc, fpmath.InternalTokenPrecision, baseTime) // seq 0

	err := w.core.ProcessEvent(&event.CashDeposited{
		DepositID: uuid.New(),
		AccountID: acc,
		Currency:  testCurrency,
		Amount:    fpmath.InternalTokenPrecision,
		Sequence:  2, // gap: expected 1
		Timestamp: baseTime + 10,
	})
	if err == nil {
		t.Fatal("expected sequence gap error, got nil")
	}

	// A gap does not burn the slot; the expected sequence still applies.
	w.deposit(acc, fpmath.InternalTokenPrecision, baseTime+20) // seq 1
	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != 2*fpmath.InternalTokenPrecision {
		t.Errorf("user cash: got %d, want %d", got, 2*fpmath.InternalTokenPrecision)
	}
}

func TestPartitions_SequenceIndependently(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()
	w.deposit(acc, fpmath.InternalTokenPrecision, baseTime) // currency:1 seq 0

	// AccountSettled carries no currency and sequences on the global
	// partition, starting from zero regardless of the currency partition.
	w.apply(&event.AccountSettled{
		RequestID: uuid.New(),
		AccountID: acc,
		Sequence:  w.globalSeq(),
		Timestamp: baseTime + 10,
	})
}

// ============================================================================
// Test: hash chain and outputs
// ============================================================================

func TestEnvelopes_FormHashChain(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()
	w.deposit(acc, fpmath.InternalTokenPrecision, baseTime)
	w.deposit(acc, fpmath.InternalTokenPrecision, baseTime+10)

	outputs := w.drain()
	if len(outputs) != 2 {
		t.Fatalf("persist outputs: got %d, want 2", len(outputs))
	}
	if outputs[0].Envelope.Sequence != 0 || outputs[1].Envelope.Sequence != 1 {
		t.Errorf("sequences: got %d, %d, want 0, 1",
			outputs[0].Envelope.Sequence, outputs[1].Envelope.Sequence)
	}
	if outputs[1].Envelope.PrevHash != outputs[0].Envelope.StateHash {
		t.Error("second envelope's prev hash does not link to the first's state hash")
	}
	if outputs[1].Envelope.StateHash != w.core.GetStateHash() {
		t.Error("chain tip does not match the last envelope")
	}
	for i, out := range outputs {
		if out.Source == nil {
			t.Errorf("output %d: missing source event", i)
		}
	}
}

func TestProjectionChannel_DropsWhenFull(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	proj := make(chan core.CoreOutput) // unbuffered, no reader
	c := core.NewDeterministicCore(0, persist, proj, nil, nil)

	acc := uuid.New()
	for i := int64(0); i < 3; i++ {
		err := c.ProcessEvent(&event.CashDeposited{
			DepositID: uuid.New(),
			AccountID: acc,
			Currency:  testCurrency,
			Amount:    fpmath.InternalTokenPrecision,
			Sequence:  i,
			Timestamp: baseTime + i,
		})
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}

	if got := len(persist); got != 3 {
		t.Errorf("persist outputs: got %d, want 3", got)
	}
}

// ============================================================================
// Test: market initialization
// ============================================================================

func TestMarketsInitialized_SeedsQuarter(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)

	snap := w.core.CreateSnapshotState()
	if got := len(snap.Markets); got != 3 {
		t.Fatalf("markets: got %d, want 3", got)
	}

	tRef := market.TRef(baseTime)
	wantCash := map[int64]int64{}
	for i, cash := range []int64{400, 350, 250} {
		maturity, err := market.MaturityForIndex(tRef, i+1)
		if err != nil {
			t.Fatalf("MaturityForIndex(%d): %v", i+1, err)
		}
		wantCash[maturity] = cash * fpmath.InternalTokenPrecision
	}
	for _, m := range snap.Markets {
		want, ok := wantCash[m.Maturity]
		if !ok {
			t.Errorf("unexpected maturity %d", m.Maturity)
			continue
		}
		if m.TotalCash != want {
			t.Errorf("maturity %d: total cash got %d, want %d", m.Maturity, m.TotalCash, want)
		}
		// Target proportion 0.5 seeds equal cash and fCash.
		if m.TotalfCash != want {
			t.Errorf("maturity %d: total fcash got %d, want %d", m.Maturity, m.TotalfCash, want)
		}
	}

	// All liquidity cash moved into the market cash account.
	if got := w.balance(ledger.MarketCashKey(testCurrency)); got != 1_000*fpmath.InternalTokenPrecision {
		t.Errorf("market cash: got %d, want %d", got, 1_000*fpmath.InternalTokenPrecision)
	}
	liq := ledger.UserCashKey(ledger.LiquidityAccountID(testCurrency), testCurrency)
	if got := w.balance(liq); got != 0 {
		t.Errorf("liquidity cash after seed: got %d, want 0", got)
	}

	// The seed event's last output carries one delta per market.
	outputs := w.drain()
	last := outputs[len(outputs)-1]
	if got := len(last.Markets); got != 3 {
		t.Errorf("market deltas on last output: got %d, want 3", got)
	}
	for _, d := range last.Markets {
		if d.Removed {
			t.Errorf("maturity %d flagged removed on first initialization", d.Market.Maturity)
		}
	}
}

func TestMarketsInitialized_RepeatRejected(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)

	w.applyErr(&event.MarketsInitialized{
		RequestID: uuid.New(),
		Currency:  testCurrency,
		Sequence:  w.curSeq(),
		Timestamp: baseTime + fpmath.SecondsInDay,
	})
}

func TestMarketsInitialized_QuarterRoll(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	w.drain()

	tRef := market.TRef(baseTime)
	rollTime := tRef + fpmath.SecondsInQuarter + 100
	w.apply(&event.MarketsInitialized{
		RequestID: uuid.New(),
		Currency:  testCurrency,
		Sequence:  w.curSeq(),
		Timestamp: rollTime,
	})

	snap := w.core.CreateSnapshotState()
	if got := len(snap.Markets); got != 3 {
		t.Fatalf("markets after roll: got %d, want 3", got)
	}
	newTRef := market.TRef(rollTime)
	for _, m := range snap.Markets {
		if m.Maturity <= newTRef {
			t.Errorf("matured market %d survived the roll", m.Maturity)
		}
	}

	// The three-month market from the prior quarter matured at the new
	// reference time and is dropped, not replaced.
	outputs := w.drain()
	last := outputs[len(outputs)-1]
	oldM1, _ := market.MaturityForIndex(tRef, 1)
	removedOld := false
	for _, d := range last.Markets {
		if d.Removed && d.Market.Maturity == oldM1 {
			removedOld = true
		}
	}
	if !removedOld {
		t.Errorf("expected a removed delta for matured maturity %d", oldM1)
	}
}

// ============================================================================
// Test: trading
// ============================================================================

func TestTradeExecuted_LendMovesCashAndFCash(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	acc := uuid.New()
	w.deposit(acc, 100*fpmath.InternalTokenPrecision, baseTime+10)
	w.drain()

	notional := 50 * fpmath.InternalTokenPrecision
	w.apply(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   acc,
		Currency:    testCurrency,
		MarketIndex: 1,
		FCashAmount: notional,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 20,
	})

	maturity, _ := market.MaturityForIndex(market.TRef(baseTime), 1)
	stateAcc := w.account(acc)
	if stateAcc == nil {
		t.Fatal("trading account missing from state")
	}
	if got := stateAcc.Portfolio.Notional(testCurrency, maturity); got != notional {
		t.Errorf("portfolio notional: got %d, want %d", got, notional)
	}

	// A lender pays less than par now for par at maturity.
	bal := w.balance(ledger.UserCashKey(acc, testCurrency))
	cost := 100*fpmath.InternalTokenPrecision - bal
	if cost <= 0 || cost >= notional {
		t.Errorf("lend cost: got %d, want in (0, %d)", cost, notional)
	}
	if got := w.balance(ledger.FeeReserveKey(testCurrency)); got <= 0 {
		t.Errorf("fee reserve: got %d, want > 0", got)
	}

	// The market sold the lender fCash from its pool.
	outputs := w.drain()
	last := outputs[len(outputs)-1]
	found := false
	for _, d := range last.Markets {
		if d.Market.Maturity == maturity {
			found = true
			if want := 350 * fpmath.InternalTokenPrecision; d.Market.TotalfCash != want {
				t.Errorf("market fcash after lend: got %d, want %d", d.Market.TotalfCash, want)
			}
			if d.Market.LastImpliedRate <= 0 {
				t.Errorf("implied rate: got %d, want > 0", d.Market.LastImpliedRate)
			}
		}
	}
	if !found {
		t.Errorf("no market delta for maturity %d", maturity)
	}
}

func TestTradeExecuted_BorrowAgainstCashAmount(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	acc := uuid.New()

	// A positive cash amount asks the engine to solve for the fCash debt
	// that raises those proceeds. Borrowing needs no cash on deposit.
	proceeds := 10 * fpmath.InternalTokenPrecision
	w.apply(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   acc,
		Currency:    testCurrency,
		MarketIndex: 1,
		CashAmount:  proceeds,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 20,
	})

	maturity, _ := market.MaturityForIndex(market.TRef(baseTime), 1)
	stateAcc := w.account(acc)
	if stateAcc == nil {
		t.Fatal("borrowing account missing from state")
	}
	owed := stateAcc.Portfolio.Notional(testCurrency, maturity)
	if owed >= 0 {
		t.Errorf("portfolio notional: got %d, want < 0", owed)
	}
	// Borrowers owe more at maturity than they receive now.
	if -owed <= proceeds {
		t.Errorf("fcash debt %d not greater than proceeds %d", -owed, proceeds)
	}
	if bal := w.balance(ledger.UserCashKey(acc, testCurrency)); bal <= 0 {
		t.Errorf("borrower cash: got %d, want > 0", bal)
	}
	if stateAcc.Context.Flags&settle.HasAssetDebt == 0 {
		t.Error("asset debt flag not set after borrow")
	}
}

func TestTradeExecuted_InsufficientCashAtomic(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	acc := uuid.New()
	w.deposit(acc, fpmath.InternalTokenPrecision, baseTime+10)
	hashBefore := w.core.GetStateHash()
	seqBefore := w.core.GetSequence()

	// Lending 50 tokens costs far more than the single token on deposit.
	w.applyErr(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   acc,
		Currency:    testCurrency,
		MarketIndex: 1,
		FCashAmount: 50 * fpmath.InternalTokenPrecision,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 20,
	})

	if w.core.GetStateHash() != hashBefore {
		t.Error("state hash advanced on a rejected trade")
	}
	if got := w.core.GetSequence(); got != seqBefore {
		t.Errorf("global sequence: got %d, want %d", got, seqBefore)
	}
	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != fpmath.InternalTokenPrecision {
		t.Errorf("user cash: got %d, want %d", got, fpmath.InternalTokenPrecision)
	}
	maturity, _ := market.MaturityForIndex(market.TRef(baseTime), 1)
	snap := w.core.CreateSnapshotState()
	for _, m := range snap.Markets {
		if m.Maturity == maturity && m.TotalfCash != 400*fpmath.InternalTokenPrecision {
			t.Errorf("market fcash mutated by rejected trade: got %d", m.TotalfCash)
		}
	}
}

func TestTradeExecuted_BadLegsRejected(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	acc := uuid.New()
	w.deposit(acc, 100*fpmath.InternalTokenPrecision, baseTime+10)

	// Both legs zero.
	w.applyErr(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   acc,
		Currency:    testCurrency,
		MarketIndex: 1,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 20,
	})

	// Index 4 maps to a maturity this cash group never seeded.
	w.applyErr(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   acc,
		Currency:    testCurrency,
		MarketIndex: 4,
		FCashAmount: fpmath.InternalTokenPrecision,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 30,
	})
}

// ============================================================================
// Test: settlement
// ============================================================================

func TestAccountSettled_MaturedLendConvertsAtPar(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	acc := uuid.New()
	w.deposit(acc, 100*fpmath.InternalTokenPrecision, baseTime+10)

	notional := 50 * fpmath.InternalTokenPrecision
	w.apply(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   acc,
		Currency:    testCurrency,
		MarketIndex: 1,
		FCashAmount: notional,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 20,
	})
	balAfterTrade := w.balance(ledger.UserCashKey(acc, testCurrency))

	maturity, _ := market.MaturityForIndex(market.TRef(baseTime), 1)
	settleTime := maturity + 100
	w.apply(&event.AccountSettled{
		RequestID: uuid.New(),
		AccountID: acc,
		Sequence:  w.globalSeq(),
		Timestamp: settleTime,
	})

	if got := w.balance(ledger.UserCashKey(acc, testCurrency)); got != balAfterTrade+notional {
		t.Errorf("user cash after settlement: got %d, want %d", got, balAfterTrade+notional)
	}
	stateAcc := w.account(acc)
	if !stateAcc.Portfolio.IsEmpty() {
		t.Error("portfolio not empty after settling the only position")
	}
	if got := stateAcc.Context.NextSettleTime; got != market.TRef(settleTime) {
		t.Errorf("next settle time: got %d, want %d", got, market.TRef(settleTime))
	}
}

func TestAccountSettled_NothingToSettleStillLogged(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()

	w.apply(&event.AccountSettled{
		RequestID: uuid.New(),
		AccountID: acc,
		Sequence:  w.globalSeq(),
		Timestamp: baseTime,
	})

	// A no-op settlement still produces an envelope for the event log.
	outputs := w.drain()
	if len(outputs) != 1 {
		t.Fatalf("persist outputs: got %d, want 1", len(outputs))
	}
	if got := len(outputs[0].Batch.Journals); got != 0 {
		t.Errorf("journals in empty settlement: got %d, want 0", got)
	}
}

// ============================================================================
// Test: fCash transfers
// ============================================================================

func TestFCashTransferred_MovesNotional(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	alice := uuid.New()
	bob := uuid.New()
	w.deposit(alice, 100*fpmath.InternalTokenPrecision, baseTime+10)

	w.apply(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   alice,
		Currency:    testCurrency,
		MarketIndex: 1,
		FCashAmount: 50 * fpmath.InternalTokenPrecision,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 20,
	})

	maturity, _ := market.MaturityForIndex(market.TRef(baseTime), 1)
	w.apply(&event.FCashTransferred{
		TransferID:    uuid.New(),
		FromAccountID: alice,
		ToAccountID:   bob,
		Currency:      testCurrency,
		Maturity:      maturity,
		Notional:      20 * fpmath.InternalTokenPrecision,
		Sequence:      w.curSeq(),
		Timestamp:     baseTime + 30,
	})

	if got := w.account(alice).Portfolio.Notional(testCurrency, maturity); got != 30*fpmath.InternalTokenPrecision {
		t.Errorf("sender notional: got %d, want %d", got, 30*fpmath.InternalTokenPrecision)
	}
	if got := w.account(bob).Portfolio.Notional(testCurrency, maturity); got != 20*fpmath.InternalTokenPrecision {
		t.Errorf("receiver notional: got %d, want %d", got, 20*fpmath.InternalTokenPrecision)
	}
}

func TestFCashTransferred_Rejections(t *testing.T) {
	w := newWorld(t)
	acc := uuid.New()
	other := uuid.New()
	maturity := market.TRef(baseTime) + fpmath.SecondsInQuarter

	// Self transfer.
	w.applyErr(&event.FCashTransferred{
		TransferID:    uuid.New(),
		FromAccountID: acc,
		ToAccountID:   acc,
		Currency:      testCurrency,
		Maturity:      maturity,
		Notional:      fpmath.InternalTokenPrecision,
		Sequence:      w.curSeq(),
		Timestamp:     baseTime,
	})

	// Non-positive notional.
	w.applyErr(&event.FCashTransferred{
		TransferID:    uuid.New(),
		FromAccountID: acc,
		ToAccountID:   other,
		Currency:      testCurrency,
		Maturity:      maturity,
		Notional:      0,
		Sequence:      w.curSeq(),
		Timestamp:     baseTime,
	})

	// Matured position.
	w.applyErr(&event.FCashTransferred{
		TransferID:    uuid.New(),
		FromAccountID: acc,
		ToAccountID:   other,
		Currency:      testCurrency,
		Maturity:      baseTime - 100,
		Notional:      fpmath.InternalTokenPrecision,
		Sequence:      w.curSeq(),
		Timestamp:     baseTime,
	})
}

// ============================================================================
// Test: bitmap encoding
// ============================================================================

func TestBitmapCurrencyEnabled_RoutesAssetsToGrid(t *testing.T) {
	w := newWorld(t)
	w.setupMarkets(baseTime)
	acc := uuid.New()
	w.deposit(acc, 100*fpmath.InternalTokenPrecision, baseTime+10)

	w.apply(&event.BitmapCurrencyEnabled{
		RequestID: uuid.New(),
		AccountID: acc,
		Currency:  testCurrency,
		Sequence:  w.curSeq(),
		Timestamp: baseTime + 20,
	})

	w.apply(&event.TradeExecuted{
		TradeID:     uuid.New(),
		AccountID:   acc,
		Currency:    testCurrency,
		MarketIndex: 1,
		FCashAmount: 50 * fpmath.InternalTokenPrecision,
		Sequence:    w.curSeq(),
		Timestamp:   baseTime + 30,
	})

	stateAcc := w.account(acc)
	if stateAcc.Portfolio.Bitmap == nil {
		t.Fatal("bitmap not enabled on portfolio")
	}
	if got := stateAcc.Context.BitmapCurrencyID; got != testCurrency {
		t.Errorf("bitmap currency: got %d, want %d", got, testCurrency)
	}
	maturity, _ := market.MaturityForIndex(market.TRef(baseTime), 1)
	if got := stateAcc.Portfolio.Notional(testCurrency, maturity); got != 50*fpmath.InternalTokenPrecision {
		t.Errorf("bitmap notional: got %d, want %d", got, 50*fpmath.InternalTokenPrecision)
	}

	// Enabling twice is an error.
	w.applyErr(&event.BitmapCurrencyEnabled{
		RequestID: uuid.New(),
		AccountID: acc,
		Currency:  testCurrency,
		Sequence:  w.curSeq(),
		Timestamp: baseTime + 40,
	})
}

// ============================================================================
// Test: determinism, conservation, snapshot restore
// ============================================================================

// lifecycleScript builds one fixed event stream covering the full flow:
// parameters, liquidity funding, initialization, a deposit, a lend, a
// post-maturity settlement and a withdrawal.
func lifecycleScript() []event.Event {
	acc := uuid.New()
	maturity := market.TRef(baseTime) + fpmath.SecondsInQuarter
	return []event.Event{
		&event.CashGroupUpdated{RequestID: uuid.New(), Currency: testCurrency, Params: testCashGroup(), Sequence: 0, Timestamp: baseTime},
		&event.CashDeposited{DepositID: uuid.New(), AccountID: ledger.LiquidityAccountID(testCurrency), Currency: testCurrency, Amount: 1_000 * fpmath.InternalTokenPrecision, Sequence: 1, Timestamp: baseTime},
		&event.MarketsInitialized{RequestID: uuid.New(), Currency: testCurrency, Sequence: 2, Timestamp: baseTime},
		&event.CashDeposited{DepositID: uuid.New(), AccountID: acc, Currency: testCurrency, Amount: 100 * fpmath.InternalTokenPrecision, Sequence: 3, Timestamp: baseTime + 10},
		&event.TradeExecuted{TradeID: uuid.New(), AccountID: acc, Currency: testCurrency, MarketIndex: 1, FCashAmount: 50 * fpmath.InternalTokenPrecision, Sequence: 4, Timestamp: baseTime + 20},
		&event.AccountSettled{RequestID: uuid.New(), AccountID: acc, Sequence: 0, Timestamp: maturity + 100},
		&event.CashWithdrawn{WithdrawalID: uuid.New(), AccountID: acc, Currency: testCurrency, Amount: 10 * fpmath.InternalTokenPrecision, Sequence: 5, Timestamp: maturity + 200},
	}
}

func runScript(t *testing.T, c *core.DeterministicCore, script []event.Event) {
	t.Helper()
	for i, evt := range script {
		if err := c.ProcessEvent(evt); err != nil {
			t.Fatalf("script event %d (%T): %v", i, evt, err)
		}
	}
}

func TestDeterminism_SameEventsSameHashChain(t *testing.T) {
	script := lifecycleScript()

	w1 := newWorld(t)
	w2 := newWorld(t)
	runScript(t, w1.core, script)
	runScript(t, w2.core, script)

	if w1.core.GetSequence() != w2.core.GetSequence() {
		t.Errorf("sequences diverged: %d vs %d", w1.core.GetSequence(), w2.core.GetSequence())
	}
	if w1.core.GetStateHash() != w2.core.GetStateHash() {
		t.Error("state hashes diverged for identical event streams")
	}

	out1 := w1.drain()
	out2 := w2.drain()
	if len(out1) != len(out2) {
		t.Fatalf("output counts diverged: %d vs %d", len(out1), len(out2))
	}
	for i := range out1 {
		if out1[i].Envelope.StateHash != out2[i].Envelope.StateHash {
			t.Errorf("output %d: state hashes diverged", i)
		}
	}
}

func TestLifecycle_LedgerStaysZeroSum(t *testing.T) {
	w := newWorld(t)
	runScript(t, w.core, lifecycleScript())

	totals := make(map[uint16]int64)
	for key, bal := range w.core.CreateSnapshotState().Balances {
		totals[key.CurrencyID] += bal
	}
	for cur, total := range totals {
		if total != 0 {
			t.Errorf("currency %d: global balance got %d, want 0", cur, total)
		}
	}
}

func TestSnapshotRestore_ContinuesHashChain(t *testing.T) {
	script := lifecycleScript()
	prefix, suffix := script[:5], script[5:]

	w1 := newWorld(t)
	runScript(t, w1.core, script)

	// The restored core picks up mid-stream and replays the rest.
	w2 := newWorld(t)
	w3 := newWorld(t)
	runScript(t, w3.core, prefix)
	w2.core.RestoreFromSnapshot(w3.core.CreateSnapshotState())
	runScript(t, w2.core, suffix)

	if w1.core.GetSequence() != w2.core.GetSequence() {
		t.Errorf("sequences diverged: %d vs %d", w1.core.GetSequence(), w2.core.GetSequence())
	}
	if w1.core.GetStateHash() != w2.core.GetStateHash() {
		t.Error("restored core's hash chain diverged from continuous processing")
	}
}

func TestSnapshotRestore_SkipsSnapshottedDuplicates(t *testing.T) {
	script := lifecycleScript()

	w1 := newWorld(t)
	runScript(t, w1.core, script[:4])
	snap := w1.core.CreateSnapshotState()

	w2 := newWorld(t)
	w2.core.RestoreFromSnapshot(snap)
	w2.core.WarmLRU(snap.IdempotencyKeys)

	// Replaying an already-snapshotted event is a duplicate, not a gap.
	if err := w2.core.ProcessEvent(script[3]); err != nil {
		t.Fatalf("replay of snapshotted event: %v", err)
	}
	if got, want := w2.core.GetSequence(), w1.core.GetSequence(); got != want {
		t.Errorf("sequence after duplicate replay: got %d, want %d", got, want)
	}
}
