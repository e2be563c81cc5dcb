package core

import (
	"TermLedger/internal/curve"
	"TermLedger/internal/event"
	"TermLedger/internal/ledger"
	"TermLedger/internal/market"
	"TermLedger/internal/observability"
	"TermLedger/internal/portfolio"
	"TermLedger/internal/settle"
	"TermLedger/internal/state"
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	accountManager    *state.AccountManager
	marketManager     *state.MarketManager
	cashGroupManager  *state.CashGroupManager
	calc              curve.Calculator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	touched           *touchedState

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	Source     event.Event // original typed event, serialized for the stored payload
	StateDelta []byte
	Markets    []MarketDelta
}

// MarketDelta records a market the event mutated, for the market
// projection. Removed marks markets dropped at a roll boundary.
type MarketDelta struct {
	Market  market.State
	Removed bool
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		accountManager:    state.NewAccountManager(),
		marketManager:     state.NewMarketManager(),
		cashGroupManager:  state.NewCashGroupManager(),
		calc:              curve.NewCalculator(),
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		touched:           newTouchedState(),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()
	if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Handlers settle, mutate state and apply their
	// batches to the balance tracker as they go, so a pre-check in a later
	// batch observes the balances left by an earlier one. Every rejection
	// path runs before the first commit.
	c.touched = newTouchedState()
	batches, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Digest, hash and envelope each committed batch
	outputs := make([]CoreOutput, 0, len(batches))
	for _, batch := range batches {
		stateDigest := c.computeStateDigest(batch)

		// Capture the chain tip before hashing advances it: the envelope's
		// PrevHash must equal the previous envelope's StateHash for the
		// stored chain to verify link by link.
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

		envelope := &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			CurrencyID:     evt.CurrencyID(),
			Timestamp:      evt.BlockTime(),
			SourceSequence: sourceSequence,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			Source:     evt,
			StateDelta: stateDigest,
		})
		c.sequence++
	}

	// Market deltas ride on the last output so the projection sees the
	// post-event curve state exactly once.
	if len(outputs) > 0 {
		outputs[len(outputs)-1].Markets = c.marketDeltas()
	}

	// Step 5: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: Emit outputs
	for _, output := range outputs {
		// Persistence: blocking send, the core stalls until the persistence
		// worker drains. This guarantees no event is lost.
		c.persistChan <- output

		// Projections: non-blocking send, drop on full. Projection workers
		// can rebuild from the event log if they fall behind.
		select {
		case c.projectionChan <- output:
		default:
			// Dropped; projection will catch up via rebuild
		}
	}

	// Step 7: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.CoreAccounts.Set(float64(c.accountManager.Count()))
		c.metrics.CoreMarkets.Set(float64(c.marketManager.Count()))
	}

	return nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if currencyID := evt.CurrencyID(); currencyID != nil {
		return fmt.Sprintf("currency:%d", *currencyID)
	}
	return "global"
}

// computeStateDigest creates canonical bytes for state hash
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	// Sort accounts deterministically
	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	// Build digest
	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		// Append account path
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		// Append balance (8 bytes LE)
		digest = appendInt64LE(digest, balance)
	}

	// Domain state touched by the current event, in canonical order:
	// accounts by ID, markets by (currency, maturity), cash groups by
	// currency. Balances alone would miss portfolio and curve mutations.
	ids := make([]uuid.UUID, 0, len(c.touched.accounts))
	for id := range c.touched.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	for _, id := range ids {
		if acc := c.accountManager.GetAccount(id); acc != nil {
			digest = append(digest, acc.CanonicalBytes()...)
		}
	}

	refs := make([]marketRef, 0, len(c.touched.markets))
	for ref := range c.touched.markets {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].currencyID != refs[j].currencyID {
			return refs[i].currencyID < refs[j].currencyID
		}
		return refs[i].maturity < refs[j].maturity
	})
	for _, ref := range refs {
		// Removed markets contribute nothing; the replacing market covers
		// the change.
		if mkt := c.marketManager.GetMarket(ref.currencyID, ref.maturity); mkt != nil {
			digest = append(digest, state.MarketCanonicalBytes(mkt)...)
		}
	}

	currencies := make([]uint16, 0, len(c.touched.groups))
	for currencyID := range c.touched.groups {
		currencies = append(currencies, currencyID)
	}
	sort.Slice(currencies, func(i, j int) bool { return currencies[i] < currencies[j] })
	for _, currencyID := range currencies {
		if cg, ok := c.cashGroupManager.GetCashGroup(currencyID); ok {
			digest = append(digest, state.CashGroupCanonicalBytes(cg)...)
		}
	}

	return digest
}

// marketDeltas collects the post-event state of every market touched by
// the current event, in canonical order. Markets no longer present in the
// manager were removed at a roll boundary.
func (c *DeterministicCore) marketDeltas() []MarketDelta {
	refs := make([]marketRef, 0, len(c.touched.markets))
	for ref := range c.touched.markets {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].currencyID != refs[j].currencyID {
			return refs[i].currencyID < refs[j].currencyID
		}
		return refs[i].maturity < refs[j].maturity
	})

	deltas := make([]MarketDelta, 0, len(refs))
	for _, ref := range refs {
		if mkt := c.marketManager.GetMarket(ref.currencyID, ref.maturity); mkt != nil {
			deltas = append(deltas, MarketDelta{Market: *mkt})
		} else {
			deltas = append(deltas, MarketDelta{
				Market:  market.State{CurrencyID: ref.currencyID, Maturity: ref.maturity},
				Removed: true,
			})
		}
	}
	return deltas
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	switch e := evt.(type) {
	case *event.CashWithdrawn:
		if err := c.balanceTracker.ValidateNonNegative(ledger.UserCashKey(e.AccountID, e.Currency)); err != nil {
			return fmt.Errorf("post-check withdrawal: %w", err)
		}

	case *event.TradeExecuted:
		if err := c.validator.ValidateMarketCashNonNegative(e.Currency); err != nil {
			return fmt.Errorf("post-check trade: %w", err)
		}
		if err := c.validator.ValidateFeeReserveNonNegative(e.Currency); err != nil {
			return fmt.Errorf("post-check trade: %w", err)
		}

	case *event.MarketsInitialized:
		// Market cash is not checked here: reclaiming matured fCash at par
		// can overdraw the pool until outstanding borrowers settle.
		liquidityKey := ledger.UserCashKey(ledger.LiquidityAccountID(e.Currency), e.Currency)
		if err := c.balanceTracker.ValidateNonNegative(liquidityKey); err != nil {
			return fmt.Errorf("post-check initialization: %w", err)
		}
		if err := c.validator.ValidateFeeReserveNonNegative(e.Currency); err != nil {
			return fmt.Errorf("post-check initialization: %w", err)
		}
	}

	// Periodic global conservation check: verify every currency nets to
	// zero across user, system and external accounts.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		totals := c.balanceTracker.ComputeGlobalBalance()
		for currencyID, total := range totals {
			if total != 0 {
				return fmt.Errorf("post-check global: cash not conserved for currency %d: %d (at seq %d)",
					currencyID, total, c.sequence)
			}
		}
	}

	return nil
}

// commitBatch validates a batch and applies it to the balance tracker.
func (c *DeterministicCore) commitBatch(batch *ledger.Batch) error {
	if batch == nil || len(batch.Journals) == 0 {
		return nil
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := c.balanceTracker.ApplyBatch(batch); err != nil {
		return fmt.Errorf("apply batch failed: %w", err)
	}
	return nil
}

// emptyBatch carries a state-only event into the log: no journals, but the
// envelope still needs a batch row.
func (c *DeterministicCore) emptyBatch(eventRef string, blockTime int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: blockTime,
		Journals:  []ledger.Journal{},
	}
}

// settled carries the outcome of a pending account settlement. Handlers run
// every fallible check against the cloned portfolio and projected balances,
// then commit the clone in one assignment, so a rejected event leaves no
// partial mutation behind.
type settled struct {
	acc    *state.Account
	ctx    settle.Context
	p      *portfolio.Portfolio
	deltas []settle.CashDelta
}

// settleAccount settles the account's matured positions on a clone. Nothing
// on the account itself changes until commitSettlement.
func (c *DeterministicCore) settleAccount(id uuid.UUID, blockTime int64) (*settled, error) {
	acc := c.accountManager.GetOrCreateAccount(id)
	p := acc.Portfolio.Clone()
	ctx, deltas, err := settle.SettleAccount(acc.Context, p, blockTime)
	if err != nil {
		return nil, fmt.Errorf("settle account %s: %w", id, err)
	}
	return &settled{acc: acc, ctx: ctx, p: p, deltas: deltas}, nil
}

// cashDelta returns the settlement's pending cash movement for one currency.
func (s *settled) cashDelta(currencyID uint16) int64 {
	var total int64
	for _, d := range s.deltas {
		if d.CurrencyID == currencyID {
			total += d.Amount
		}
	}
	return total
}

// commitSettlement installs the working portfolio and settlement context on
// the account and journals the settlement's cash deltas. Handlers stack
// their own portfolio mutations on the clone before committing. Returns a
// nil batch when settlement moved no cash.
func (c *DeterministicCore) commitSettlement(s *settled, eventRef string, blockTime int64) (*ledger.Batch, error) {
	batch, err := c.journalGen.GenerateSettlement(s.acc.ID, eventRef, s.deltas, blockTime)
	if err != nil {
		return nil, err
	}

	s.acc.Portfolio = *s.p
	s.acc.Context = s.ctx

	if batch == nil {
		return nil, nil
	}
	if err := c.commitBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// refreshDebtFlags recomputes both debt flags from ground truth after an
// event's batches have been applied: the portfolio for asset debt, the
// ledger for cash debt.
func (c *DeterministicCore) refreshDebtFlags(acc *state.Account) {
	if acc.Portfolio.HasNegativeNotional() {
		acc.Context.Flags |= settle.HasAssetDebt
	} else {
		acc.Context.Flags &^= settle.HasAssetDebt
	}
	if c.balanceTracker.HasNegativeUserCash(acc.ID) {
		acc.Context.Flags |= settle.HasCashDebt
	} else {
		acc.Context.Flags &^= settle.HasCashDebt
	}
}

// touchedState tracks the domain objects mutated while dispatching one
// event, so the state digest can cover them in canonical order.
type touchedState struct {
	accounts map[uuid.UUID]bool
	markets  map[marketRef]bool
	groups   map[uint16]bool
}

type marketRef struct {
	currencyID uint16
	maturity   int64
}

func newTouchedState() *touchedState {
	return &touchedState{
		accounts: make(map[uuid.UUID]bool),
		markets:  make(map[marketRef]bool),
		groups:   make(map[uint16]bool),
	}
}

func (c *DeterministicCore) touchAccount(id uuid.UUID) {
	c.touched.accounts[id] = true
}

func (c *DeterministicCore) touchMarket(currencyID uint16, maturity int64) {
	c.touched.markets[marketRef{currencyID: currencyID, maturity: maturity}] = true
}

func (c *DeterministicCore) touchCashGroup(currencyID uint16) {
	c.touched.groups[currencyID] = true
}

func (c *DeterministicCore) handleCashDeposited(evt *event.CashDeposited) ([]*ledger.Batch, error) {
	batch, err := c.journalGen.GenerateDeposit(evt)
	if err != nil {
		return nil, err
	}
	if err := c.commitBatch(batch); err != nil {
		return nil, err
	}

	// A deposit can repay cash debt left behind by an earlier settlement.
	if acc := c.accountManager.GetAccount(evt.AccountID); acc != nil {
		c.refreshDebtFlags(acc)
		c.touchAccount(evt.AccountID)
	}

	return []*ledger.Batch{batch}, nil
}

// handleCashWithdrawn spends the settled cash balance only. An account
// sitting on matured positions submits AccountSettled first.
func (c *DeterministicCore) handleCashWithdrawn(evt *event.CashWithdrawn) ([]*ledger.Batch, error) {
	batch, err := c.journalGen.GenerateWithdrawal(evt)
	if err != nil {
		return nil, err
	}
	if err := c.commitBatch(batch); err != nil {
		return nil, err
	}
	return []*ledger.Batch{batch}, nil
}

func (c *DeterministicCore) handleTradeExecuted(evt *event.TradeExecuted) ([]*ledger.Batch, error) {
	if (evt.FCashAmount == 0) == (evt.CashAmount == 0) {
		return nil, fmt.Errorf("trade %s: exactly one of fcash_amount and cash_amount must be non-zero", evt.TradeID)
	}

	cg, ok := c.cashGroupManager.GetCashGroup(evt.Currency)
	if !ok {
		return nil, fmt.Errorf("trade %s: no cash group for currency %d", evt.TradeID, evt.Currency)
	}

	tRef := market.TRef(evt.Timestamp)
	maturity, err := market.MaturityForIndex(tRef, evt.MarketIndex)
	if err != nil {
		return nil, fmt.Errorf("trade %s: %w", evt.TradeID, err)
	}

	mkt := c.marketManager.GetMarket(evt.Currency, maturity)
	if mkt == nil {
		return nil, fmt.Errorf("trade %s: market %d:%d is not initialized", evt.TradeID, evt.Currency, maturity)
	}

	// Settle matured positions before the portfolio or balances are read.
	// Everything below runs on copies until the commit point.
	s, err := c.settleAccount(evt.AccountID, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	timeToMaturity := market.TimeToMaturity(evt.Timestamp, maturity)

	// The oracle blends toward the previous trade's rate before this trade
	// reprices the market.
	working := *mkt
	working.UpdateOracleRate(evt.Timestamp, cg.RateOracleTimeWindow)

	fCashToAccount := evt.FCashAmount
	if fCashToAccount == 0 {
		fCashToAccount, err = c.calc.FCashGivenCashAmount(working, cg, evt.CashAmount, evt.MarketIndex, timeToMaturity, 0)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", evt.TradeID, err)
		}
	}

	next, netCashToAccount, feeToReserve, err := c.calc.CalculateTrade(working, cg, fCashToAccount, timeToMaturity, evt.MarketIndex)
	if err != nil {
		return nil, fmt.Errorf("trade %s: %w", evt.TradeID, err)
	}
	if netCashToAccount == 0 {
		return nil, fmt.Errorf("trade %s moved no cash", evt.TradeID)
	}

	// Lenders pay cash up front: check against the balance the account
	// will have once its settlement deltas land.
	if netCashToAccount < 0 {
		available := c.balanceTracker.GetUserCashBalance(evt.AccountID, evt.Currency) + s.cashDelta(evt.Currency)
		if available < -netCashToAccount {
			return nil, fmt.Errorf("trade %s: insufficient cash (have=%d, need=%d)", evt.TradeID, available, -netCashToAccount)
		}
	}

	if err := s.p.Add(evt.Currency, maturity, fCashToAccount); err != nil {
		return nil, fmt.Errorf("trade %s: %w", evt.TradeID, err)
	}

	// Commit point: no failure past here leaves partial state.
	batches := make([]*ledger.Batch, 0, 2)
	settleBatch, err := c.commitSettlement(s, evt.TradeID.String(), evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if settleBatch != nil {
		batches = append(batches, settleBatch)
	}

	tradeBatch, err := c.journalGen.GenerateTrade(evt.AccountID, evt.TradeID, evt.Currency, netCashToAccount, feeToReserve, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := c.commitBatch(tradeBatch); err != nil {
		return nil, err
	}
	batches = append(batches, tradeBatch)

	c.marketManager.PutMarket(&next)
	c.refreshDebtFlags(s.acc)
	c.touchAccount(evt.AccountID)
	c.touchMarket(evt.Currency, maturity)

	return batches, nil
}

func (c *DeterministicCore) handleFCashTransferred(evt *event.FCashTransferred) ([]*ledger.Batch, error) {
	if evt.FromAccountID == evt.ToAccountID {
		return nil, fmt.Errorf("transfer %s: from and to are the same account", evt.TransferID)
	}
	if evt.Notional <= 0 {
		return nil, fmt.Errorf("transfer %s: notional must be positive, got %d", evt.TransferID, evt.Notional)
	}
	if evt.Maturity <= evt.Timestamp {
		return nil, fmt.Errorf("transfer %s: maturity %d has already passed", evt.TransferID, evt.Maturity)
	}

	from, err := c.settleAccount(evt.FromAccountID, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	to, err := c.settleAccount(evt.ToAccountID, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	// The sender may go short; the receiver's encoding may reject an
	// off-grid maturity. Both sides mutate clones first.
	if err := from.p.Add(evt.Currency, evt.Maturity, -evt.Notional); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", evt.TransferID, err)
	}
	if err := to.p.Add(evt.Currency, evt.Maturity, evt.Notional); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", evt.TransferID, err)
	}

	batches := make([]*ledger.Batch, 0, 2)
	for _, s := range []*settled{from, to} {
		batch, err := c.commitSettlement(s, evt.TransferID.String(), evt.Timestamp)
		if err != nil {
			return nil, err
		}
		if batch != nil {
			batches = append(batches, batch)
		}
	}
	if len(batches) == 0 {
		// No cash moved; the transfer still needs an envelope in the log.
		batches = append(batches, c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp))
	}

	c.refreshDebtFlags(from.acc)
	c.refreshDebtFlags(to.acc)
	c.touchAccount(evt.FromAccountID)
	c.touchAccount(evt.ToAccountID)

	return batches, nil
}

func (c *DeterministicCore) handleAccountSettled(evt *event.AccountSettled) ([]*ledger.Batch, error) {
	s, err := c.settleAccount(evt.AccountID, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	batch, err := c.commitSettlement(s, evt.IdempotencyKey(), evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		batch = c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp)
	}

	c.refreshDebtFlags(s.acc)
	c.touchAccount(evt.AccountID)

	return []*ledger.Batch{batch}, nil
}

func (c *DeterministicCore) handleBitmapCurrencyEnabled(evt *event.BitmapCurrencyEnabled) ([]*ledger.Batch, error) {
	s, err := c.settleAccount(evt.AccountID, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	// Settle first so matured positions don't block the switch, then
	// anchor the bitmap at the current quarter boundary.
	if err := s.p.EnableBitmap(evt.Currency, market.TRef(evt.Timestamp)); err != nil {
		return nil, fmt.Errorf("account %s: %w", evt.AccountID, err)
	}
	s.ctx.BitmapCurrencyID = evt.Currency

	batch, err := c.commitSettlement(s, evt.IdempotencyKey(), evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		batch = c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp)
	}

	c.refreshDebtFlags(s.acc)
	c.touchAccount(evt.AccountID)

	return []*ledger.Batch{batch}, nil
}

func (c *DeterministicCore) handleMarketsInitialized(evt *event.MarketsInitialized) ([]*ledger.Batch, error) {
	cg, ok := c.cashGroupManager.GetCashGroup(evt.Currency)
	if !ok {
		return nil, fmt.Errorf("initialization for currency %d: no cash group", evt.Currency)
	}

	// A repeat initialization is detected on the longest new maturity: the
	// shorter ones collide with the prior quarter's set (the old six-month
	// market matures into the new three-month slot), but no prior maturity
	// can reach this quarter's longest tenor.
	tRef := market.TRef(evt.Timestamp)
	lastMaturity, err := market.MaturityForIndex(tRef, cg.MaxMarketIndex)
	if err != nil {
		return nil, err
	}
	if c.marketManager.GetMarket(evt.Currency, lastMaturity) != nil {
		return nil, fmt.Errorf("currency %d already initialized for quarter %d", evt.Currency, tRef)
	}

	liquidityID := ledger.LiquidityAccountID(evt.Currency)
	s, err := c.settleAccount(liquidityID, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	// The liquidity account accrues residual fCash across quarters; only
	// the bitmap encoding holds that many maturities.
	if s.p.Bitmap == nil {
		if err := s.p.EnableBitmap(evt.Currency, tRef); err != nil {
			return nil, fmt.Errorf("liquidity account %s: %w", liquidityID, err)
		}
		s.ctx.BitmapCurrencyID = evt.Currency
	}

	previous := c.marketManager.MarketsForCurrency(evt.Currency)

	// Reclaim active liquidity: seeded cash comes back for every market,
	// matured fCash converts at par, unmatured fCash returns to the
	// portfolio as a residual position.
	reclaimAmounts := make([]int64, len(previous))
	var reclaimTotal int64
	for i, m := range previous {
		amount := m.TotalCash
		if m.Maturity <= tRef {
			amount += m.TotalfCash
		}
		reclaimAmounts[i] = amount
		reclaimTotal += amount
	}
	for _, m := range previous {
		if m.Maturity > tRef {
			if err := s.p.Add(evt.Currency, m.Maturity, m.TotalfCash); err != nil {
				return nil, fmt.Errorf("reclaim %d:%d: %w", evt.Currency, m.Maturity, err)
			}
		}
	}

	// Seed the new quarter from the balance the liquidity account will
	// hold once settlement and reclaim have landed.
	netCash := c.balanceTracker.GetUserCashBalance(liquidityID, evt.Currency) + s.cashDelta(evt.Currency) + reclaimTotal

	prevStates := make([]market.State, len(previous))
	for i, m := range previous {
		prevStates[i] = *m
	}
	seeded, err := market.SeedMarkets(cg, prevStates, netCash, evt.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("initialization for currency %d: %w", evt.Currency, err)
	}

	seedAmounts := make([]int64, len(seeded))
	for i, m := range seeded {
		seedAmounts[i] = m.TotalCash
		if err := s.p.Add(evt.Currency, m.Maturity, -m.TotalfCash); err != nil {
			return nil, fmt.Errorf("seed %d:%d: %w", evt.Currency, m.Maturity, err)
		}
	}

	// Commit point: no failure past here leaves partial state.
	batches := make([]*ledger.Batch, 0, 3)
	settleBatch, err := c.commitSettlement(s, evt.IdempotencyKey(), evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if settleBatch != nil {
		batches = append(batches, settleBatch)
	}

	reclaimBatch, err := c.journalGen.GenerateMarketReclaim(evt.Currency, evt.IdempotencyKey(), reclaimAmounts, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if reclaimBatch != nil {
		if err := c.commitBatch(reclaimBatch); err != nil {
			return nil, err
		}
		batches = append(batches, reclaimBatch)
	}

	seedBatch, err := c.journalGen.GenerateMarketSeed(evt.Currency, evt.IdempotencyKey(), seedAmounts, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := c.commitBatch(seedBatch); err != nil {
		return nil, err
	}
	batches = append(batches, seedBatch)

	for _, m := range previous {
		c.marketManager.RemoveMarket(evt.Currency, m.Maturity)
		c.touchMarket(evt.Currency, m.Maturity)
	}
	for i := range seeded {
		c.marketManager.PutMarket(&seeded[i])
		c.touchMarket(evt.Currency, seeded[i].Maturity)
	}

	c.refreshDebtFlags(s.acc)
	c.touchAccount(liquidityID)

	return batches, nil
}

func (c *DeterministicCore) handleCashGroupUpdated(evt *event.CashGroupUpdated) ([]*ledger.Batch, error) {
	if err := c.cashGroupManager.Apply(evt); err != nil {
		return nil, err
	}
	c.touchCashGroup(evt.Currency)

	// Parameter updates generate no journals
	return []*ledger.Batch{c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp)}, nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) ([]*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.CashDeposited:
		return c.handleCashDeposited(e)
	case *event.CashWithdrawn:
		return c.handleCashWithdrawn(e)
	case *event.TradeExecuted:
		return c.handleTradeExecuted(e)
	case *event.FCashTransferred:
		return c.handleFCashTransferred(e)
	case *event.AccountSettled:
		return c.handleAccountSettled(e)
	case *event.BitmapCurrencyEnabled:
		return c.handleBitmapCurrencyEnabled(e)
	case *event.MarketsInitialized:
		return c.handleMarketsInitialized(e)
	case *event.CashGroupUpdated:
		return c.handleCashGroupUpdated(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Accounts        []*state.Account
	Markets         []*market.State
	CashGroups      []market.CashGroup
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart, load latest snapshot then replay events after it.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	// Restore sequence
	c.sequence = snap.Sequence + 1 // Next sequence to assign

	// Restore state hash chain
	c.hasher.SetPrevHash(snap.StateHash)

	// Restore balances
	c.balanceTracker.Restore(snap.Balances)

	// Restore accounts
	for _, acc := range snap.Accounts {
		c.accountManager.SetAccount(acc)
	}

	// Restore markets
	for _, mkt := range snap.Markets {
		c.marketManager.PutMarket(mkt)
	}

	// Restore cash groups
	for _, cg := range snap.CashGroups {
		c.cashGroupManager.SetCashGroup(cg)
	}

	// Restore sequence validator state
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	// Restore journal generator sequence
	c.journalGen.SetSequence(snap.Sequence + 1)
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Accounts:        c.accountManager.GetAllAccounts(),
		Markets:         c.marketManager.GetAllMarkets(),
		CashGroups:      c.cashGroupManager.GetAllCashGroups(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
