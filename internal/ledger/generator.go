package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"TermLedger/internal/event"
	"TermLedger/internal/settle"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence resets the batch sequence counter. Used on snapshot restore.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GenerateDeposit creates journals for a confirmed deposit.
// Moves funds: external:deposits → user:cash
func (jg *JournalGenerator) GenerateDeposit(evt *event.CashDeposited) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  evt.DepositID.String(),
		Sequence:  jg.sequence,
		Timestamp: evt.Timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      evt.DepositID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  UserCashKey(evt.AccountID, evt.Currency),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, evt.Currency),
		CurrencyID:    evt.Currency,
		Amount:        evt.Amount,
		JournalType:   JournalTypeDeposit,
		Timestamp:     evt.Timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateWithdrawal creates journals for a withdrawal.
// Pre-check: the account's settled cash must cover the amount.
// Moves funds: user:cash → external:withdrawals
func (jg *JournalGenerator) GenerateWithdrawal(evt *event.CashWithdrawn) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientCash(evt.AccountID, evt.Currency, evt.Amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  evt.WithdrawalID.String(),
		Sequence:  jg.sequence,
		Timestamp: evt.Timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      evt.WithdrawalID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalWithdrawals, evt.Currency),
		CreditAccount: UserCashKey(evt.AccountID, evt.Currency),
		CurrencyID:    evt.Currency,
		Amount:        evt.Amount,
		JournalType:   JournalTypeWithdrawal,
		Timestamp:     evt.Timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateTrade creates journals for an executed curve trade. The curve
// already split the account's cash movement into a market leg and a fee
// leg, so netCashToAccount + feeToReserve + market leg == 0 exactly.
//
// Lend (netCashToAccount < 0): user:cash → system:market_cash plus
// user:cash → system:fee_reserve. Pre-check: the account holds the cash.
// Borrow (netCashToAccount > 0): system:market_cash → user:cash plus
// system:market_cash → system:fee_reserve.
func (jg *JournalGenerator) GenerateTrade(
	accountID uuid.UUID,
	tradeID uuid.UUID,
	currencyID uint16,
	netCashToAccount int64,
	feeToReserve int64,
	blockTime int64,
) (*Batch, error) {
	if netCashToAccount == 0 {
		return nil, fmt.Errorf("trade %s moved no cash", tradeID)
	}

	if netCashToAccount < 0 {
		required := -netCashToAccount
		if err := jg.balanceTracker.ValidateSufficientCash(accountID, currencyID, required); err != nil {
			return nil, fmt.Errorf("lend pre-check failed: %w", err)
		}
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  tradeID.String(),
		Sequence:  jg.sequence,
		Timestamp: blockTime,
		Journals:  make([]Journal, 0, 2),
	}

	if netCashToAccount < 0 {
		// Lend: the account pays market cash plus the fee
		marketLeg := -netCashToAccount - feeToReserve
		if marketLeg > 0 {
			batch.Journals = append(batch.Journals, Journal{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      tradeID.String(),
				Sequence:      jg.sequence,
				DebitAccount:  MarketCashKey(currencyID),
				CreditAccount: UserCashKey(accountID, currencyID),
				CurrencyID:    currencyID,
				Amount:        marketLeg,
				JournalType:   JournalTypeLendCost,
				Timestamp:     blockTime,
			})
		}
		if feeToReserve > 0 {
			batch.Journals = append(batch.Journals, Journal{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      tradeID.String(),
				Sequence:      jg.sequence,
				DebitAccount:  FeeReserveKey(currencyID),
				CreditAccount: UserCashKey(accountID, currencyID),
				CurrencyID:    currencyID,
				Amount:        feeToReserve,
				JournalType:   JournalTypeTradeFee,
				Timestamp:     blockTime,
			})
		}
	} else {
		// Borrow: market cash pays the account and the fee
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      tradeID.String(),
			Sequence:      jg.sequence,
			DebitAccount:  UserCashKey(accountID, currencyID),
			CreditAccount: MarketCashKey(currencyID),
			CurrencyID:    currencyID,
			Amount:        netCashToAccount,
			JournalType:   JournalTypeBorrowProceeds,
			Timestamp:     blockTime,
		})
		if feeToReserve > 0 {
			batch.Journals = append(batch.Journals, Journal{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      tradeID.String(),
				Sequence:      jg.sequence,
				DebitAccount:  FeeReserveKey(currencyID),
				CreditAccount: MarketCashKey(currencyID),
				CurrencyID:    currencyID,
				Amount:        feeToReserve,
				JournalType:   JournalTypeTradeFee,
				Timestamp:     blockTime,
			})
		}
	}

	jg.sequence++
	return batch, nil
}

// GenerateSettlement creates journals for an account's settlement cash
// deltas, one leg per currency. Matured lends draw on the pooled market
// cash where borrow proceeds originated; matured borrows repay into it.
// Returns nil when the settlement produced no deltas.
func (jg *JournalGenerator) GenerateSettlement(
	accountID uuid.UUID,
	eventRef string,
	deltas []settle.CashDelta,
	blockTime int64,
) (*Batch, error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: blockTime,
		Journals:  make([]Journal, 0, len(deltas)),
	}

	for _, d := range deltas {
		journal := Journal{
			JournalID:  uuid.New(),
			BatchID:    batchID,
			EventRef:   eventRef,
			Sequence:   jg.sequence,
			CurrencyID: d.CurrencyID,
			Timestamp:  blockTime,
		}
		if d.Amount > 0 {
			journal.DebitAccount = UserCashKey(accountID, d.CurrencyID)
			journal.CreditAccount = MarketCashKey(d.CurrencyID)
			journal.Amount = d.Amount
			journal.JournalType = JournalTypeSettlementCredit
		} else {
			journal.DebitAccount = MarketCashKey(d.CurrencyID)
			journal.CreditAccount = UserCashKey(accountID, d.CurrencyID)
			journal.Amount = -d.Amount
			journal.JournalType = JournalTypeSettlementDebit
		}
		batch.Journals = append(batch.Journals, journal)
	}

	jg.sequence++
	return batch, nil
}

// GenerateMarketSeed creates journals funding freshly initialized markets,
// one leg per market. Pre-check: the liquidity account holds the cash.
// Moves funds: user(liquidity):cash → system:market_cash
func (jg *JournalGenerator) GenerateMarketSeed(
	currencyID uint16,
	eventRef string,
	cashAmounts []int64,
	blockTime int64,
) (*Batch, error) {
	liquidityID := LiquidityAccountID(currencyID)

	var total int64
	for _, amount := range cashAmounts {
		total += amount
	}
	if err := jg.balanceTracker.ValidateSufficientCash(liquidityID, currencyID, total); err != nil {
		return nil, fmt.Errorf("market seed pre-check failed: %w", err)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: blockTime,
		Journals:  make([]Journal, 0, len(cashAmounts)),
	}

	for _, amount := range cashAmounts {
		if amount <= 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  MarketCashKey(currencyID),
			CreditAccount: UserCashKey(liquidityID, currencyID),
			CurrencyID:    currencyID,
			Amount:        amount,
			JournalType:   JournalTypeMarketSeed,
			Timestamp:     blockTime,
		})
	}

	jg.sequence++
	return batch, nil
}

// GenerateMarketReclaim creates journals returning active markets' cash to
// the liquidity account ahead of re-seeding, one leg per market.
// Moves funds: system:market_cash → user(liquidity):cash
// Returns nil when there is nothing to reclaim (first initialization).
func (jg *JournalGenerator) GenerateMarketReclaim(
	currencyID uint16,
	eventRef string,
	cashAmounts []int64,
	blockTime int64,
) (*Batch, error) {
	liquidityID := LiquidityAccountID(currencyID)
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: blockTime,
		Journals:  make([]Journal, 0, len(cashAmounts)),
	}

	for _, amount := range cashAmounts {
		if amount <= 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  UserCashKey(liquidityID, currencyID),
			CreditAccount: MarketCashKey(currencyID),
			CurrencyID:    currencyID,
			Amount:        amount,
			JournalType:   JournalTypeMarketReclaim,
			Timestamp:     blockTime,
		})
	}

	if len(batch.Journals) == 0 {
		return nil, nil
	}

	jg.sequence++
	return batch, nil
}
