package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TermLedger/internal/market"
	fpmath "TermLedger/internal/math"
	"TermLedger/internal/persistence"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables and the
// latest snapshot. Queries are served via gRPC-Gateway HTTP/JSON routes;
// every response carries as_of_sequence so callers can reason about
// staleness relative to the core.
type QueryService struct {
	db        *sql.DB
	snapshots *persistence.SnapshotManager
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{
		db:        db,
		snapshots: persistence.NewSnapshotManager(db),
	}
}

// GetCashBalance returns an account's projected cash balance for one
// currency.
func (qs *QueryService) GetCashBalance(
	ctx context.Context,
	accountID uuid.UUID,
	currencyID uint16,
) (*CashBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	cashPath := fmt.Sprintf("user:%s:cash:%d", accountID, currencyID)
	balance, err := qs.getProjectedBalance(ctx, cashPath)
	if err != nil {
		return nil, err
	}

	return &CashBalanceResponse{
		AccountID:    accountID,
		CurrencyID:   currencyID,
		CashBalance:  balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// ListMarkets returns all projected markets for a currency, ascending by
// maturity.
func (qs *QueryService) ListMarkets(
	ctx context.Context,
	currencyID uint16,
) ([]MarketResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT maturity, total_fcash, total_cash, total_liquidity,
		       last_implied_rate, oracle_rate, previous_trade_time
		FROM projections.markets
		WHERE currency_id = $1
		ORDER BY maturity
	`, currencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []MarketResponse
	for rows.Next() {
		var m MarketResponse
		m.CurrencyID = currencyID
		m.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&m.Maturity, &m.TotalFCash, &m.TotalCash, &m.TotalLiquidity,
			&m.LastImpliedRate, &m.OracleRate, &m.PreviousTradeTime,
		); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}

	return markets, rows.Err()
}

// GetPortfolio returns an account's fCash positions with present values
// derived from projected oracle rates. Portfolios live in core state, not
// in a projection table, so this reads the latest verified snapshot —
// as_of_sequence reflects the snapshot, which trails the event log.
func (qs *QueryService) GetPortfolio(
	ctx context.Context,
	accountID uuid.UUID,
) (*PortfolioResponse, error) {
	snap, err := qs.snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	resp := &PortfolioResponse{AccountID: accountID}
	if snap == nil {
		return resp, nil
	}
	resp.AsOfSequence = snap.Sequence

	var account *persistence.AccountSnapshot
	idStr := accountID.String()
	for i := range snap.Accounts {
		if snap.Accounts[i].AccountID == idStr {
			account = &snap.Accounts[i]
			break
		}
	}
	if account == nil {
		return resp, nil
	}

	resp.NextSettleTime = account.NextSettleTime
	resp.BitmapCurrencyID = account.BitmapCurrencyID

	now := time.Now().Unix()
	rateCache := make(map[uint16][]MarketResponse)

	for _, a := range account.Assets {
		markets, ok := rateCache[a.CurrencyID]
		if !ok {
			markets, err = qs.ListMarkets(ctx, a.CurrencyID)
			if err != nil {
				return nil, err
			}
			rateCache[a.CurrencyID] = markets
		}

		oracleRate := oracleRateAt(markets, a.Maturity)
		pv, err := fpmath.PresentValue(a.Notional, oracleRate, market.TimeToMaturity(now, a.Maturity))
		if err != nil {
			return nil, fmt.Errorf("present value at maturity %d: %w", a.Maturity, err)
		}

		resp.Assets = append(resp.Assets, PortfolioAsset{
			CurrencyID:   a.CurrencyID,
			Maturity:     a.Maturity,
			Notional:     a.Notional,
			OracleRate:   oracleRate,
			PresentValue: pv,
		})
	}

	return resp, nil
}

// oracleRateAt resolves the oracle rate for a maturity from a currency's
// markets, sorted ascending. Exact matches use the market's own rate;
// idiosyncratic maturities interpolate between the bracketing markets.
func oracleRateAt(markets []MarketResponse, maturity int64) int64 {
	if len(markets) == 0 {
		return 0
	}

	for _, m := range markets {
		if m.Maturity == maturity {
			return m.OracleRate
		}
	}

	if maturity <= markets[0].Maturity {
		return markets[0].OracleRate
	}
	last := markets[len(markets)-1]
	if maturity >= last.Maturity {
		return last.OracleRate
	}

	for i := 1; i < len(markets); i++ {
		if markets[i].Maturity > maturity {
			short, long := markets[i-1], markets[i]
			return market.InterpolateOracleRate(
				short.Maturity, short.OracleRate,
				long.Maturity, long.OracleRate,
				maturity,
			)
		}
	}
	return last.OracleRate
}

// GetSettlements returns settlement cash movements for an account with
// cursor-based pagination, newest first.
func (qs *QueryService) GetSettlements(
	ctx context.Context,
	accountID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]SettlementResponse, error) {
	accountPrefix := fmt.Sprintf("user:%s:cash:%%", accountID)

	query := `
		SELECT currency_id, amount, event_ref, sequence, block_time
		FROM projections.settlements
		WHERE account_path LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SettlementResponse
	for rows.Next() {
		var r SettlementResponse
		r.AccountID = accountID
		if err := rows.Scan(
			&r.CurrencyID, &r.Amount, &r.EventRef, &r.Sequence, &r.BlockTime,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetJournalHistory returns journal entries touching an account with
// cursor-based pagination, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", accountID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, currency_id, amount, journal_type, block_time
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.CurrencyID, &e.Amount,
			&e.JournalType, &e.BlockTime,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the stored hash chain and the per-currency
// zero-sum invariant over projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Hash chain: every event's prev_hash must equal its predecessor's
	// state_hash.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Zero-sum: balances across all accounts must sum to zero per currency.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT currency_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY currency_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var currencyID uint16
		var total int64
		if err := balanceRows.Scan(&currencyID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedCurrencies = append(report.UnbalancedCurrencies, UnbalancedCurrency{
			CurrencyID: currencyID,
			Imbalance:  total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedCurrencies) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
