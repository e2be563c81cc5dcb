package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// execer is satisfied by both *sql.DB and *sql.Tx so batch writes can run
// inside the persistence worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events, journals and market snapshots to Postgres
// using multi-row INSERTs. All inserts are idempotent (ON CONFLICT DO
// NOTHING / DO UPDATE keyed on sequence), so a retried batch never
// duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	CurrencyID     *int64
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      int64 // versioned block time, epoch seconds
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	CurrencyID    int64
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// MarketRow carries the post-event reserve state of one market for the
// projections.markets upsert. Removed marks markets retired by a
// quarterly roll.
type MarketRow struct {
	CurrencyID        int64
	Maturity          int64
	TotalFCash        int64
	TotalCash         int64
	TotalLiquidity    int64
	LastImpliedRate   int64
	OracleRate        int64
	PreviousTradeTime int64
	LastSequence      int64
	Removed           bool
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, currency_id, payload, state_hash, prev_hash, block_time, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.CurrencyID,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, currency_id, amount, journal_type, block_time)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.CurrencyID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteMarketBatch upserts post-event market states into
// projections.markets and deletes rows for retired markets. Later
// sequences win; a replayed older batch never clobbers newer state.
func (w *EventLogWriter) WriteMarketBatch(ctx context.Context, tx execer, markets []MarketRow) error {
	for _, m := range markets {
		if m.Removed {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM projections.markets
				WHERE currency_id = $1 AND maturity = $2 AND last_sequence <= $3
			`, m.CurrencyID, m.Maturity, m.LastSequence); err != nil {
				return fmt.Errorf("delete market %d:%d: %w", m.CurrencyID, m.Maturity, err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.markets
				(currency_id, maturity, total_fcash, total_cash, total_liquidity,
				 last_implied_rate, oracle_rate, previous_trade_time, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (currency_id, maturity) DO UPDATE SET
				total_fcash = EXCLUDED.total_fcash,
				total_cash = EXCLUDED.total_cash,
				total_liquidity = EXCLUDED.total_liquidity,
				last_implied_rate = EXCLUDED.last_implied_rate,
				oracle_rate = EXCLUDED.oracle_rate,
				previous_trade_time = EXCLUDED.previous_trade_time,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.markets.last_sequence <= EXCLUDED.last_sequence
		`, m.CurrencyID, m.Maturity, m.TotalFCash, m.TotalCash, m.TotalLiquidity,
			m.LastImpliedRate, m.OracleRate, m.PreviousTradeTime, m.LastSequence); err != nil {
			return fmt.Errorf("upsert market %d:%d: %w", m.CurrencyID, m.Maturity, err)
		}
	}
	return nil
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
