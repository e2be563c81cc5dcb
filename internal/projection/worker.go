package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Journals  []JournalEntry
	BlockTime int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	JournalID     string
	EventRef      string
	DebitAccount  string
	CreditAccount string
	CurrencyID    uint16
	Amount        int64
	JournalType   int32
}

// Journal types that represent settlement cash movement. Mirrors
// ledger.JournalTypeSettlementCredit / ledger.JournalTypeSettlementDebit
// without importing the ledger package.
const (
	journalTypeSettlementCredit = 5
	journalTypeSettlementDebit  = 6
)

// ProjectionWorker updates the read-side tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			pw.lastSeq = output.Sequence
			if err := pw.processOutput(ctx, output); err != nil {
				// Continue — projections are eventually consistent and can
				// be rebuilt from the event log
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.updateBalanceProjection(ctx, tx, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
		if err := pw.updateSettlementProjection(ctx, tx, j, output); err != nil {
			return fmt.Errorf("settlement projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark SET last_sequence = $1, updated_at = NOW() WHERE id = 1
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection applies one journal to the balances table.
// Debits increase a balance, credits decrease it — the same convention
// the core's balance tracker uses.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, currency_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4, updated_at = NOW()
	`, j.DebitAccount, j.CurrencyID, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, currency_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4, updated_at = NOW()
	`, j.CreditAccount, j.CurrencyID, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	return nil
}

// updateSettlementProjection records settlement journals in the settlement
// history table. Credits are stored positive (cash paid to the account),
// debits negative (cash owed by the account).
func (pw *ProjectionWorker) updateSettlementProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, output ProjectionOutput) error {
	var accountPath string
	var amount int64

	switch j.JournalType {
	case journalTypeSettlementCredit:
		accountPath = j.DebitAccount
		amount = j.Amount
	case journalTypeSettlementDebit:
		accountPath = j.CreditAccount
		amount = -j.Amount
	default:
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.settlements
			(journal_id, account_path, currency_id, amount, event_ref, sequence, block_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (journal_id) DO NOTHING
	`, j.JournalID, accountPath, j.CurrencyID, amount, j.EventRef, output.Sequence, output.BlockTime)
	return err
}

// RebuildProjections rebuilds balances and settlement history from the
// stored journal. Used when the projection channel dropped outputs or the
// tables were lost; markets are rebuilt by the persistence path at replay.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.settlements`,
		`UPDATE projections.watermark SET last_sequence = 0, updated_at = NOW() WHERE id = 1`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit legs increase balances
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, currency_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			currency_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, currency_id
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credit legs decrease them
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, currency_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			currency_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, currency_id
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.settlements
			(journal_id, account_path, currency_id, amount, event_ref, sequence, block_time)
		SELECT
			journal_id,
			CASE WHEN journal_type = $1 THEN debit_account ELSE credit_account END,
			currency_id,
			CASE WHEN journal_type = $1 THEN amount ELSE -amount END,
			event_ref,
			sequence,
			block_time
		FROM event_log.journal
		WHERE journal_type IN ($1, $2)
		ON CONFLICT (journal_id) DO NOTHING
	`, journalTypeSettlementCredit, journalTypeSettlementDebit)
	if err != nil {
		return fmt.Errorf("rebuild settlements: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		UPDATE projections.watermark
		SET last_sequence = COALESCE((SELECT MAX(sequence) FROM event_log.journal), 0),
		    updated_at = NOW()
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
