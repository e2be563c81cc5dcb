package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots carry the full core state: balances, accounts with their
// portfolios and settlement context, market states, cash groups, sequence
// counters, the idempotency LRU and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64               `json:"sequence"`
	StateHash       []byte              `json:"state_hash"`
	Balances        map[string]int64    `json:"balances"` // AccountPath -> balance
	Accounts        []AccountSnapshot   `json:"accounts"`
	Markets         []MarketSnapshot    `json:"markets"`
	CashGroups      []CashGroupSnapshot `json:"cash_groups"`
	SequenceState   map[string]int64    `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string            `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time           `json:"created_at"`
}

// AccountSnapshot is a serializable account with its portfolio and
// settlement context.
type AccountSnapshot struct {
	AccountID        string          `json:"account_id"`
	NextSettleTime   int64           `json:"next_settle_time"`
	Flags            uint8           `json:"flags"`
	BitmapCurrencyID uint16          `json:"bitmap_currency_id"`
	BitmapBaseTime   *int64          `json:"bitmap_base_time,omitempty"`
	Bits             []uint64        `json:"bits,omitempty"`
	Assets           []AssetSnapshot `json:"assets"`
}

// AssetSnapshot is a single fCash position.
type AssetSnapshot struct {
	CurrencyID uint16 `json:"currency_id"`
	Maturity   int64  `json:"maturity"`
	Notional   int64  `json:"notional"`
}

// MarketSnapshot is a serializable market state.
type MarketSnapshot struct {
	CurrencyID        uint16 `json:"currency_id"`
	Maturity          int64  `json:"maturity"`
	TotalFCash        int64  `json:"total_fcash"`
	TotalCash         int64  `json:"total_cash"`
	TotalLiquidity    int64  `json:"total_liquidity"`
	LastImpliedRate   int64  `json:"last_implied_rate"`
	OracleRate        int64  `json:"oracle_rate"`
	PreviousTradeTime int64  `json:"previous_trade_time"`
}

// CashGroupSnapshot is a serializable cash group configuration.
type CashGroupSnapshot struct {
	CurrencyID           uint16  `json:"currency_id"`
	MaxMarketIndex       int     `json:"max_market_index"`
	RateOracleTimeWindow int64   `json:"rate_oracle_time_window"`
	TotalFeeRate         int64   `json:"total_fee_rate"`
	ReserveFeeShare      int64   `json:"reserve_fee_share"`
	RateScalars          []int64 `json:"rate_scalars"`
	DepositShares        []int64 `json:"deposit_shares"`
	LeverageThresholds   []int64 `json:"leverage_thresholds"`
	TargetProportions    []int64 `json:"target_proportions"`
	InitialAnnualRates   []int64 `json:"initial_annual_rates"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events from the snapshot
// sequence forward before they become eligible for restart.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart the core loads the snapshot then replays events from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used for
// warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, currency_id, payload,
		       state_hash, prev_hash, block_time, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.CurrencyID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
