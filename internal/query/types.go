package query

import "github.com/google/uuid"

// MarketResponse represents one market's curve state for API queries.
type MarketResponse struct {
	CurrencyID        uint16 `json:"currency_id"`
	Maturity          int64  `json:"maturity"`
	TotalFCash        int64  `json:"total_fcash"`
	TotalCash         int64  `json:"total_cash"`
	TotalLiquidity    int64  `json:"total_liquidity"`
	LastImpliedRate   int64  `json:"last_implied_rate"`
	OracleRate        int64  `json:"oracle_rate"`
	PreviousTradeTime int64  `json:"previous_trade_time"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// PortfolioAsset is a single fCash position with its valuation.
type PortfolioAsset struct {
	CurrencyID   uint16 `json:"currency_id"`
	Maturity     int64  `json:"maturity"`
	Notional     int64  `json:"notional"`
	OracleRate   int64  `json:"oracle_rate"`
	PresentValue int64  `json:"present_value"`
}

// PortfolioResponse represents an account's fCash positions for API
// queries. Valuations are derived at query time from projected oracle
// rates, not stored.
type PortfolioResponse struct {
	AccountID        uuid.UUID        `json:"account_id"`
	Assets           []PortfolioAsset `json:"assets"`
	NextSettleTime   int64            `json:"next_settle_time"`
	BitmapCurrencyID uint16           `json:"bitmap_currency_id,omitempty"`
	AsOfSequence     int64            `json:"as_of_sequence"`
}

// SettlementResponse represents one settlement cash movement.
type SettlementResponse struct {
	AccountID  uuid.UUID `json:"account_id"`
	CurrencyID uint16    `json:"currency_id"`
	Amount     int64     `json:"amount"` // positive = credited, negative = debited
	EventRef   string    `json:"event_ref"`
	Sequence   int64     `json:"sequence"`
	BlockTime  int64     `json:"block_time"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	CurrencyID    uint16 `json:"currency_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	BlockTime     int64  `json:"block_time"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy            bool                 `json:"is_healthy"`
	HashChainBreaks      []int64              `json:"hash_chain_breaks,omitempty"`
	UnbalancedCurrencies []UnbalancedCurrency `json:"unbalanced_currencies,omitempty"`
}

// UnbalancedCurrency represents a currency whose balances do not sum to
// zero across all accounts.
type UnbalancedCurrency struct {
	CurrencyID uint16 `json:"currency_id"`
	Imbalance  int64  `json:"imbalance"`
}
