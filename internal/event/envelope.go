package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCashDeposited
	EventTypeCashWithdrawn
	EventTypeTradeExecuted
	EventTypeFCashTransferred
	EventTypeAccountSettled
	EventTypeBitmapCurrencyEnabled
	EventTypeMarketsInitialized
	EventTypeCashGroupUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Currency context (nullable for global events)
	CurrencyID *uint16

	// Versioned block time in epoch seconds (NOT wall-clock)
	Timestamp int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// CurrencyID returns the currency context (nil for global events)
	CurrencyID() *uint16

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// BlockTime returns the versioned block time in epoch seconds
	BlockTime() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeCashDeposited:
		return "CashDeposited"
	case EventTypeCashWithdrawn:
		return "CashWithdrawn"
	case EventTypeTradeExecuted:
		return "TradeExecuted"
	case EventTypeFCashTransferred:
		return "FCashTransferred"
	case EventTypeAccountSettled:
		return "AccountSettled"
	case EventTypeBitmapCurrencyEnabled:
		return "BitmapCurrencyEnabled"
	case EventTypeMarketsInitialized:
		return "MarketsInitialized"
	case EventTypeCashGroupUpdated:
		return "CashGroupUpdated"
	default:
		return "Unknown"
	}
}
