package event

import "github.com/google/uuid"

// AccountSettled triggers settlement of an account's matured positions
// without any other action. Settlement also runs implicitly before every
// operation that touches an account, so this event exists for accounts
// that would otherwise stay dormant past a quarter boundary.
type AccountSettled struct {
	RequestID uuid.UUID
	AccountID uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (s *AccountSettled) IdempotencyKey() string {
	return s.RequestID.String()
}

func (s *AccountSettled) EventType() EventType {
	return EventTypeAccountSettled
}

func (s *AccountSettled) CurrencyID() *uint16 {
	return nil // Settlement touches every currency the account holds
}

func (s *AccountSettled) SourceSequence() int64 {
	return s.Sequence
}

func (s *AccountSettled) BlockTime() int64 {
	return s.Timestamp
}
