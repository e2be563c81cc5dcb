package ingestion

import (
	"context"
	"fmt"
	"time"

	"TermLedger/internal/event"

	"github.com/google/uuid"
)

// GRPCIngestService provides admin/manual event injection. It exists for
// operator intervention and bootstrap, not for high-throughput ingestion
// (use NATS for that). Callers supply the source sequence for the event's
// partition; the core rejects gaps, so the operator must continue the
// partition's count. Block time is the wall clock.
type GRPCIngestService struct {
	eventChan chan<- event.Event
}

func NewGRPCIngestService(eventChan chan<- event.Event) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// EventChan exposes the injection channel for the orchestrator.
func (s *GRPCIngestService) EventChan() chan<- event.Event {
	return s.eventChan
}

// InjectDeposit manually injects a CashDeposited event.
func (s *GRPCIngestService) InjectDeposit(
	ctx context.Context,
	accountID uuid.UUID,
	currencyID uint16,
	amount int64,
	sourceSequence int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.CashDeposited{
		DepositID: uuid.New(),
		AccountID: accountID,
		Currency:  currencyID,
		Amount:    amount,
		Sequence:  sourceSequence,
		Timestamp: time.Now().Unix(),
	}

	return s.send(ctx, evt)
}

// InjectWithdrawal manually injects a CashWithdrawn event.
func (s *GRPCIngestService) InjectWithdrawal(
	ctx context.Context,
	accountID uuid.UUID,
	currencyID uint16,
	amount int64,
	sourceSequence int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.CashWithdrawn{
		WithdrawalID: uuid.New(),
		AccountID:    accountID,
		Currency:     currencyID,
		Amount:       amount,
		Sequence:     sourceSequence,
		Timestamp:    time.Now().Unix(),
	}

	return s.send(ctx, evt)
}

// InjectSettle manually injects an AccountSettled event, forcing
// settlement of a dormant account past a quarter boundary.
func (s *GRPCIngestService) InjectSettle(
	ctx context.Context,
	accountID uuid.UUID,
	sourceSequence int64,
) error {
	evt := &event.AccountSettled{
		RequestID: uuid.New(),
		AccountID: accountID,
		Sequence:  sourceSequence,
		Timestamp: time.Now().Unix(),
	}

	return s.send(ctx, evt)
}

// InjectMarketInit manually injects a MarketsInitialized event, rolling a
// currency's markets into the current quarter.
func (s *GRPCIngestService) InjectMarketInit(
	ctx context.Context,
	currencyID uint16,
	sourceSequence int64,
) error {
	evt := &event.MarketsInitialized{
		RequestID: uuid.New(),
		Currency:  currencyID,
		Sequence:  sourceSequence,
		Timestamp: time.Now().Unix(),
	}

	return s.send(ctx, evt)
}

func (s *GRPCIngestService) send(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
