package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/logger"
	"github.com/pesio-ai/be-fiscal-issuance/internal/domain"
)

// OutboxPoller delivers ledger events to downstream subscribers. It claims
// unpublished events in batches, publishes each to the event bus, and marks
// only the delivered ones published — at-least-once semantics downstream.
// Issuance itself never waits on delivery.
type OutboxPoller struct {
	tx       TxRunner
	ledger   EventLedger
	bus      EventBus
	batch    int
	interval time.Duration
	log      *logger.Logger
}

// NewOutboxPoller creates a new OutboxPoller.
func NewOutboxPoller(tx TxRunner, ledger EventLedger, bus EventBus, batch int, interval time.Duration, log *logger.Logger) *OutboxPoller {
	if batch < 1 {
		batch = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OutboxPoller{
		tx:       tx,
		ledger:   ledger,
		bus:      bus,
		batch:    batch,
		interval: interval,
		log:      log,
	}
}

// outboxMessage is the wire envelope published for each ledger event.
type outboxMessage struct {
	EventID          string          `json:"event_id"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateVersion int64           `json:"aggregate_version"`
	EventType        string          `json:"event_type"`
	TenantID         string          `json:"tenant_id"`
	OccurredOn       time.Time       `json:"occurred_on"`
	Payload          json.RawMessage `json:"payload"`
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info().
		Int("batch_size", p.batch).
		Dur("interval", p.interval).
		Msg("Outbox poller started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Outbox poller stopped")
			return
		case <-ticker.C:
			if n, err := p.ProcessBatch(ctx); err != nil {
				p.log.Error().Err(err).Msg("Outbox batch failed")
			} else if n > 0 {
				p.log.Debug().Int("published", n).Msg("Outbox batch published")
			}
		}
	}
}

// ProcessBatch claims one batch of unpublished events and delivers them in
// occurrence order. Delivery stops at the first failure; events already
// delivered in this batch are still marked published, the rest are retried
// on the next tick.
func (p *OutboxPoller) ProcessBatch(ctx context.Context) (int, error) {
	published := 0

	err := p.tx.InTransaction(ctx, func(tx pgx.Tx) error {
		events, err := p.ledger.ReadUnpublished(ctx, tx, p.batch)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		delivered := make([]string, 0, len(events))
		for _, event := range events {
			if err := p.publishOne(ctx, event); err != nil {
				p.log.Warn().
					Err(err).
					Str("event_id", event.ID).
					Str("event_type", event.EventType).
					Msg("Event delivery failed, will retry")
				break
			}
			delivered = append(delivered, event.ID)
		}

		if len(delivered) == 0 {
			return nil
		}
		published = len(delivered)
		return p.ledger.MarkPublished(ctx, tx, delivered)
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

func (p *OutboxPoller) publishOne(ctx context.Context, event domain.Event) error {
	msg := outboxMessage{
		EventID:          event.ID,
		AggregateID:      event.AggregateID,
		AggregateType:    event.AggregateType,
		AggregateVersion: event.AggregateVersion,
		EventType:        event.EventType,
		TenantID:         event.TenantID,
		OccurredOn:       event.OccurredOn,
		Payload:          event.Payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("fiscal.events.%s", event.EventType)
	return p.bus.Publish(ctx, subject, data)
}
