package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/database"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
	"github.com/pesio-ai/be-fiscal-issuance/internal/domain"
)

// uqEventVersion is the constraint backing optimistic concurrency control:
// version N for an aggregate can be written at most once.
const uqEventVersion = "uq_invoice_events_aggregate_version"

// EventLedgerRepository is the append-only store of domain events.
type EventLedgerRepository struct {
	db *database.DB
}

// NewEventLedgerRepository creates a new EventLedgerRepository.
func NewEventLedgerRepository(db *database.DB) *EventLedgerRepository {
	return &EventLedgerRepository{db: db}
}

// Append persists one event at exactly expectedVersion within the caller's
// transaction. If another writer already advanced the aggregate to that
// version the unique constraint fires and a CONCURRENCY error is returned;
// the caller must reload the aggregate and retry. No locks are held between
// read and write.
func (r *EventLedgerRepository) Append(ctx context.Context, tx pgx.Tx, event domain.Event, expectedVersion int64) (domain.Event, error) {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return domain.Event{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal event metadata")
	}

	query := `
		INSERT INTO invoice_events
		    (id, aggregate_id, aggregate_type, aggregate_version,
		     event_type, payload, metadata, tenant_id, occurred_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, occurred_on
	`

	event.AggregateVersion = expectedVersion
	err = tx.QueryRow(ctx, query,
		event.ID,
		event.AggregateID,
		event.AggregateType,
		expectedVersion,
		event.EventType,
		[]byte(event.Payload),
		metadataJSON,
		event.TenantID,
		event.OccurredOn,
	).Scan(&event.ID, &event.OccurredOn)

	if err != nil {
		if database.IsUniqueViolation(err, uqEventVersion) {
			return domain.Event{}, errors.Newf(errors.ErrCodeConcurrency,
				"version %d already exists for aggregate %s", expectedVersion, event.AggregateID)
		}
		return domain.Event{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to append event")
	}

	return event, nil
}

// ReadForAggregate returns all events for the aggregate ordered by ascending
// version, optionally starting from fromVersion (0 reads the full history).
func (r *EventLedgerRepository) ReadForAggregate(ctx context.Context, aggregateID string, fromVersion int64) ([]domain.Event, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, aggregate_version,
		       event_type, payload, metadata, tenant_id, occurred_on, published
		FROM invoice_events
		WHERE aggregate_id = $1 AND aggregate_version >= $2
		ORDER BY aggregate_version ASC
	`

	rows, err := r.db.Query(ctx, query, aggregateID, fromVersion)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read aggregate events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadByType returns events of one type for a tenant within a time range,
// for the compliance/reporting audit surface.
func (r *EventLedgerRepository) ReadByType(ctx context.Context, tenantID, eventType string, from, to time.Time) ([]domain.Event, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, aggregate_version,
		       event_type, payload, metadata, tenant_id, occurred_on, published
		FROM invoice_events
		WHERE tenant_id = $1 AND event_type = $2
		  AND occurred_on >= $3 AND occurred_on < $4
		ORDER BY occurred_on ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, eventType, from, to)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read events by type")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadUnpublished claims up to limit unpublished events ordered by
// occurrence time, with the version as tie-breaker: events appended in one
// transaction share near-identical timestamps, and an aggregate's events
// must never publish out of version order. Run inside a transaction: SKIP
// LOCKED keeps concurrent pollers from claiming the same batch while it is
// in flight.
func (r *EventLedgerRepository) ReadUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]domain.Event, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, aggregate_version,
		       event_type, payload, metadata, tenant_id, occurred_on, published
		FROM invoice_events
		WHERE NOT published
		ORDER BY occurred_on ASC, aggregate_version ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read unpublished events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkPublished idempotently flips published=true for the given ids.
func (r *EventLedgerRepository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE invoice_events SET published = TRUE WHERE id = ANY($1)`

	if _, err := tx.Exec(ctx, query, ids); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark events published")
	}
	return nil
}

// LastVersion returns the highest persisted version for the aggregate, or 0
// if no events exist.
func (r *EventLedgerRepository) LastVersion(ctx context.Context, aggregateID string) (int64, error) {
	query := `
		SELECT COALESCE(MAX(aggregate_version), 0)
		FROM invoice_events
		WHERE aggregate_id = $1
	`

	var version int64
	if err := r.db.QueryRow(ctx, query, aggregateID).Scan(&version); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read last version")
	}
	return version, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	events := make([]domain.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate events")
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (domain.Event, error) {
	var (
		event        domain.Event
		payloadJSON  []byte
		metadataJSON []byte
	)

	err := rows.Scan(
		&event.ID,
		&event.AggregateID,
		&event.AggregateType,
		&event.AggregateVersion,
		&event.EventType,
		&payloadJSON,
		&metadataJSON,
		&event.TenantID,
		&event.OccurredOn,
		&event.Published,
	)
	if err != nil {
		return domain.Event{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan event")
	}

	event.Payload = json.RawMessage(payloadJSON)
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return domain.Event{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal event metadata")
		}
	}

	return event, nil
}
