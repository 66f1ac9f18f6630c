package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-fiscal-issuance/internal/domain"
	"github.com/pesio-ai/be-fiscal-issuance/internal/repository"
)

// TxRunner runs functions inside database transactions. Satisfied by
// *database.DB.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
	InSerializableTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ProposalStore reads proposals from their owning store.
type ProposalStore interface {
	Get(ctx context.Context, id string, tenantID *string) (*repository.Proposal, error)
}

// DocumentStore persists and reads the fiscal document projection.
type DocumentStore interface {
	Create(ctx context.Context, tx pgx.Tx, doc *repository.FiscalDocument) error
	GetByID(ctx context.Context, id, tenantID string) (*repository.FiscalDocument, error)
	ExistsBySourceProposal(ctx context.Context, proposalID, tenantID string) (bool, error)
	List(ctx context.Context, tenantID string, status, fromDate, toDate *string, limit, offset int) ([]*repository.FiscalDocument, int64, error)
	UpdateOnCancel(ctx context.Context, tx pgx.Tx, id, tenantID string, version int64) error
	UpdateOnPayment(ctx context.Context, tx pgx.Tx, payment *repository.DocumentPayment, tenantID, paymentState string, amountPaid, version int64) error
}

// EventLedger is the append-only domain event store.
type EventLedger interface {
	Append(ctx context.Context, tx pgx.Tx, event domain.Event, expectedVersion int64) (domain.Event, error)
	ReadForAggregate(ctx context.Context, aggregateID string, fromVersion int64) ([]domain.Event, error)
	ReadByType(ctx context.Context, tenantID, eventType string, from, to time.Time) ([]domain.Event, error)
	ReadUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]domain.Event, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []string) error
	LastVersion(ctx context.Context, aggregateID string) (int64, error)
}

// SequenceGenerator issues the next gapless document number for a series.
type SequenceGenerator interface {
	Next(ctx context.Context, tx pgx.Tx, tenantID, series string) (int64, error)
	Current(ctx context.Context, tenantID, series string) (int64, error)
}

// Notifier publishes best-effort post-commit notifications. Implementations
// must never return delivery failures to the caller.
type Notifier interface {
	PublishDocumentIssued(ctx context.Context, documentID, tenantID, clientID, documentNumber, grandTotal string)
}

// EventBus publishes raw event data to downstream subscribers.
type EventBus interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
