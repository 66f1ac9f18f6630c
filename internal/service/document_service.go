package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/logger"
	"github.com/pesio-ai/be-fiscal-issuance/internal/domain"
	"github.com/pesio-ai/be-fiscal-issuance/internal/repository"
)

// DocumentService handles the lifecycle of already-issued documents:
// cancellation, payment registration, and the query surface. Writes follow
// the same discipline as issuance: reconstruct from the ledger, mutate the
// aggregate, append events and update the projection in one transaction.
type DocumentService struct {
	tx         TxRunner
	documents  DocumentStore
	ledger     EventLedger
	maxRetries int
	log        *logger.Logger
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(tx TxRunner, documents DocumentStore, ledger EventLedger, maxRetries int, log *logger.Logger) *DocumentService {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &DocumentService{
		tx:         tx,
		documents:  documents,
		ledger:     ledger,
		maxRetries: maxRetries,
		log:        log,
	}
}

// CancelRequest asks for a document to be cancelled. The document keeps its
// number and hash; fiscal numbers are never reclaimed.
type CancelRequest struct {
	DocumentID string
	TenantID   string
	Reason     string
	ActorID    string
}

// Cancel transitions an active document to cancelled.
func (s *DocumentService) Cancel(ctx context.Context, req *CancelRequest) error {
	err := s.withConcurrencyRetry(ctx, req.DocumentID, func() error {
		aggregate, err := s.loadAggregate(ctx, req.DocumentID, req.TenantID)
		if err != nil {
			return err
		}

		if err := aggregate.Cancel(req.Reason, req.ActorID); err != nil {
			return err
		}

		return s.tx.InTransaction(ctx, func(tx pgx.Tx) error {
			for _, event := range aggregate.UncommittedEvents() {
				if _, err := s.ledger.Append(ctx, tx, event, event.AggregateVersion); err != nil {
					return err
				}
			}
			if err := s.documents.UpdateOnCancel(ctx, tx, req.DocumentID, req.TenantID, aggregate.Version); err != nil {
				return err
			}
			aggregate.MarkCommitted()
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("document_id", req.DocumentID).
		Str("tenant_id", req.TenantID).
		Str("cancelled_by", req.ActorID).
		Str("reason", req.Reason).
		Msg("Fiscal document cancelled")
	return nil
}

// RegisterPaymentRequest records a payment against a document.
type RegisterPaymentRequest struct {
	DocumentID string
	TenantID   string
	PaymentID  string
	Amount     decimal.Decimal
	ActorID    string
}

// RegisterPayment records the payment and re-derives the payment state from
// the cumulative sum of registered amounts versus the grand total.
func (s *DocumentService) RegisterPayment(ctx context.Context, req *RegisterPaymentRequest) error {
	var paymentState string

	err := s.withConcurrencyRetry(ctx, req.DocumentID, func() error {
		aggregate, err := s.loadAggregate(ctx, req.DocumentID, req.TenantID)
		if err != nil {
			return err
		}

		if err := aggregate.RegisterPayment(req.PaymentID, req.Amount, req.ActorID); err != nil {
			return err
		}
		paymentState = aggregate.PaymentState

		return s.tx.InTransaction(ctx, func(tx pgx.Tx) error {
			for _, event := range aggregate.UncommittedEvents() {
				if _, err := s.ledger.Append(ctx, tx, event, event.AggregateVersion); err != nil {
					return err
				}
			}

			var createdBy *string
			if req.ActorID != "" {
				actor := req.ActorID
				createdBy = &actor
			}
			payment := &repository.DocumentPayment{
				DocumentID: req.DocumentID,
				PaymentID:  req.PaymentID,
				Amount:     toCents(req.Amount.Round(2)),
				CreatedBy:  createdBy,
			}
			if err := s.documents.UpdateOnPayment(ctx, tx, payment, req.TenantID,
				aggregate.PaymentState, toCents(aggregate.PaymentsReceived.Round(2)), aggregate.Version); err != nil {
				return err
			}
			aggregate.MarkCommitted()
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("document_id", req.DocumentID).
		Str("payment_id", req.PaymentID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("payment_state", paymentState).
		Msg("Payment registered")
	return nil
}

// GetDocument retrieves the projection of one document.
func (s *DocumentService) GetDocument(ctx context.Context, id, tenantID string) (*repository.FiscalDocument, error) {
	return s.documents.GetByID(ctx, id, tenantID)
}

// ListDocuments lists documents with filtering and pagination.
func (s *DocumentService) ListDocuments(ctx context.Context, tenantID string, status, fromDate, toDate *string, page, pageSize int) ([]*repository.FiscalDocument, int64, error) {
	offset := (page - 1) * pageSize
	return s.documents.List(ctx, tenantID, status, fromDate, toDate, pageSize, offset)
}

// GetHistory returns the full ordered event history of a document for the
// audit surface.
func (s *DocumentService) GetHistory(ctx context.Context, documentID, tenantID string) ([]domain.Event, error) {
	events, err := s.ledger.ReadForAggregate(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 || events[0].TenantID != tenantID {
		return nil, errors.NotFound("fiscal document", documentID)
	}
	return events, nil
}

// GetEventsByType returns events of one type for a tenant in a time range.
func (s *DocumentService) GetEventsByType(ctx context.Context, tenantID, eventType string, from, to time.Time) ([]domain.Event, error) {
	return s.ledger.ReadByType(ctx, tenantID, eventType, from, to)
}

// GetUnpublishedEvents returns up to limit ledger events that have not yet
// been delivered downstream, for external compliance tooling to observe
// delivery lag. The read runs in a short transaction so the claiming
// semantics match the poller's; nothing is marked published here.
func (s *DocumentService) GetUnpublishedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := s.tx.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		events, err = s.ledger.ReadUnpublished(ctx, tx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// loadAggregate rebuilds the aggregate from its event history, scoped to
// the tenant.
func (s *DocumentService) loadAggregate(ctx context.Context, documentID, tenantID string) (*domain.Invoice, error) {
	events, err := s.ledger.ReadForAggregate(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.NotFound("fiscal document", documentID)
	}

	aggregate, err := domain.ReconstructFromHistory(events)
	if err != nil {
		return nil, err
	}
	if aggregate.TenantID != tenantID {
		return nil, errors.NotFound("fiscal document", documentID)
	}
	return aggregate, nil
}

// withConcurrencyRetry re-runs fn, which must reload the aggregate itself,
// when another writer advanced the version first. All other errors are
// terminal.
func (s *DocumentService) withConcurrencyRetry(ctx context.Context, documentID string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) || attempt >= s.maxRetries {
			return err
		}
		s.log.Warn().
			Err(err).
			Str("document_id", documentID).
			Int("attempt", attempt).
			Msg("Optimistic append conflict, reloading and retrying")
	}
}
