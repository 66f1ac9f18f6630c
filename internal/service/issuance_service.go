package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/logger"
	"github.com/pesio-ai/be-fiscal-issuance/internal/domain"
	"github.com/pesio-ai/be-fiscal-issuance/internal/repository"
)

// seriesByDocumentType maps a document type to its fiscal numbering series.
// Each series is an independent gapless counter per tenant.
var seriesByDocumentType = map[string]string{
	domain.DocumentTypeInvoice:    "INV",
	domain.DocumentTypeReceipt:    "RCP",
	domain.DocumentTypeCreditNote: "CRN",
	domain.DocumentTypeDebitNote:  "DBN",
}

// IssuanceConfig holds issuance policy knobs.
type IssuanceConfig struct {
	// Tolerance is the maximum allowed absolute difference between the
	// proposal's quoted total and the recomputed grand total.
	Tolerance decimal.Decimal
	// MaxRetries bounds how many times a lost serialization race is
	// retried before CONCURRENCY is surfaced to the caller.
	MaxRetries int
	// TaxpayerID is hashed into every document's integrity digest.
	TaxpayerID string
}

// IssuanceService turns an approved commercial proposal into a numbered,
// hashed, ledgered fiscal document exactly once.
type IssuanceService struct {
	tx        TxRunner
	proposals ProposalStore
	documents DocumentStore
	ledger    EventLedger
	sequences SequenceGenerator
	notifier  Notifier
	cfg       IssuanceConfig
	log       *logger.Logger

	now func() time.Time
}

// NewIssuanceService creates a new IssuanceService.
func NewIssuanceService(
	tx TxRunner,
	proposals ProposalStore,
	documents DocumentStore,
	ledger EventLedger,
	sequences SequenceGenerator,
	notifier Notifier,
	cfg IssuanceConfig,
	log *logger.Logger,
) *IssuanceService {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	return &IssuanceService{
		tx:        tx,
		proposals: proposals,
		documents: documents,
		ledger:    ledger,
		sequences: sequences,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// IssueRequest identifies the proposal to issue from.
type IssueRequest struct {
	ProposalID      string
	TenantID        string
	ActorID         string
	IsEscrowRelease bool
}

// IssueResult identifies the issued document.
type IssueResult struct {
	DocumentID     string `json:"document_id"`
	DocumentNumber string `json:"document_number"`
}

// Issue runs the issuance flow: load and validate the proposal, recompute
// totals, then inside one SERIALIZABLE transaction obtain the next fiscal
// number, hash the canonical fields, emit the creation event, and persist
// projection and event together. A lost concurrency race on the sequence
// counter or the event version retries the transactional section from the
// number acquisition onward; totals are not recomputed. After the commit a
// notification is published best-effort.
func (s *IssuanceService) Issue(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	// Escrow releases are a privileged flow that may cross tenant scope.
	var tenantScope *string
	if !req.IsEscrowRelease {
		tenantScope = &req.TenantID
	}

	proposal, err := s.proposals.Get(ctx, req.ProposalID, tenantScope)
	if err != nil {
		return nil, err
	}

	if proposal.Status != repository.ProposalStatusPaid && !req.IsEscrowRelease {
		return nil, errors.Newf(errors.ErrCodeInvalidState,
			"cannot issue from proposal in status %q", proposal.Status)
	}

	exists, err := s.documents.ExistsBySourceProposal(ctx, proposal.ID, proposal.TenantID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.New(errors.ErrCodeDuplicate, "a fiscal document was already issued for this proposal")
	}

	totals, err := domain.CalculateTotals(proposal.LineItems)
	if err != nil {
		return nil, err
	}

	drift := totals.GrandTotal.Sub(proposal.QuotedGrandTotal).Abs()
	if drift.GreaterThan(s.cfg.Tolerance) {
		return nil, errors.Newf(errors.ErrCodeTolerance,
			"recomputed total %s drifts %s from quoted total %s",
			totals.GrandTotal.StringFixed(2), drift.StringFixed(2), proposal.QuotedGrandTotal.StringFixed(2))
	}

	issueDate := s.now().UTC().Format("2006-01-02")
	series := seriesByDocumentType[domain.DocumentTypeInvoice]

	var result *IssueResult
	for attempt := 1; ; attempt++ {
		result, err = s.issueOnce(ctx, proposal, totals, issueDate, series, req.ActorID)
		if err == nil {
			break
		}
		if !errors.IsRetryable(err) || attempt >= s.cfg.MaxRetries {
			return nil, err
		}
		s.log.Warn().
			Err(err).
			Str("proposal_id", proposal.ID).
			Int("attempt", attempt).
			Msg("Issuance transaction lost concurrency race, retrying")
	}

	s.log.Info().
		Str("document_id", result.DocumentID).
		Str("document_number", result.DocumentNumber).
		Str("proposal_id", proposal.ID).
		Str("tenant_id", proposal.TenantID).
		Str("grand_total", totals.GrandTotal.StringFixed(2)).
		Bool("escrow_release", req.IsEscrowRelease).
		Msg("Fiscal document issued")

	// Post-commit, best-effort. Failures are recovered by the
	// unpublished-event poller, never by re-running issuance.
	s.notifier.PublishDocumentIssued(ctx,
		result.DocumentID, proposal.TenantID, proposal.ClientID,
		result.DocumentNumber, totals.GrandTotal.StringFixed(2))

	return result, nil
}

// CurrentSequence returns the last number issued for the tenant's series of
// the given document type, or 0 if the series has never issued. Compliance
// tooling uses this to verify the counter against the documents on record.
func (s *IssuanceService) CurrentSequence(ctx context.Context, tenantID, documentType string) (int64, error) {
	series, ok := seriesByDocumentType[documentType]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeValidation, "unknown document type %q", documentType)
	}
	return s.sequences.Current(ctx, tenantID, series)
}

// issueOnce is one atomic attempt: sequence, hash, emit, projection, ledger.
// Everything commits together or rolls back together.
func (s *IssuanceService) issueOnce(ctx context.Context, proposal *repository.Proposal, totals domain.Totals, issueDate, series, actorID string) (*IssueResult, error) {
	var result *IssueResult

	err := s.tx.InSerializableTransaction(ctx, func(tx pgx.Tx) error {
		seq, err := s.sequences.Next(ctx, tx, proposal.TenantID, series)
		if err != nil {
			return err
		}

		documentNumber := formatDocumentNumber(series, issueDate, seq)

		hash, err := domain.IntegrityHash(
			domain.DocumentTypeInvoice, documentNumber, issueDate,
			totals.GrandTotal, s.cfg.TaxpayerID)
		if err != nil {
			return err
		}

		aggregate := domain.NewInvoice()
		proposalID := proposal.ID
		if err := aggregate.Emit(domain.EmitParams{
			TenantID:         proposal.TenantID,
			ClientID:         proposal.ClientID,
			SourceProposalID: &proposalID,
			DocumentNumber:   documentNumber,
			DocumentType:     domain.DocumentTypeInvoice,
			IssueDate:        issueDate,
			LineItems:        proposal.LineItems,
			Totals:           totals,
			IntegrityHash:    hash,
			LinkedPaymentID:  proposal.LinkedPaymentID,
			ActorID:          actorID,
		}); err != nil {
			return err
		}

		doc := projectionFromAggregate(aggregate)
		if err := s.documents.Create(ctx, tx, doc); err != nil {
			return err
		}

		for _, event := range aggregate.UncommittedEvents() {
			if _, err := s.ledger.Append(ctx, tx, event, event.AggregateVersion); err != nil {
				return err
			}
		}
		aggregate.MarkCommitted()

		result = &IssueResult{
			DocumentID:     aggregate.ID,
			DocumentNumber: documentNumber,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// formatDocumentNumber renders the human-readable identifier: series prefix,
// fiscal year, zero-padded sequence.
func formatDocumentNumber(series, issueDate string, seq int64) string {
	year := issueDate[:4]
	return fmt.Sprintf("%s-%s-%06d", series, year, seq)
}

// projectionFromAggregate builds the denormalized projection row from the
// freshly emitted aggregate state.
func projectionFromAggregate(inv *domain.Invoice) *repository.FiscalDocument {
	doc := &repository.FiscalDocument{
		ID:               inv.ID,
		TenantID:         inv.TenantID,
		ClientID:         inv.ClientID,
		SourceProposalID: inv.SourceProposalID,
		DocumentNumber:   inv.DocumentNumber,
		DocumentType:     inv.DocumentType,
		IssueDate:        inv.IssueDate,
		Status:           inv.LifecycleState,
		PaymentState:     inv.PaymentState,
		Subtotal:         toCents(inv.Totals.Subtotal),
		DiscountTotal:    toCents(inv.Totals.DiscountTotal),
		TaxTotal:         toCents(inv.Totals.TaxTotal),
		GrandTotal:       toCents(inv.Totals.GrandTotal),
		AmountPaid:       toCents(inv.PaymentsReceived),
		IntegrityHash:    inv.IntegrityHash,
		LinkedPaymentID:  inv.LinkedPaymentID,
		Version:          inv.Version,
	}

	for i, item := range inv.LineItems {
		var productID *string
		if item.ProductID != "" {
			pid := item.ProductID
			productID = &pid
		}
		doc.Lines = append(doc.Lines, &repository.FiscalDocumentLine{
			LineNumber:      i + 1,
			ProductID:       productID,
			Description:     item.Description,
			Quantity:        item.Quantity.InexactFloat64(),
			UnitPrice:       toCents(item.UnitPrice.Round(2)),
			DiscountPercent: item.DiscountPercent.InexactFloat64(),
			TaxPercent:      item.TaxPercent.InexactFloat64(),
			LineTotal:       toCents(domain.LineTotal(item)),
		})
	}

	return doc
}

// toCents converts a 2-dp rounded decimal amount to integer cents.
func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}
