package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/database"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
)

const uqSourceProposal = "uq_fiscal_documents_source_proposal"

// FiscalDocument is the denormalized projection row of one issued document.
// The event ledger is authoritative; this row exists for direct lookup and
// listing. All monetary amounts are integer cents.
type FiscalDocument struct {
	ID               string
	TenantID         string
	ClientID         string
	SourceProposalID *string
	DocumentNumber   string
	DocumentType     string
	IssueDate        string
	Status           string
	PaymentState     string
	Subtotal         int64
	DiscountTotal    int64
	TaxTotal         int64
	GrandTotal       int64
	AmountPaid       int64
	IntegrityHash    string
	LinkedPaymentID  *string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Lines            []*FiscalDocumentLine
}

// FiscalDocumentLine is one projection line item.
type FiscalDocumentLine struct {
	ID              string
	DocumentID      string
	LineNumber      int
	ProductID       *string
	Description     string
	Quantity        float64
	UnitPrice       int64
	DiscountPercent float64
	TaxPercent      float64
	LineTotal       int64
}

// DocumentPayment is one payment recorded against a document.
type DocumentPayment struct {
	ID         string
	DocumentID string
	PaymentID  string
	Amount     int64
	CreatedBy  *string
	CreatedAt  time.Time
}

// DocumentRepository handles the fiscal document projection.
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts the projection row and its lines within the caller's
// transaction. A second issuance for the same source proposal trips the
// partial unique index and surfaces as DUPLICATE.
func (r *DocumentRepository) Create(ctx context.Context, tx pgx.Tx, doc *FiscalDocument) error {
	query := `
		INSERT INTO fiscal_documents
		    (id, tenant_id, client_id, source_proposal_id, document_number,
		     document_type, issue_date, status, payment_state,
		     subtotal, discount_total, tax_total, grand_total, amount_paid,
		     integrity_hash, linked_payment_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
		        $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		doc.ID,
		doc.TenantID,
		doc.ClientID,
		doc.SourceProposalID,
		doc.DocumentNumber,
		doc.DocumentType,
		doc.IssueDate,
		doc.Status,
		doc.PaymentState,
		doc.Subtotal,
		doc.DiscountTotal,
		doc.TaxTotal,
		doc.GrandTotal,
		doc.AmountPaid,
		doc.IntegrityHash,
		doc.LinkedPaymentID,
		doc.Version,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)

	if err != nil {
		if database.IsUniqueViolation(err, uqSourceProposal) {
			return errors.New(errors.ErrCodeDuplicate, "a fiscal document already exists for this proposal")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create fiscal document")
	}

	for _, line := range doc.Lines {
		lineQuery := `
			INSERT INTO fiscal_document_lines
			    (document_id, line_number, product_id, description,
			     quantity, unit_price, discount_percent, tax_percent, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`

		err := tx.QueryRow(ctx, lineQuery,
			doc.ID,
			line.LineNumber,
			line.ProductID,
			line.Description,
			line.Quantity,
			line.UnitPrice,
			line.DiscountPercent,
			line.TaxPercent,
			line.LineTotal,
		).Scan(&line.ID)

		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create fiscal document line")
		}
		line.DocumentID = doc.ID
	}

	return nil
}

// GetByID retrieves a document with all lines.
func (r *DocumentRepository) GetByID(ctx context.Context, id, tenantID string) (*FiscalDocument, error) {
	doc := &FiscalDocument{}

	query := `
		SELECT id, tenant_id, client_id, source_proposal_id, document_number,
		       document_type, issue_date::text, status, payment_state,
		       subtotal, discount_total, tax_total, grand_total, amount_paid,
		       integrity_hash, linked_payment_id, version, created_at, updated_at
		FROM fiscal_documents
		WHERE id = $1 AND tenant_id = $2
	`

	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(
		&doc.ID,
		&doc.TenantID,
		&doc.ClientID,
		&doc.SourceProposalID,
		&doc.DocumentNumber,
		&doc.DocumentType,
		&doc.IssueDate,
		&doc.Status,
		&doc.PaymentState,
		&doc.Subtotal,
		&doc.DiscountTotal,
		&doc.TaxTotal,
		&doc.GrandTotal,
		&doc.AmountPaid,
		&doc.IntegrityHash,
		&doc.LinkedPaymentID,
		&doc.Version,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("fiscal document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get fiscal document")
	}

	lines, err := r.GetLines(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines

	return doc, nil
}

// GetLines retrieves all lines for a document ordered by line number.
func (r *DocumentRepository) GetLines(ctx context.Context, documentID string) ([]*FiscalDocumentLine, error) {
	query := `
		SELECT id, document_id, line_number, product_id, description,
		       quantity, unit_price, discount_percent, tax_percent, line_total
		FROM fiscal_document_lines
		WHERE document_id = $1
		ORDER BY line_number
	`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document lines")
	}
	defer rows.Close()

	lines := make([]*FiscalDocumentLine, 0)
	for rows.Next() {
		line := &FiscalDocumentLine{}
		err := rows.Scan(
			&line.ID,
			&line.DocumentID,
			&line.LineNumber,
			&line.ProductID,
			&line.Description,
			&line.Quantity,
			&line.UnitPrice,
			&line.DiscountPercent,
			&line.TaxPercent,
			&line.LineTotal,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document line")
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// ExistsBySourceProposal reports whether a document already references the
// proposal as its origin (the idempotency pre-check; the unique index is
// the transactional backstop).
func (r *DocumentRepository) ExistsBySourceProposal(ctx context.Context, proposalID, tenantID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM fiscal_documents
			WHERE source_proposal_id = $1 AND tenant_id = $2
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, proposalID, tenantID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check for existing document")
	}
	return exists, nil
}

// List retrieves documents with filtering and pagination.
func (r *DocumentRepository) List(ctx context.Context, tenantID string, status, fromDate, toDate *string, limit, offset int) ([]*FiscalDocument, int64, error) {
	query := `
		SELECT id, tenant_id, client_id, source_proposal_id, document_number,
		       document_type, issue_date::text, status, payment_state,
		       subtotal, discount_total, tax_total, grand_total, amount_paid,
		       integrity_hash, linked_payment_id, version, created_at, updated_at
		FROM fiscal_documents
		WHERE tenant_id = $1
	`

	countQuery := `SELECT COUNT(*) FROM fiscal_documents WHERE tenant_id = $1`

	args := []any{tenantID}
	argCount := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *status)
		argCount++
	}

	if fromDate != nil {
		query += fmt.Sprintf(" AND issue_date >= $%d", argCount)
		countQuery += fmt.Sprintf(" AND issue_date >= $%d", argCount)
		args = append(args, *fromDate)
		argCount++
	}

	if toDate != nil {
		query += fmt.Sprintf(" AND issue_date <= $%d", argCount)
		countQuery += fmt.Sprintf(" AND issue_date <= $%d", argCount)
		args = append(args, *toDate)
		argCount++
	}

	query += " ORDER BY issue_date DESC, document_number DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count documents")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list documents")
	}
	defer rows.Close()

	docs := make([]*FiscalDocument, 0)
	for rows.Next() {
		doc := &FiscalDocument{}
		err := rows.Scan(
			&doc.ID,
			&doc.TenantID,
			&doc.ClientID,
			&doc.SourceProposalID,
			&doc.DocumentNumber,
			&doc.DocumentType,
			&doc.IssueDate,
			&doc.Status,
			&doc.PaymentState,
			&doc.Subtotal,
			&doc.DiscountTotal,
			&doc.TaxTotal,
			&doc.GrandTotal,
			&doc.AmountPaid,
			&doc.IntegrityHash,
			&doc.LinkedPaymentID,
			&doc.Version,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document")
		}
		docs = append(docs, doc)
	}

	return docs, total, nil
}

// UpdateOnCancel reflects a cancellation event in the projection, within
// the caller's transaction.
func (r *DocumentRepository) UpdateOnCancel(ctx context.Context, tx pgx.Tx, id, tenantID string, version int64) error {
	query := `
		UPDATE fiscal_documents
		SET status = 'cancelled',
		    version = $3,
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, tenantID, version).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("fiscal document", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update cancelled document")
	}
	return nil
}

// UpdateOnPayment reflects a payment event in the projection and records
// the payment row, within the caller's transaction.
func (r *DocumentRepository) UpdateOnPayment(ctx context.Context, tx pgx.Tx, payment *DocumentPayment, tenantID, paymentState string, amountPaid, version int64) error {
	insertQuery := `
		INSERT INTO fiscal_document_payments (document_id, payment_id, amount, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, insertQuery,
		payment.DocumentID,
		payment.PaymentID,
		payment.Amount,
		payment.CreatedBy,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record document payment")
	}

	updateQuery := `
		UPDATE fiscal_documents
		SET amount_paid = $3,
		    payment_state = $4,
		    version = $5,
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING id
	`

	var returnedID string
	err = tx.QueryRow(ctx, updateQuery, payment.DocumentID, tenantID, amountPaid, paymentState, version).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("fiscal document", payment.DocumentID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update document payment state")
	}
	return nil
}
