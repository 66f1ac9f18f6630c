package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/database"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
	"github.com/pesio-ai/be-fiscal-issuance/internal/domain"
)

// Proposal is the read-only view of a commercial proposal owned by the
// external proposal store. This service never writes to it.
type Proposal struct {
	ID               string
	TenantID         string
	ClientID         string
	Status           string
	LineItems        []domain.LineItem
	QuotedGrandTotal decimal.Decimal
	LinkedPaymentID  *string
}

// ProposalStatusPaid is the proposal state required for issuance (unless
// the call is an escrow release).
const ProposalStatusPaid = "paid"

// ProposalRepository reads proposals from their owning store.
type ProposalRepository struct {
	db *database.DB
}

// NewProposalRepository creates a new ProposalRepository.
func NewProposalRepository(db *database.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// Get loads a proposal by id. When tenantID is non-nil the lookup is tenant
// scoped; a nil tenantID is the privileged escrow-release path that bypasses
// tenant scoping.
func (r *ProposalRepository) Get(ctx context.Context, id string, tenantID *string) (*Proposal, error) {
	query := `
		SELECT id, tenant_id, client_id, status, line_items,
		       quoted_grand_total::text, linked_payment_id
		FROM proposals
		WHERE id = $1
	`
	args := []any{id}

	if tenantID != nil {
		query += ` AND tenant_id = $2`
		args = append(args, *tenantID)
	}

	var (
		p            Proposal
		lineItemsRaw []byte
		quotedText   string
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.TenantID,
		&p.ClientID,
		&p.Status,
		&lineItemsRaw,
		&quotedText,
		&p.LinkedPaymentID,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("proposal", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get proposal")
	}

	if err := json.Unmarshal(lineItemsRaw, &p.LineItems); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal proposal line items")
	}

	p.QuotedGrandTotal, err = decimal.NewFromString(quotedText)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse quoted grand total")
	}

	return &p, nil
}
