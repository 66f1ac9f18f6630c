package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/database"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
)

// FiscalSequenceRepository issues strictly increasing, gapless document
// numbers per (tenant, series). The counter row is the only shared mutable
// resource on the numbering path and is protected exclusively by the
// surrounding transaction's isolation level, never by application locks.
type FiscalSequenceRepository struct {
	db *database.DB
}

// NewFiscalSequenceRepository creates a new FiscalSequenceRepository.
func NewFiscalSequenceRepository(db *database.DB) *FiscalSequenceRepository {
	return &FiscalSequenceRepository{db: db}
}

// Next increments and returns the counter for (tenantID, series) within the
// caller's transaction. The caller must run the transaction SERIALIZABLE so
// concurrent increments are forced to serialize; a transaction that loses
// the race aborts with a serialization failure and must be retried in full.
// The returned value is never cached across requests.
func (r *FiscalSequenceRepository) Next(ctx context.Context, tx pgx.Tx, tenantID, series string) (int64, error) {
	query := `
		INSERT INTO fiscal_sequences (tenant_id, series, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, series)
		DO UPDATE SET last_value = fiscal_sequences.last_value + 1,
		              updated_at = NOW()
		RETURNING last_value
	`

	var value int64
	if err := tx.QueryRow(ctx, query, tenantID, series).Scan(&value); err != nil {
		if database.IsSerializationFailure(err) {
			return 0, errors.Wrap(err, errors.ErrCodeConcurrency, "sequence increment lost serialization race")
		}
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to advance fiscal sequence")
	}
	return value, nil
}

// Current returns the last issued value for (tenantID, series), or 0 if the
// series has never issued a number.
func (r *FiscalSequenceRepository) Current(ctx context.Context, tenantID, series string) (int64, error) {
	query := `
		SELECT last_value FROM fiscal_sequences
		WHERE tenant_id = $1 AND series = $2
	`

	var value int64
	err := r.db.QueryRow(ctx, query, tenantID, series).Scan(&value)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read fiscal sequence")
	}
	return value, nil
}
