package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrityHash_Deterministic(t *testing.T) {
	total := decimal.RequireFromString("1044.00")

	first, err := IntegrityHash("invoice", "INV-2026-000001", "2026-08-31", total, "TAX-123")
	require.NoError(t, err)
	second, err := IntegrityHash("invoice", "INV-2026-000001", "2026-08-31", total, "TAX-123")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", first)
}

func TestIntegrityHash_EquivalentDecimalRepresentations(t *testing.T) {
	a, err := IntegrityHash("invoice", "INV-2026-000001", "2026-08-31", decimal.RequireFromString("1044"), "TAX-123")
	require.NoError(t, err)
	b, err := IntegrityHash("invoice", "INV-2026-000001", "2026-08-31", decimal.RequireFromString("1044.00"), "TAX-123")
	require.NoError(t, err)

	// The grand total is fixed to 2 decimal places before hashing.
	assert.Equal(t, a, b)
}

func TestIntegrityHash_ChangingAnyFieldChangesDigest(t *testing.T) {
	total := decimal.RequireFromString("1044.00")
	base, err := IntegrityHash("invoice", "INV-2026-000001", "2026-08-31", total, "TAX-123")
	require.NoError(t, err)

	variants := []struct {
		name                                      string
		docType, number, issueDate, taxpayer      string
		grandTotal                                decimal.Decimal
	}{
		{"document type", "credit_note", "INV-2026-000001", "2026-08-31", "TAX-123", total},
		{"document number", "invoice", "INV-2026-000002", "2026-08-31", "TAX-123", total},
		{"issue date", "invoice", "INV-2026-000001", "2026-09-01", "TAX-123", total},
		{"grand total", "invoice", "INV-2026-000001", "2026-08-31", "TAX-123", decimal.RequireFromString("1044.01")},
		{"taxpayer id", "invoice", "INV-2026-000001", "2026-08-31", "TAX-124", total},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			digest, err := IntegrityHash(v.docType, v.number, v.issueDate, v.grandTotal, v.taxpayer)
			require.NoError(t, err)
			assert.NotEqual(t, base, digest)
		})
	}
}
