package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
)

// IntegrityHash computes the tamper-evidence digest of a fiscal document.
//
// The canonical fields are serialized to JCS-canonical JSON (RFC 8785) and
// hashed with SHA-256, so identical inputs always produce the identical
// lowercase-hex digest regardless of map ordering or formatting. The grand
// total is fixed to 2 decimal places before hashing; issueDate must be the
// ISO-8601 date already carried by the document.
func IntegrityHash(documentType, documentNumber, issueDate string, grandTotal decimal.Decimal, taxpayerID string) (string, error) {
	canonical := map[string]string{
		"documentType":   documentType,
		"documentNumber": documentNumber,
		"issueDate":      issueDate,
		"grandTotal":     grandTotal.StringFixed(2),
		"taxpayerId":     taxpayerID,
	}

	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal canonical fields")
	}

	transformed, err := jcs.Transform(raw)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to canonicalize document fields")
	}

	sum := sha256.Sum256(transformed)
	return hex.EncodeToString(sum[:]), nil
}
