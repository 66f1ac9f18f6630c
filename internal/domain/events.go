package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AggregateTypeInvoice is the aggregate type recorded on every event this
// package emits.
const AggregateTypeInvoice = "Invoice"

// Recognized event types. Replay of any other type is a hard failure.
const (
	EventTypeInvoiceIssued     = "invoice.issued"
	EventTypeInvoiceCancelled  = "invoice.cancelled"
	EventTypePaymentRegistered = "invoice.payment_registered"
)

// EventMetadata carries contextual information alongside the payload.
type EventMetadata struct {
	TenantID      string `json:"tenant_id"`
	ActorID       string `json:"actor_id"`
	CausationID   string `json:"causation_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Event is one immutable ledger record. Only the Published flag ever
// changes after the record is written, false→true exactly once.
type Event struct {
	ID               string          `json:"id"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateVersion int64           `json:"aggregate_version"`
	EventType        string          `json:"event_type"`
	Payload          json.RawMessage `json:"payload"`
	Metadata         EventMetadata   `json:"metadata"`
	TenantID         string          `json:"tenant_id"`
	OccurredOn       time.Time       `json:"occurred_on"`
	Published        bool            `json:"published"`
}

// InvoiceIssuedPayload is the creation event. It sets every field of the
// document exactly once.
type InvoiceIssuedPayload struct {
	TenantID         string     `json:"tenant_id"`
	ClientID         string     `json:"client_id"`
	SourceProposalID *string    `json:"source_proposal_id,omitempty"`
	DocumentNumber   string     `json:"document_number"`
	DocumentType     string     `json:"document_type"`
	IssueDate        string     `json:"issue_date"`
	LineItems        []LineItem `json:"line_items"`
	Totals           Totals     `json:"totals"`
	IntegrityHash    string     `json:"integrity_hash"`
	LinkedPaymentID  *string    `json:"linked_payment_id,omitempty"`
}

// InvoiceCancelledPayload marks the document cancelled. The document keeps
// its number and hash; fiscal numbers are never reclaimed.
type InvoiceCancelledPayload struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

// PaymentRegisteredPayload records one payment against the document.
type PaymentRegisteredPayload struct {
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}
