package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
)

// Lifecycle states of a fiscal document.
const (
	LifecycleActive    = "active"
	LifecycleCancelled = "cancelled"
)

// Payment states, a pure function of cumulative registered payments versus
// the grand total.
const (
	PaymentPending  = "pending"
	PaymentPartial  = "partial"
	PaymentPaid     = "paid"
	PaymentOverpaid = "overpaid"
)

// Document types form a closed enumeration.
const (
	DocumentTypeInvoice    = "invoice"
	DocumentTypeReceipt    = "receipt"
	DocumentTypeCreditNote = "credit_note"
	DocumentTypeDebitNote  = "debit_note"
)

// ValidDocumentType reports whether t is a recognized document type.
func ValidDocumentType(t string) bool {
	switch t {
	case DocumentTypeInvoice, DocumentTypeReceipt, DocumentTypeCreditNote, DocumentTypeDebitNote:
		return true
	}
	return false
}

// Invoice is the event-sourced aggregate for one fiscal document. State is
// only ever changed by applying events; every operation validates its
// preconditions, emits an event, applies it locally, and buffers it for the
// caller to persist.
type Invoice struct {
	ID               string
	TenantID         string
	ClientID         string
	SourceProposalID *string
	DocumentNumber   string
	DocumentType     string
	IssueDate        string
	LineItems        []LineItem
	Totals           Totals
	IntegrityHash    string
	PaymentState     string
	LifecycleState   string
	LinkedPaymentID  *string
	PaymentsReceived decimal.Decimal
	Version          int64

	uncommitted []Event
}

// NewInvoice returns an uninitialized aggregate ready to Emit.
func NewInvoice() *Invoice {
	return &Invoice{PaymentsReceived: decimal.Zero}
}

// EmitParams carries everything the creation event needs.
type EmitParams struct {
	TenantID         string
	ClientID         string
	SourceProposalID *string
	DocumentNumber   string
	DocumentType     string
	IssueDate        string
	LineItems        []LineItem
	Totals           Totals
	IntegrityHash    string
	LinkedPaymentID  *string
	ActorID          string
	CorrelationID    string
}

// Emit issues the document. It may be called exactly once per aggregate;
// the document id is set here and is immutable afterwards.
func (inv *Invoice) Emit(p EmitParams) error {
	if inv.ID != "" {
		return errors.New(errors.ErrCodeAlreadyExists, "document has already been emitted")
	}
	if !ValidDocumentType(p.DocumentType) {
		return errors.Newf(errors.ErrCodeValidation, "unknown document type %q", p.DocumentType)
	}
	if len(p.LineItems) == 0 {
		return errors.New(errors.ErrCodeValidation, "document must have at least 1 line item")
	}

	payload := InvoiceIssuedPayload{
		TenantID:         p.TenantID,
		ClientID:         p.ClientID,
		SourceProposalID: p.SourceProposalID,
		DocumentNumber:   p.DocumentNumber,
		DocumentType:     p.DocumentType,
		IssueDate:        p.IssueDate,
		LineItems:        p.LineItems,
		Totals:           p.Totals,
		IntegrityHash:    p.IntegrityHash,
		LinkedPaymentID:  p.LinkedPaymentID,
	}

	return inv.recordThat(uuid.NewString(), EventTypeInvoiceIssued, payload, EventMetadata{
		TenantID:      p.TenantID,
		ActorID:       p.ActorID,
		CorrelationID: p.CorrelationID,
	})
}

// Cancel transitions the document active→cancelled. The transition happens
// at most once and never reverses; number and hash are kept.
func (inv *Invoice) Cancel(reason, actorID string) error {
	if inv.LifecycleState != LifecycleActive {
		return errors.New(errors.ErrCodeAlreadyCancelled, "document is not active")
	}

	payload := InvoiceCancelledPayload{Reason: reason, CancelledBy: actorID}
	return inv.recordThat(inv.ID, EventTypeInvoiceCancelled, payload, EventMetadata{
		TenantID: inv.TenantID,
		ActorID:  actorID,
	})
}

// RegisterPayment records a payment and re-derives the payment state from
// the cumulative sum of all registered payment amounts.
func (inv *Invoice) RegisterPayment(paymentID string, amount decimal.Decimal, actorID string) error {
	if inv.ID == "" {
		return errors.New(errors.ErrCodeInvalidState, "cannot register payment on an uninitialized document")
	}
	if amount.Sign() <= 0 {
		return errors.InvalidInput("amount", "payment amount must be positive")
	}

	payload := PaymentRegisteredPayload{PaymentID: paymentID, Amount: amount}
	return inv.recordThat(inv.ID, EventTypePaymentRegistered, payload, EventMetadata{
		TenantID: inv.TenantID,
		ActorID:  actorID,
	})
}

// UncommittedEvents returns the events produced since the aggregate was
// loaded, in the order they were emitted.
func (inv *Invoice) UncommittedEvents() []Event {
	return inv.uncommitted
}

// MarkCommitted clears the uncommitted-events buffer after persistence.
func (inv *Invoice) MarkCommitted() {
	inv.uncommitted = nil
}

// ReconstructFromHistory rebuilds an aggregate by replaying an ordered
// event list through the same apply path used for live mutation.
func ReconstructFromHistory(events []Event) (*Invoice, error) {
	inv := NewInvoice()
	for _, e := range events {
		if err := inv.apply(e); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// recordThat wraps a payload in an event envelope, applies it, and buffers
// it. The aggregate id for the creation event is generated by the caller so
// the envelope and payload agree before apply runs.
func (inv *Invoice) recordThat(aggregateID, eventType string, payload any, meta EventMetadata) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal event payload")
	}

	event := Event{
		ID:               uuid.NewString(),
		AggregateID:      aggregateID,
		AggregateType:    AggregateTypeInvoice,
		AggregateVersion: inv.Version + 1,
		EventType:        eventType,
		Payload:          raw,
		Metadata:         meta,
		TenantID:         meta.TenantID,
		OccurredOn:       time.Now().UTC(),
	}

	if err := inv.apply(event); err != nil {
		return err
	}
	inv.uncommitted = append(inv.uncommitted, event)
	return nil
}

// apply dispatches on the event type to exactly one explicit apply function
// per kind, then advances the version. Live mutation and replay share this
// path; an unrecognized type is a hard failure, never a silently ignored
// case.
func (inv *Invoice) apply(e Event) error {
	if e.AggregateVersion != inv.Version+1 {
		return errors.Newf(errors.ErrCodeConflict,
			"event version %d does not follow aggregate version %d", e.AggregateVersion, inv.Version)
	}

	switch e.EventType {
	case EventTypeInvoiceIssued:
		var p InvoiceIssuedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal issued payload")
		}
		inv.applyIssued(e.AggregateID, p)
	case EventTypeInvoiceCancelled:
		var p InvoiceCancelledPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal cancelled payload")
		}
		inv.applyCancelled(p)
	case EventTypePaymentRegistered:
		var p PaymentRegisteredPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal payment payload")
		}
		inv.applyPaymentRegistered(p)
	default:
		return errors.Newf(errors.ErrCodeUnknownEvent, "unknown event type %q", e.EventType)
	}

	inv.Version = e.AggregateVersion
	return nil
}

// applyIssued sets: id, tenant, client, source proposal, number, type,
// issue date, line items, totals, hash, linked payment, lifecycle and
// payment state. It touches no other field.
func (inv *Invoice) applyIssued(aggregateID string, p InvoiceIssuedPayload) {
	inv.ID = aggregateID
	inv.TenantID = p.TenantID
	inv.ClientID = p.ClientID
	inv.SourceProposalID = p.SourceProposalID
	inv.DocumentNumber = p.DocumentNumber
	inv.DocumentType = p.DocumentType
	inv.IssueDate = p.IssueDate
	inv.LineItems = p.LineItems
	inv.Totals = p.Totals
	inv.IntegrityHash = p.IntegrityHash
	inv.LinkedPaymentID = p.LinkedPaymentID
	inv.LifecycleState = LifecycleActive

	if p.LinkedPaymentID != nil {
		inv.PaymentState = PaymentPaid
		inv.PaymentsReceived = p.Totals.GrandTotal
	} else {
		inv.PaymentState = PaymentPending
		inv.PaymentsReceived = decimal.Zero
	}
}

// applyCancelled sets: lifecycle state. It touches no other field.
func (inv *Invoice) applyCancelled(_ InvoiceCancelledPayload) {
	inv.LifecycleState = LifecycleCancelled
}

// applyPaymentRegistered sets: cumulative payments received and the derived
// payment state. It touches no other field.
func (inv *Invoice) applyPaymentRegistered(p PaymentRegisteredPayload) {
	inv.PaymentsReceived = inv.PaymentsReceived.Add(p.Amount)
	inv.PaymentState = derivePaymentState(inv.PaymentsReceived, inv.Totals.GrandTotal)
}

func derivePaymentState(cumulative, grandTotal decimal.Decimal) string {
	switch {
	case cumulative.Sign() == 0:
		return PaymentPending
	case cumulative.LessThan(grandTotal):
		return PaymentPartial
	case cumulative.Equal(grandTotal):
		return PaymentPaid
	default:
		return PaymentOverpaid
	}
}
