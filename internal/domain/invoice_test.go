package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
)

func emitParams() EmitParams {
	proposalID := "7e9f0b7e-4a95-4a3a-9a2f-0d6c6a1a0001"
	totals, _ := CalculateTotals([]LineItem{item("10", "100", "10", "16")})
	return EmitParams{
		TenantID:         "b2a3a0a8-0000-4000-8000-000000000001",
		ClientID:         "b2a3a0a8-0000-4000-8000-000000000002",
		SourceProposalID: &proposalID,
		DocumentNumber:   "INV-2026-000001",
		DocumentType:     DocumentTypeInvoice,
		IssueDate:        "2026-08-31",
		LineItems:        []LineItem{item("10", "100", "10", "16")},
		Totals:           totals,
		IntegrityHash:    "deadbeef",
		ActorID:          "actor-1",
	}
}

func TestEmit_SetsStateAndBuffersEvent(t *testing.T) {
	inv := NewInvoice()
	require.NoError(t, inv.Emit(emitParams()))

	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, LifecycleActive, inv.LifecycleState)
	assert.Equal(t, PaymentPending, inv.PaymentState)
	assert.Equal(t, int64(1), inv.Version)
	assert.Equal(t, "INV-2026-000001", inv.DocumentNumber)
	assert.Equal(t, "1044.00", inv.Totals.GrandTotal.StringFixed(2))

	events := inv.UncommittedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeInvoiceIssued, events[0].EventType)
	assert.Equal(t, inv.ID, events[0].AggregateID)
	assert.Equal(t, AggregateTypeInvoice, events[0].AggregateType)
	assert.Equal(t, int64(1), events[0].AggregateVersion)
	assert.Equal(t, inv.TenantID, events[0].TenantID)

	inv.MarkCommitted()
	assert.Empty(t, inv.UncommittedEvents())
}

func TestEmit_Twice_FailsAlreadyExists(t *testing.T) {
	inv := NewInvoice()
	require.NoError(t, inv.Emit(emitParams()))

	err := inv.Emit(emitParams())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyExists, errors.Code(err))
	assert.Equal(t, int64(1), inv.Version)
}

func TestEmit_WithLinkedPayment_StartsPaid(t *testing.T) {
	p := emitParams()
	paymentID := "b2a3a0a8-0000-4000-8000-00000000000a"
	p.LinkedPaymentID = &paymentID

	inv := NewInvoice()
	require.NoError(t, inv.Emit(p))
	assert.Equal(t, PaymentPaid, inv.PaymentState)
}

func TestEmit_RejectsUnknownDocumentType(t *testing.T) {
	p := emitParams()
	p.DocumentType = "proforma"

	err := NewInvoice().Emit(p)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))
}

func TestCancel_TransitionsOnce(t *testing.T) {
	inv := NewInvoice()
	require.NoError(t, inv.Emit(emitParams()))
	number := inv.DocumentNumber
	hash := inv.IntegrityHash

	require.NoError(t, inv.Cancel("client request", "actor-2"))
	assert.Equal(t, LifecycleCancelled, inv.LifecycleState)
	assert.Equal(t, int64(2), inv.Version)

	// Number and hash survive cancellation; fiscal numbers are never
	// reclaimed.
	assert.Equal(t, number, inv.DocumentNumber)
	assert.Equal(t, hash, inv.IntegrityHash)

	err := inv.Cancel("again", "actor-2")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyCancelled, errors.Code(err))
	assert.Equal(t, int64(2), inv.Version)
}

func TestCancel_Uninitialized_Fails(t *testing.T) {
	err := NewInvoice().Cancel("nope", "actor-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyCancelled, errors.Code(err))
}

func TestRegisterPayment_DerivesPaymentState(t *testing.T) {
	inv := NewInvoice()
	require.NoError(t, inv.Emit(emitParams()))

	require.NoError(t, inv.RegisterPayment("pay-1", decimal.RequireFromString("500"), "actor-1"))
	assert.Equal(t, PaymentPartial, inv.PaymentState)

	require.NoError(t, inv.RegisterPayment("pay-2", decimal.RequireFromString("544"), "actor-1"))
	assert.Equal(t, PaymentPaid, inv.PaymentState)

	require.NoError(t, inv.RegisterPayment("pay-3", decimal.RequireFromString("0.01"), "actor-1"))
	assert.Equal(t, PaymentOverpaid, inv.PaymentState)

	assert.Equal(t, int64(4), inv.Version)
	assert.Equal(t, "1044.01", inv.PaymentsReceived.StringFixed(2))
}

func TestRegisterPayment_ExactTotal_SetsPaid(t *testing.T) {
	inv := NewInvoice()
	require.NoError(t, inv.Emit(emitParams()))

	require.NoError(t, inv.RegisterPayment("pay-1", decimal.RequireFromString("1044"), "actor-1"))
	assert.Equal(t, PaymentPaid, inv.PaymentState)
}

func TestRegisterPayment_RejectsNonPositiveAmount(t *testing.T) {
	inv := NewInvoice()
	require.NoError(t, inv.Emit(emitParams()))

	err := inv.RegisterPayment("pay-1", decimal.Zero, "actor-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))
}

func TestRegisterPayment_Uninitialized_Fails(t *testing.T) {
	err := NewInvoice().RegisterPayment("pay-1", decimal.RequireFromString("10"), "actor-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.Code(err))
}

func TestReconstructFromHistory_MatchesLiveState(t *testing.T) {
	live := NewInvoice()
	require.NoError(t, live.Emit(emitParams()))
	require.NoError(t, live.RegisterPayment("pay-1", decimal.RequireFromString("500"), "actor-1"))
	require.NoError(t, live.Cancel("drift detected", "actor-2"))

	replayed, err := ReconstructFromHistory(live.UncommittedEvents())
	require.NoError(t, err)

	assert.Equal(t, live.ID, replayed.ID)
	assert.Equal(t, live.TenantID, replayed.TenantID)
	assert.Equal(t, live.DocumentNumber, replayed.DocumentNumber)
	assert.Equal(t, live.IntegrityHash, replayed.IntegrityHash)
	assert.Equal(t, live.LifecycleState, replayed.LifecycleState)
	assert.Equal(t, live.PaymentState, replayed.PaymentState)
	assert.Equal(t, live.Version, replayed.Version)
	assert.True(t, live.PaymentsReceived.Equal(replayed.PaymentsReceived))
	assert.True(t, live.Totals.GrandTotal.Equal(replayed.Totals.GrandTotal))
	assert.Len(t, replayed.LineItems, len(live.LineItems))

	// Replayed aggregates have no uncommitted events.
	assert.Empty(t, replayed.UncommittedEvents())
}

func TestReconstructFromHistory_UnknownEventType_Fails(t *testing.T) {
	live := NewInvoice()
	require.NoError(t, live.Emit(emitParams()))

	events := live.UncommittedEvents()
	corrupt := events[0]
	corrupt.EventType = "invoice.imported"
	corrupt.AggregateVersion = 2

	_, err := ReconstructFromHistory([]Event{events[0], corrupt})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownEvent, errors.Code(err))
}

func TestReconstructFromHistory_VersionGap_Fails(t *testing.T) {
	live := NewInvoice()
	require.NoError(t, live.Emit(emitParams()))
	require.NoError(t, live.RegisterPayment("pay-1", decimal.RequireFromString("10"), "actor-1"))

	events := live.UncommittedEvents()
	// Skip version 1: replay must refuse the gap.
	_, err := ReconstructFromHistory([]Event{events[1]})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}
