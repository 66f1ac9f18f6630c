package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/logger"
	"github.com/pesio-ai/be-fiscal-issuance/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	issuance  *service.IssuanceService
	documents *service.DocumentService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(issuance *service.IssuanceService, documents *service.DocumentService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		issuance:  issuance,
		documents: documents,
		log:       log,
	}
}

// IssueDocument handles issuance requests.
func (h *HTTPHandler) IssueDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProposalID      string `json:"proposal_id"`
		TenantID        string `json:"tenant_id"`
		ActorID         string `json:"actor_id"`
		IsEscrowRelease bool   `json:"is_escrow_release"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProposalID == "" || req.TenantID == "" {
		http.Error(w, "proposal_id and tenant_id are required", http.StatusBadRequest)
		return
	}

	result, err := h.issuance.Issue(r.Context(), &service.IssueRequest{
		ProposalID:      req.ProposalID,
		TenantID:        req.TenantID,
		ActorID:         req.ActorID,
		IsEscrowRelease: req.IsEscrowRelease,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// GetDocument handles document lookup requests.
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	tenantID := r.URL.Query().Get("tenant_id")
	if id == "" || tenantID == "" {
		http.Error(w, "Document ID and Tenant ID are required", http.StatusBadRequest)
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), id, tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, doc)
}

// ListDocuments handles document listing requests.
func (h *HTTPHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "Tenant ID is required", http.StatusBadRequest)
		return
	}

	status := optional(r.URL.Query().Get("status"))
	fromDate := optional(r.URL.Query().Get("from_date"))
	toDate := optional(r.URL.Query().Get("to_date"))

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	docs, total, err := h.documents.ListDocuments(r.Context(), tenantID, status, fromDate, toDate, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
		"page":      page,
		"pageSize":  pageSize,
	})
}

// CancelDocument handles cancellation requests.
func (h *HTTPHandler) CancelDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
		Reason   string `json:"reason"`
		ActorID  string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.TenantID == "" {
		http.Error(w, "id and tenant_id are required", http.StatusBadRequest)
		return
	}

	if err := h.documents.Cancel(r.Context(), &service.CancelRequest{
		DocumentID: req.ID,
		TenantID:   req.TenantID,
		Reason:     req.Reason,
		ActorID:    req.ActorID,
	}); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RegisterPayment handles payment registration requests.
func (h *HTTPHandler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID        string `json:"id"`
		TenantID  string `json:"tenant_id"`
		PaymentID string `json:"payment_id"`
		Amount    string `json:"amount"`
		ActorID   string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.TenantID == "" || req.PaymentID == "" {
		http.Error(w, "id, tenant_id and payment_id are required", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "amount must be a decimal number", http.StatusBadRequest)
		return
	}

	if err := h.documents.RegisterPayment(r.Context(), &service.RegisterPaymentRequest{
		DocumentID: req.ID,
		TenantID:   req.TenantID,
		PaymentID:  req.PaymentID,
		Amount:     amount,
		ActorID:    req.ActorID,
	}); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// GetDocumentEvents handles event history requests for one document.
func (h *HTTPHandler) GetDocumentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	tenantID := r.URL.Query().Get("tenant_id")
	if id == "" || tenantID == "" {
		http.Error(w, "Document ID and Tenant ID are required", http.StatusBadRequest)
		return
	}

	events, err := h.documents.GetHistory(r.Context(), id, tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// QueryEvents handles the type+tenant+time-range audit query.
func (h *HTTPHandler) QueryEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	eventType := r.URL.Query().Get("event_type")
	if tenantID == "" || eventType == "" {
		http.Error(w, "Tenant ID and event type are required", http.StatusBadRequest)
		return
	}

	from, err := parseTimeParam(r.URL.Query().Get("from"), time.Time{})
	if err != nil {
		http.Error(w, "invalid from timestamp, expected RFC 3339", http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), time.Now().UTC())
	if err != nil {
		http.Error(w, "invalid to timestamp, expected RFC 3339", http.StatusBadRequest)
		return
	}

	events, err := h.documents.GetEventsByType(r.Context(), tenantID, eventType, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetUnpublishedEvents exposes the unpublished-event backlog so external
// compliance tools can observe delivery lag.
func (h *HTTPHandler) GetUnpublishedEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	events, err := h.documents.GetUnpublishedEvents(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"events": events, "limit": limit})
}

// GetSequence reports the last number issued for a tenant's series, for
// reconciling the counter against the documents on record.
func (h *HTTPHandler) GetSequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "Tenant ID is required", http.StatusBadRequest)
		return
	}

	documentType := r.URL.Query().Get("document_type")
	if documentType == "" {
		documentType = "invoice"
	}

	value, err := h.issuance.CurrentSequence(r.Context(), tenantID, documentType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":     tenantID,
		"document_type": documentType,
		"last_value":    value,
	})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := statusForCode(errors.Code(err))
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusForCode(code errors.ErrCode) int {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidState,
		errors.ErrCodeDuplicate,
		errors.ErrCodeTolerance,
		errors.ErrCodeConcurrency,
		errors.ErrCodeAlreadyExists,
		errors.ErrCodeAlreadyCancelled,
		errors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseTimeParam(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}
