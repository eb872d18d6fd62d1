package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/platform/httpx"
	"github.com/garage-pos/settlement/internal/services"
)

const defaultSettleBodySize = 64 * 1024

type settleOrderRequest struct {
	Order map[string]any `json:"order"`
}

type settleOrderResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	InvoiceID string `json:"invoiceId"`
}

type commissionListResponse struct {
	Success     bool             `json:"success"`
	Data        []map[string]any `json:"data"`
	TotalEarned json.Number      `json:"totalEarned"`
}

type invoiceListResponse struct {
	Success bool             `json:"success"`
	Data    []map[string]any `json:"data"`
}

// SettlementHandlers exposes order settlement and the ledgers it produces.
type SettlementHandlers struct {
	settlement   services.SettlementService
	maxBodyBytes int64
	idempotency  func(http.Handler) http.Handler
}

// SettlementHandlerOption customises SettlementHandlers.
type SettlementHandlerOption func(*SettlementHandlers)

// WithSettleBodyLimit caps the settle-order request body.
func WithSettleBodyLimit(limit int64) SettlementHandlerOption {
	return func(h *SettlementHandlers) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

// WithSettleIdempotency guards POST /settle-order with the given middleware.
func WithSettleIdempotency(mw func(http.Handler) http.Handler) SettlementHandlerOption {
	return func(h *SettlementHandlers) {
		h.idempotency = mw
	}
}

// NewSettlementHandlers constructs the settlement endpoints.
func NewSettlementHandlers(settlement services.SettlementService, opts ...SettlementHandlerOption) *SettlementHandlers {
	h := &SettlementHandlers{
		settlement:   settlement,
		maxBodyBytes: defaultSettleBodySize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the settlement endpoints.
func (h *SettlementHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	settle := r
	if h.idempotency != nil {
		settle = r.With(h.idempotency)
	}
	settle.Post("/settle-order", h.settleOrder)
	r.Get("/technician-commissions", h.listTechnicianCommissions)
	r.Get("/sales-invoices", h.listSalesInvoices)
}

func (h *SettlementHandlers) settleOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_service_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req settleOrderRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		switch {
		case errors.Is(err, httpx.ErrBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "Request body too large", http.StatusBadRequest))
		case errors.Is(err, httpx.ErrEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Order data is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "Request body must be valid JSON", http.StatusBadRequest))
		}
		return
	}
	if req.Order == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Order data is required", http.StatusBadRequest))
		return
	}
	orderID, ok := req.Order[domain.FieldID]
	if !ok || orderID == nil || isBlankString(orderID) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Order ID is required", http.StatusBadRequest))
		return
	}

	result, err := h.settlement.SettleOrder(ctx, services.SettleOrderCommand{OrderID: orderID})
	if err != nil {
		writeSettlementError(ctx, w, err, "Invalid order ID")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, settleOrderResponse{
		Success:   true,
		Message:   "Order settled successfully",
		InvoiceID: result.InvoiceID,
	})
}

func (h *SettlementHandlers) listTechnicianCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_service_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	technicianID := strings.TrimSpace(query.Get("technicianId"))
	if technicianID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Technician ID is required", http.StatusBadRequest))
		return
	}
	limit, ok := parseLimit(query.Get("limit"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
		return
	}

	history, err := h.settlement.TechnicianCommissions(ctx, technicianID, limit)
	if err != nil {
		writeSettlementError(ctx, w, err, "Invalid technician ID")
		return
	}

	data := make([]map[string]any, 0, len(history.Commissions))
	for _, commission := range history.Commissions {
		data = append(data, commissionPayload(commission))
	}
	httpx.WriteJSON(w, http.StatusOK, commissionListResponse{
		Success:     true,
		Data:        data,
		TotalEarned: json.Number(history.TotalEarned.StringFixed(2)),
	})
}

func (h *SettlementHandlers) listSalesInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_service_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	providerID := strings.TrimSpace(query.Get("providerId"))
	if providerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Provider ID is required", http.StatusBadRequest))
		return
	}
	limit, ok := parseLimit(query.Get("limit"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
		return
	}

	invoices, err := h.settlement.SalesInvoices(ctx, providerID, limit)
	if err != nil {
		writeSettlementError(ctx, w, err, "Invalid provider ID")
		return
	}

	data := make([]map[string]any, 0, len(invoices))
	for _, invoice := range invoices {
		data = append(data, invoicePayload(invoice))
	}
	httpx.WriteJSON(w, http.StatusOK, invoiceListResponse{Success: true, Data: data})
}

func writeSettlementError(ctx context.Context, w http.ResponseWriter, err error, invalidMessage string) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSettlementInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_identifier", invalidMessage, http.StatusBadRequest))
	case errors.Is(err, services.ErrSettlementOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "Order not found or already deleted", http.StatusNotFound))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "Request timed out", http.StatusServiceUnavailable).WithDetail(err.Error()))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settlement_error", "Error settling order", http.StatusInternalServerError).WithDetail(err.Error()))
	}
}

// parseLimit accepts an absent value (service default) or a positive integer.
func parseLimit(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, false
	}
	return limit, true
}

func invoicePayload(invoice services.SalesInvoice) map[string]any {
	payload := invoice.Document()
	payload[domain.FieldID] = invoice.ID
	if _, raw := invoice.Fields[domain.FieldTotalAmount]; !raw {
		payload[domain.FieldTotalAmount] = json.Number(invoice.TotalAmount.String())
	}
	return payload
}

func commissionPayload(commission services.TechnicianCommission) map[string]any {
	payload := commission.Document()
	payload[domain.FieldID] = commission.ID
	payload[domain.FieldAmount] = json.Number(commission.Amount.StringFixed(2))
	payload[domain.FieldCommissionPercent] = json.Number(commission.CommissionPercent.String())
	payload[domain.FieldOrderTotal] = json.Number(commission.OrderTotal.String())
	return payload
}

func isBlankString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
