package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/platform/idempotency"
	"github.com/garage-pos/settlement/internal/repositories/memory"
	"github.com/garage-pos/settlement/internal/services"
)

const (
	testOrderID      = "65f1c0ffee00000000000001"
	testTechnicianID = "65f1c0ffee00000000000002"
	testProviderID   = "65f1c0ffee00000000000003"
)

type stubSettlementService struct {
	settleFn      func(context.Context, services.SettleOrderCommand) (services.SettlementResult, error)
	commissionsFn func(context.Context, string, int) (services.CommissionHistory, error)
	invoicesFn    func(context.Context, string, int) ([]services.SalesInvoice, error)
}

func (s *stubSettlementService) SettleOrder(ctx context.Context, cmd services.SettleOrderCommand) (services.SettlementResult, error) {
	if s.settleFn != nil {
		return s.settleFn(ctx, cmd)
	}
	return services.SettlementResult{}, errors.New("not implemented")
}

func (s *stubSettlementService) TechnicianCommissions(ctx context.Context, technicianID string, limit int) (services.CommissionHistory, error) {
	if s.commissionsFn != nil {
		return s.commissionsFn(ctx, technicianID, limit)
	}
	return services.CommissionHistory{}, errors.New("not implemented")
}

func (s *stubSettlementService) SalesInvoices(ctx context.Context, providerID string, limit int) ([]services.SalesInvoice, error) {
	if s.invoicesFn != nil {
		return s.invoicesFn(ctx, providerID, limit)
	}
	return nil, errors.New("not implemented")
}

func newSettlementRouter(h *SettlementHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestSettlementHandlers_SettleOrderSuccess(t *testing.T) {
	var captured services.SettleOrderCommand
	svc := &stubSettlementService{
		settleFn: func(_ context.Context, cmd services.SettleOrderCommand) (services.SettlementResult, error) {
			captured = cmd
			return services.SettlementResult{Success: true, OrderID: testOrderID, InvoiceID: "inv-1"}, nil
		},
	}
	router := newSettlementRouter(NewSettlementHandlers(svc))

	req := httptest.NewRequest(http.MethodPost, "/settle-order", strings.NewReader(`{"order":{"_id":{"$oid":"`+testOrderID+`"},"customerName":"Aiko"}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["invoiceId"] != "inv-1" || body["message"] != "Order settled successfully" {
		t.Fatalf("unexpected body: %v", body)
	}
	wrapped, ok := captured.OrderID.(map[string]any)
	if !ok || wrapped["$oid"] != testOrderID {
		t.Fatalf("expected wrapped id to reach the service unchanged, got %#v", captured.OrderID)
	}
}

func TestSettlementHandlers_SettleOrderValidation(t *testing.T) {
	svc := &stubSettlementService{
		settleFn: func(context.Context, services.SettleOrderCommand) (services.SettlementResult, error) {
			t.Fatal("service should not be called")
			return services.SettlementResult{}, nil
		},
	}
	router := newSettlementRouter(NewSettlementHandlers(svc, WithSettleBodyLimit(128)))

	cases := []struct {
		name    string
		body    string
		code    string
		message string
	}{
		{name: "empty body", body: "", code: "invalid_request", message: "Order data is required"},
		{name: "malformed json", body: `{"order":`, code: "invalid_json"},
		{name: "missing order", body: `{"foo":1}`, code: "invalid_request", message: "Order data is required"},
		{name: "missing id", body: `{"order":{"totalAmount":10}}`, code: "invalid_request", message: "Order ID is required"},
		{name: "blank id", body: `{"order":{"_id":"  "}}`, code: "invalid_request", message: "Order ID is required"},
		{name: "trailing data", body: `{"order":{"_id":"x"}} {}`, code: "invalid_json"},
		{name: "too large", body: `{"order":{"_id":"` + strings.Repeat("a", 256) + `"}}`, code: "request_too_large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/settle-order", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["success"] != false || body["code"] != tc.code {
				t.Fatalf("unexpected body: %v", body)
			}
			if tc.message != "" && body["message"] != tc.message {
				t.Fatalf("expected message %q, got %v", tc.message, body["message"])
			}
		})
	}
}

func TestSettlementHandlers_SettleOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
		detail  bool
	}{
		{name: "invalid id", err: fmt.Errorf("%w: order id", services.ErrSettlementInvalidInput), status: http.StatusBadRequest, message: "Invalid order ID"},
		{name: "not found", err: fmt.Errorf("%w: %s", services.ErrSettlementOrderNotFound, testOrderID), status: http.StatusNotFound, message: "Order not found or already deleted"},
		{name: "storage", err: fmt.Errorf("%w: insert sales invoice: disk full", services.ErrSettlementStorage), status: http.StatusInternalServerError, message: "Error settling order", detail: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubSettlementService{
				settleFn: func(context.Context, services.SettleOrderCommand) (services.SettlementResult, error) {
					return services.SettlementResult{}, tc.err
				},
			}
			router := newSettlementRouter(NewSettlementHandlers(svc))

			req := httptest.NewRequest(http.MethodPost, "/settle-order", strings.NewReader(`{"order":{"_id":"`+testOrderID+`"}}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["success"] != false || body["message"] != tc.message {
				t.Fatalf("unexpected body: %v", body)
			}
			if detail, _ := body["error"].(string); tc.detail != (detail != "") {
				t.Fatalf("unexpected error detail presence: %v", body)
			}
			if tc.detail && !strings.Contains(body["error"].(string), "disk full") {
				t.Fatalf("expected underlying message in detail, got %v", body["error"])
			}
		})
	}
}

func TestSettlementHandlers_TechnicianCommissions(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var gotLimit int
	svc := &stubSettlementService{
		commissionsFn: func(_ context.Context, technicianID string, limit int) (services.CommissionHistory, error) {
			if technicianID != testTechnicianID {
				return services.CommissionHistory{}, services.ErrSettlementInvalidInput
			}
			gotLimit = limit
			return services.CommissionHistory{
				Commissions: []services.TechnicianCommission{{
					ID:                "c-1",
					TechnicianID:      testTechnicianID,
					TechnicianName:    "Kenji",
					Amount:            decimal.RequireFromString("40"),
					CommissionPercent: decimal.RequireFromString("8"),
					OrderTotal:        decimal.RequireFromString("500"),
					OriginalOrderID:   testOrderID,
					InvoiceID:         "inv-1",
					CreatedAt:         created,
				}},
				TotalEarned: decimal.RequireFromString("40"),
			}, nil
		},
	}
	router := newSettlementRouter(NewSettlementHandlers(svc))

	req := httptest.NewRequest(http.MethodGet, "/technician-commissions?technicianId="+testTechnicianID+"&limit=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotLimit != 5 {
		t.Fatalf("expected limit 5, got %d", gotLimit)
	}
	if !strings.Contains(rr.Body.String(), `"totalEarned":40.00`) || !strings.Contains(rr.Body.String(), `"amount":40.00`) {
		t.Fatalf("expected two-decimal money values, got %s", rr.Body.String())
	}
	body := decodeBody(t, rr)
	data, ok := body["data"].([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("expected one commission, got %v", body["data"])
	}
	entry := data[0].(map[string]any)
	if entry["_id"] != "c-1" || entry["invoiceId"] != "inv-1" || entry["originalOrderId"] != testOrderID {
		t.Fatalf("unexpected commission payload: %v", entry)
	}
}

func TestSettlementHandlers_TechnicianCommissionsValidation(t *testing.T) {
	svc := &stubSettlementService{
		commissionsFn: func(context.Context, string, int) (services.CommissionHistory, error) {
			return services.CommissionHistory{}, fmt.Errorf("%w: technician id", services.ErrSettlementInvalidInput)
		},
	}
	router := newSettlementRouter(NewSettlementHandlers(svc))

	for _, target := range []string{
		"/technician-commissions",
		"/technician-commissions?technicianId=abc",
		"/technician-commissions?technicianId=" + testTechnicianID + "&limit=ten",
		"/technician-commissions?technicianId=" + testTechnicianID + "&limit=0",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestSettlementHandlers_SalesInvoices(t *testing.T) {
	saved := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var gotProvider string
	svc := &stubSettlementService{
		invoicesFn: func(_ context.Context, providerID string, limit int) ([]services.SalesInvoice, error) {
			gotProvider = providerID
			if limit != 0 {
				return nil, fmt.Errorf("unexpected limit %d", limit)
			}
			return []services.SalesInvoice{{
				ID:              "inv-1",
				OriginalOrderID: testOrderID,
				ProviderID:      "legacy-provider",
				TotalAmount:     decimal.RequireFromString("120.5"),
				SavedAt:         saved,
				Type:            domain.SalesInvoiceType,
				Fields:          map[string]any{"customerName": "Aiko", "_id": "stale"},
			}}, nil
		},
	}
	router := newSettlementRouter(NewSettlementHandlers(svc))

	req := httptest.NewRequest(http.MethodGet, "/sales-invoices?providerId=legacy-provider", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotProvider != "legacy-provider" {
		t.Fatalf("expected raw provider id to reach service, got %q", gotProvider)
	}
	body := decodeBody(t, rr)
	data := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected one invoice, got %d", len(data))
	}
	invoice := data[0].(map[string]any)
	if invoice["_id"] != "inv-1" || invoice["type"] != domain.SalesInvoiceType || invoice["customerName"] != "Aiko" {
		t.Fatalf("unexpected invoice payload: %v", invoice)
	}
	if invoice["savedAt"] != saved.Format(time.RFC3339) {
		t.Fatalf("expected savedAt %s, got %v", saved.Format(time.RFC3339), invoice["savedAt"])
	}
}

func TestSettlementHandlers_SalesInvoicesErrors(t *testing.T) {
	svc := &stubSettlementService{
		invoicesFn: func(context.Context, string, int) ([]services.SalesInvoice, error) {
			return nil, fmt.Errorf("%w: list sales invoices: unavailable", services.ErrSettlementStorage)
		},
	}
	router := newSettlementRouter(NewSettlementHandlers(svc))

	req := httptest.NewRequest(http.MethodGet, "/sales-invoices", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing provider, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sales-invoices?providerId="+testProviderID, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for storage failure, got %d", rr.Code)
	}
}

func TestSettlementHandlers_EndToEndWithMemoryStore(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(domain.Order{
		ID:            testOrderID,
		ProviderRef:   testProviderID,
		TechnicianRef: testTechnicianID,
		TotalAmount:   decimal.RequireFromString("500"),
		Status:        "completed",
		Fields:        map[string]any{"customerName": "Aiko"},
	})
	store.PutEmployee(domain.Employee{
		ID:         testTechnicianID,
		Name:       "Kenji",
		Role:       "Technician",
		Commission: decimal.RequireFromString("8"),
	})

	svc, err := services.NewSettlementService(services.SettlementServiceDeps{
		Orders:      store.Orders(),
		Invoices:    store.SalesInvoices(),
		Commissions: store.TechnicianCommissions(),
		Employees:   store.Employees(),
	})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}

	handlers := NewSettlementHandlers(svc, WithSettleIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))
	router := NewRouter(WithSettlementRoutes(handlers.Routes))

	settle := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/settle-order", bytes.NewBufferString(`{"order":{"_id":"`+strings.ToUpper(testOrderID)+`"}}`))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := settle("settle-1")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	replay := settle("settle-1")
	if replay.Code != http.StatusOK || replay.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replayed 200, got %d", replay.Code)
	}
	if replay.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay body")
	}
	again := settle("")
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for second settlement, got %d", again.Code)
	}

	if _, ok := store.Order(testOrderID); ok {
		t.Fatalf("expected order to be removed")
	}
	if invoices := store.Invoices(); len(invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(invoices))
	}

	req := httptest.NewRequest(http.MethodGet, "/technician-commissions?technicianId="+testTechnicianID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"totalEarned":40.00`) {
		t.Fatalf("expected commission total 40.00, got %d %s", rr.Code, rr.Body.String())
	}
}
