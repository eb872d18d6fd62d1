package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderFromDocumentKeepsUnparsedValues(t *testing.T) {
	doc := map[string]any{
		FieldID:          "65f1c0ffee00000000000001",
		FieldCreatedAt:   int64(1700000000000),
		FieldUpdatedAt:   "03/05/2024",
		FieldTotalAmount: "n/a",
		FieldStatus:      7,
		"customerName":   "Dina",
	}

	order := OrderFromDocument("65f1c0ffee00000000000001", doc)
	if !order.CreatedAt.IsZero() || !order.UpdatedAt.IsZero() || !order.TotalAmount.IsZero() || order.Status != "" {
		t.Fatalf("expected unparsed values to stay untyped, got %+v", order)
	}

	out := order.Document()
	if out[FieldCreatedAt] != int64(1700000000000) {
		t.Fatalf("createdAt changed on round trip: %#v", out[FieldCreatedAt])
	}
	if out[FieldUpdatedAt] != "03/05/2024" {
		t.Fatalf("updatedAt changed on round trip: %#v", out[FieldUpdatedAt])
	}
	if out[FieldTotalAmount] != "n/a" {
		t.Fatalf("totalAmount changed on round trip: %#v", out[FieldTotalAmount])
	}
	if out[FieldStatus] != 7 || out["customerName"] != "Dina" {
		t.Fatalf("unexpected fields on round trip: %#v", out)
	}
	if _, ok := out[FieldID]; ok {
		t.Fatalf("expected _id to be excluded")
	}
}

func TestOrderFromDocumentLiftsParsedValues(t *testing.T) {
	created := time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)
	order := OrderFromDocument("o-1", map[string]any{
		FieldCreatedAt:   created,
		FieldUpdatedAt:   "2025-05-02T08:00:00+07:00",
		FieldTotalAmount: 500.5,
		FieldStatus:      " completed ",
	})

	if !order.CreatedAt.Equal(created) || !order.UpdatedAt.Equal(time.Date(2025, time.May, 2, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamps %s %s", order.CreatedAt, order.UpdatedAt)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("500.5")) || order.Status != "completed" {
		t.Fatalf("unexpected typed fields %+v", order)
	}
	if len(order.Fields) != 0 {
		t.Fatalf("expected parsed values to leave Fields, got %#v", order.Fields)
	}
	if order.Document()[FieldTotalAmount] != 500.5 {
		t.Fatalf("expected typed total to be written back, got %#v", order.Document()[FieldTotalAmount])
	}
}

func TestSalesInvoiceFromDocumentKeepsUnparsedValues(t *testing.T) {
	saved := time.Date(2025, time.May, 4, 9, 30, 0, 0, time.UTC)
	inv := SalesInvoiceFromDocument("i-1", map[string]any{
		FieldProviderID:      map[string]any{"name": "north branch"},
		FieldCreatedAt:       int64(1700000000000),
		FieldTotalAmount:     "n/a",
		FieldOriginalOrderID: "65f1c0ffee00000000000001",
		FieldSavedAt:         saved,
		FieldType:            SalesInvoiceType,
	})

	if inv.ProviderID != "" {
		t.Fatalf("expected non-string provider to stay untyped, got %q", inv.ProviderID)
	}
	out := inv.Document()
	provider, ok := out[FieldProviderID].(map[string]any)
	if !ok || provider["name"] != "north branch" {
		t.Fatalf("provider changed on round trip: %#v", out[FieldProviderID])
	}
	if out[FieldCreatedAt] != int64(1700000000000) || out[FieldTotalAmount] != "n/a" {
		t.Fatalf("unexpected round trip %#v", out)
	}
	if ts, ok := out[FieldSavedAt].(time.Time); !ok || !ts.Equal(saved) || out[FieldType] != SalesInvoiceType {
		t.Fatalf("expected snapshot metadata, got %#v", out)
	}
}
