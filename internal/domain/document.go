package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Document field names shared by every store backend.
const (
	FieldID                = "_id"
	FieldProviderID        = "providerId"
	FieldTechnicianID      = "technicianId"
	FieldTotalAmount       = "totalAmount"
	FieldStatus            = "status"
	FieldCreatedAt         = "createdAt"
	FieldUpdatedAt         = "updatedAt"
	FieldOriginalOrderID   = "originalOrderId"
	FieldSavedAt           = "savedAt"
	FieldType              = "type"
	FieldTechnicianName    = "technicianName"
	FieldAmount            = "amount"
	FieldCommissionPercent = "commissionPercent"
	FieldOrderTotal        = "orderTotal"
	FieldInvoiceID         = "invoiceId"
	FieldName              = "name"
	FieldRole              = "role"
	FieldCommission        = "commission"
)

// Document flattens the order into its stored field map, without the identifier.
func (o Order) Document() map[string]any {
	doc := cloneFields(o.Fields)
	delete(doc, FieldID)
	if o.ProviderRef != nil {
		doc[FieldProviderID] = o.ProviderRef
	}
	if o.TechnicianRef != nil {
		doc[FieldTechnicianID] = o.TechnicianRef
	}
	setTotal(doc, o.TotalAmount)
	if o.Status != "" {
		doc[FieldStatus] = o.Status
	}
	if !o.CreatedAt.IsZero() {
		doc[FieldCreatedAt] = o.CreatedAt
	}
	if !o.UpdatedAt.IsZero() {
		doc[FieldUpdatedAt] = o.UpdatedAt
	}
	return doc
}

// OrderFromDocument hydrates an order from a plain field map. Typed fields are lifted out of
// Fields only when they parse; anything else stays in Fields and is written back verbatim.
func OrderFromDocument(id string, doc map[string]any) Order {
	fields := cloneFields(doc)
	delete(fields, FieldID)
	order := Order{
		ID:            id,
		ProviderRef:   pop(fields, FieldProviderID),
		TechnicianRef: pop(fields, FieldTechnicianID),
		Fields:        fields,
	}
	order.TotalAmount, _ = popDecimal(fields, FieldTotalAmount)
	order.Status, _ = popString(fields, FieldStatus)
	order.CreatedAt, _ = popTime(fields, FieldCreatedAt)
	order.UpdatedAt, _ = popTime(fields, FieldUpdatedAt)
	return order
}

// Document flattens the invoice into its stored field map, without the identifier.
func (inv SalesInvoice) Document() map[string]any {
	doc := cloneFields(inv.Fields)
	delete(doc, FieldID)
	if inv.ProviderID != "" {
		doc[FieldProviderID] = inv.ProviderID
	}
	if inv.TechnicianID != "" {
		doc[FieldTechnicianID] = inv.TechnicianID
	}
	setTotal(doc, inv.TotalAmount)
	if inv.Status != "" {
		doc[FieldStatus] = inv.Status
	}
	if !inv.CreatedAt.IsZero() {
		doc[FieldCreatedAt] = inv.CreatedAt
	}
	if !inv.UpdatedAt.IsZero() {
		doc[FieldUpdatedAt] = inv.UpdatedAt
	}
	doc[FieldOriginalOrderID] = inv.OriginalOrderID
	doc[FieldSavedAt] = inv.SavedAt
	doc[FieldType] = inv.Type
	return doc
}

// SalesInvoiceFromDocument hydrates an invoice snapshot from a plain field map.
func SalesInvoiceFromDocument(id string, doc map[string]any) SalesInvoice {
	fields := cloneFields(doc)
	delete(fields, FieldID)
	inv := SalesInvoice{
		ID:              id,
		OriginalOrderID: StringValue(pop(fields, FieldOriginalOrderID)),
		SavedAt:         TimeValue(pop(fields, FieldSavedAt)),
		Type:            StringValue(pop(fields, FieldType)),
		Fields:          fields,
	}
	inv.ProviderID, _ = popString(fields, FieldProviderID)
	inv.TechnicianID, _ = popString(fields, FieldTechnicianID)
	inv.TotalAmount, _ = popDecimal(fields, FieldTotalAmount)
	inv.Status, _ = popString(fields, FieldStatus)
	inv.CreatedAt, _ = popTime(fields, FieldCreatedAt)
	inv.UpdatedAt, _ = popTime(fields, FieldUpdatedAt)
	return inv
}

// Document flattens the commission into its stored field map, without the identifier.
func (c TechnicianCommission) Document() map[string]any {
	return map[string]any{
		FieldTechnicianID:      c.TechnicianID,
		FieldTechnicianName:    c.TechnicianName,
		FieldAmount:            c.Amount.InexactFloat64(),
		FieldCommissionPercent: c.CommissionPercent.InexactFloat64(),
		FieldOrderTotal:        c.OrderTotal.InexactFloat64(),
		FieldOriginalOrderID:   c.OriginalOrderID,
		FieldInvoiceID:         c.InvoiceID,
		FieldCreatedAt:         c.CreatedAt,
	}
}

// TechnicianCommissionFromDocument hydrates a commission record from a plain field map.
func TechnicianCommissionFromDocument(id string, doc map[string]any) TechnicianCommission {
	return TechnicianCommission{
		ID:                id,
		TechnicianID:      StringValue(doc[FieldTechnicianID]),
		TechnicianName:    StringValue(doc[FieldTechnicianName]),
		Amount:            DecimalValue(doc[FieldAmount]),
		CommissionPercent: DecimalValue(doc[FieldCommissionPercent]),
		OrderTotal:        DecimalValue(doc[FieldOrderTotal]),
		OriginalOrderID:   StringValue(doc[FieldOriginalOrderID]),
		InvoiceID:         StringValue(doc[FieldInvoiceID]),
		CreatedAt:         TimeValue(doc[FieldCreatedAt]),
	}
}

// EmployeeFromDocument hydrates an employee profile from a plain field map.
func EmployeeFromDocument(id string, doc map[string]any) Employee {
	return Employee{
		ID:         id,
		Name:       StringValue(doc[FieldName]),
		Role:       StringValue(doc[FieldRole]),
		Commission: DecimalValue(doc[FieldCommission]),
	}
}

// Document flattens the employee into its stored field map.
func (e Employee) Document() map[string]any {
	return map[string]any{
		FieldName:       e.Name,
		FieldRole:       e.Role,
		FieldCommission: e.Commission.InexactFloat64(),
	}
}

// StringValue renders scalar document values as trimmed strings. Driver reference
// types exposing Hex are rendered as their hex form.
func StringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case interface{ Hex() string }:
		return value.Hex()
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	case []byte:
		return strings.TrimSpace(string(value))
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// DecimalValue converts numeric document values into a decimal. Unparseable values yield zero.
func DecimalValue(v any) decimal.Decimal {
	d, _ := ParseDecimal(v)
	return d
}

// ParseDecimal converts numeric document values into a decimal, reporting whether v was numeric.
func ParseDecimal(v any) (decimal.Decimal, bool) {
	switch value := v.(type) {
	case decimal.Decimal:
		return value, true
	case float64:
		return decimal.NewFromFloat(value), true
	case float32:
		return decimal.NewFromFloat32(value), true
	case int:
		return decimal.NewFromInt(int64(value)), true
	case int32:
		return decimal.NewFromInt32(value), true
	case int64:
		return decimal.NewFromInt(value), true
	case json.Number:
		d, err := decimal.NewFromString(value.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// TimeValue converts timestamp document values into UTC times.
func TimeValue(v any) time.Time {
	ts, _ := ParseTime(v)
	return ts
}

// ParseTime converts time values and RFC 3339 strings into UTC times, reporting success.
func ParseTime(v any) (time.Time, bool) {
	switch value := v.(type) {
	case time.Time:
		return value.UTC(), !value.IsZero()
	case *time.Time:
		if value == nil {
			return time.Time{}, false
		}
		return value.UTC(), !value.IsZero()
	case string:
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	default:
		return time.Time{}, false
	}
}

func pop(fields map[string]any, key string) any {
	value, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	return value
}

func popDecimal(fields map[string]any, key string) (decimal.Decimal, bool) {
	d, ok := ParseDecimal(fields[key])
	if ok {
		delete(fields, key)
	}
	return d, ok
}

func popTime(fields map[string]any, key string) (time.Time, bool) {
	ts, ok := ParseTime(fields[key])
	if ok {
		delete(fields, key)
	}
	return ts, ok
}

func popString(fields map[string]any, key string) (string, bool) {
	var s string
	switch value := fields[key].(type) {
	case string:
		s = strings.TrimSpace(value)
	case interface{ Hex() string }:
		s = value.Hex()
	default:
		return "", false
	}
	delete(fields, key)
	return s, true
}

// setTotal writes the typed total unless an unparsed raw total is being carried in Fields.
func setTotal(doc map[string]any, total decimal.Decimal) {
	if _, raw := doc[FieldTotalAmount]; raw {
		return
	}
	doc[FieldTotalAmount] = total.InexactFloat64()
}

func cloneFields(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return maps.Clone(src)
}
