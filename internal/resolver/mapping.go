package resolver

import (
	"strings"

	"github.com/recoverydesk/case-service/internal/types"
)

// Canonical field names understood by the resolver
const (
	FieldCustomerName  = "customer_name"
	FieldCustomerEmail = "customer_email"
	FieldAmount        = "amount"
	FieldAgingDays     = "aging_days"
	FieldInvoiceID     = "invoice_id"
	FieldAccountNumber = "account_number"
	FieldStatus        = "status"
	FieldDueDate       = "due_date"
	FieldRegion        = "region"
	FieldAccountType   = "account_type"
)

// FieldMapping maps a canonical field to the header names that may carry it.
// Aliases are tried in order; the first present header wins.
type FieldMapping map[string][]string

// DefaultFieldMapping returns the built-in header aliases
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		FieldCustomerName:  {"name", "customer_name", "Customer Name"},
		FieldCustomerEmail: {"email", "customer_email", "Customer Email"},
		FieldAmount:        {"amount", "amount_due", "invoice_amount"},
		FieldAgingDays:     {"aging_days", "Aging Days"},
		FieldInvoiceID:     {"invoice_id", "Invoice ID"},
		FieldAccountNumber: {"account_number", "Account Number"},
		FieldStatus:        {"status"},
		FieldDueDate:       {"due_date", "Due Date"},
		FieldRegion:        {"region"},
		FieldAccountType:   {"account_type"},
	}
}

// Merge returns m with the entries of override replacing its own
func (m FieldMapping) Merge(override FieldMapping) FieldMapping {
	out := make(FieldMapping, len(m)+len(override))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range override {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

// normalizeHeader folds case and drops spaces, underscores and hyphens so
// that "Customer Email", "customer_email" and "CUSTOMER-EMAIL" compare equal
func normalizeHeader(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '_', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Binding is a FieldMapping resolved against one file's header
type Binding struct {
	index map[string]int
}

// Bind resolves each canonical field to a column index of fields
func (m FieldMapping) Bind(fields []string) Binding {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		key := normalizeHeader(f)
		if _, exists := byName[key]; !exists {
			byName[key] = i
		}
	}

	b := Binding{index: make(map[string]int, len(m))}
	for canonical, aliases := range m {
		for _, alias := range aliases {
			if i, ok := byName[normalizeHeader(alias)]; ok {
				b.index[canonical] = i
				break
			}
		}
	}
	return b
}

// Has reports whether the header carries the canonical field
func (b Binding) Has(canonical string) bool {
	_, ok := b.index[canonical]
	return ok
}

// Value returns the trimmed value of a canonical field in row
func (b Binding) Value(row types.DecodedRow, canonical string) string {
	i, ok := b.index[canonical]
	if !ok || i >= len(row.Values) {
		return ""
	}
	return strings.TrimSpace(row.Values[i])
}
