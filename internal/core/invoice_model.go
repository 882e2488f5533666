package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItemInput is one requested line. Amount is computed as quantity * unitPrice.
type LineItemInput struct {
	Description     string          `json:"description" validate:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	FromStock       bool            `json:"fromStock"`
	ProductCategory string          `json:"productCategory,omitempty"`
	ItemName        string          `json:"itemName,omitempty"`
	ProductVersion  string          `json:"productVersion,omitempty"`
}

// CreateInvoiceInput describes a new invoice. Amounts are in the company currency, which is
// also the currency payments are recorded in. A zero ExchangeRate is taken from the currency
// service.
type CreateInvoiceInput struct {
	ClientID     string
	LineItems    []LineItemInput
	ExchangeRate decimal.Decimal
	IssueDate    time.Time
	DueDate      time.Time
	Notes        string
	// Send issues the invoice immediately instead of saving a draft.
	Send bool
	// AllowInsufficientStock creates the invoice even when stock lines exceed what is on
	// hand. The stock decrement is still floored at zero.
	AllowInsufficientStock bool
}

// UpdateInvoiceInput carries the mutable invoice fields. Nil fields are left unchanged.
type UpdateInvoiceInput struct {
	Notes   *string
	DueDate *time.Time
	Status  *InvoiceStatus
}

// InvoiceFilter narrows List. A zero Status lists every invoice.
type InvoiceFilter struct {
	Status   InvoiceStatus
	ClientID string
}
