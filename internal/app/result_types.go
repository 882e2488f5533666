package app

import (
	"time"

	"invoicehub/internal/core"

	"github.com/shopspring/decimal"
)

// CompanyResult is returned by company profile operations.
type CompanyResult struct {
	Company *core.Company `json:"company"`
}

// ClientListResult is returned by ListClients.
type ClientListResult struct {
	CompanyID string        `json:"companyId"`
	Clients   []core.Client `json:"clients"`
}

// InvoiceResult is returned by invoice lifecycle operations.
type InvoiceResult struct {
	Invoice *core.Invoice `json:"invoice"`
	// Shortages lists stock lines that exceeded what was on hand when the caller allowed it.
	Shortages []core.InsufficientItem `json:"shortages,omitempty"`
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	Invoices   []core.Invoice  `json:"invoices"`
	PendingINR decimal.Decimal `json:"pendingINR"`
}

// LedgerResult is returned by payment operations.
type LedgerResult struct {
	Ledger *core.LedgerEntry `json:"ledger"`
}

// StockListResult is returned by ListStock.
type StockListResult struct {
	Items []core.StockView `json:"items"`
	Low   int              `json:"low"`
}

// RatesResult is returned by Rates.
type RatesResult struct {
	Base      string          `json:"base"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Rates     core.RateTable  `json:"rates"`
	USDToINR  decimal.Decimal `json:"usdToInr"`
}

// ConversionResult is returned by Convert.
type ConversionResult struct {
	Amount    decimal.Decimal `json:"amount"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Converted decimal.Decimal `json:"converted"`
	Source    string          `json:"source"`
}

// FileResult is a rendered download.
type FileResult struct {
	Filename    string
	ContentType string
	Data        []byte
}
