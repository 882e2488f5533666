package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusResult is the derived payment status of an invoice.
type StatusResult struct {
	Status           InvoiceStatus
	DaysOverdue      int
	IsPartialOverdue bool
}

// DeriveInvoiceStatus computes an invoice's payment status from its company-currency total,
// the amount paid so far, and its due date. A zero due date never becomes overdue.
//
// The first matching rule wins: paid and overdue is paid-after-due; paid is paid; overdue
// carries the elapsed whole days and whether a partial payment exists; any payment is
// partially-paid; otherwise pending.
func DeriveInvoiceStatus(inv *Invoice, paid decimal.Decimal, now time.Time) StatusResult {
	isPaid := approxEqual(inv.Total, paid)
	isOverdue := !inv.DueDate.IsZero() && now.After(inv.DueDate)

	switch {
	case isPaid && isOverdue:
		return StatusResult{Status: InvoicePaidAfterDue}
	case isPaid:
		return StatusResult{Status: InvoicePaid}
	case isOverdue:
		return StatusResult{
			Status:           InvoiceOverdue,
			DaysOverdue:      int(now.Sub(inv.DueDate) / (24 * time.Hour)),
			IsPartialOverdue: paid.IsPositive(),
		}
	case paid.IsPositive():
		return StatusResult{Status: InvoicePartiallyPaid}
	default:
		return StatusResult{Status: InvoicePending}
	}
}

// DeriveStockStatus compares current stock against the item's thresholds.
func DeriveStockStatus(sd StockDetail) StockStatus {
	switch {
	case sd.CurrentStock.LessThan(sd.SafeQuantityLimit):
		return StockCritical
	case sd.CurrentStock.LessThan(sd.MinRequired):
		return StockLow
	default:
		return StockNormal
	}
}
