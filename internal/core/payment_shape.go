package core

import (
	"encoding/json"
	"fmt"
	"time"

	"invoicehub/internal/docstore"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// legacyLedger is the flat single-payment shape written before partial payments existed.
type legacyLedger struct {
	InvoiceID      string          `json:"invoiceId"`
	CompanyID      string          `json:"companyId"`
	Amount         decimal.Decimal `json:"amount"`
	AmountINR      decimal.Decimal `json:"amountINR"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
	PaymentDate    time.Time       `json:"paymentDate"`
	Method         string          `json:"method"`
	Reference      string          `json:"reference"`
	PendingINR     decimal.Decimal `json:"pendingINR"`
	Status         LedgerStatus    `json:"status"`
}

// storedLedger is a payments/{id} document in either shape. Exactly one field is set.
type storedLedger struct {
	current *LedgerEntry
	legacy  *legacyLedger
}

// decodeLedger picks the shape by the presence of the partialPayments list or a
// shape marker.
func decodeLedger(snap docstore.Snapshot) (storedLedger, error) {
	if gjson.GetBytes(snap.Data, "partialPayments").Exists() || gjson.GetBytes(snap.Data, "shape").String() == LedgerShapePartial {
		var e LedgerEntry
		if err := snap.Decode(&e); err != nil {
			return storedLedger{}, err
		}
		if e.InvoiceID == "" {
			e.InvoiceID = snap.ID
		}
		return storedLedger{current: &e}, nil
	}
	var l legacyLedger
	if err := json.Unmarshal(snap.Data, &l); err != nil {
		return storedLedger{}, fmt.Errorf("decode legacy ledger %s: %w", snap.ID, err)
	}
	if l.InvoiceID == "" {
		l.InvoiceID = snap.ID
	}
	return storedLedger{legacy: &l}, nil
}

func (s storedLedger) isLegacy() bool { return s.legacy != nil }

// entry returns the ledger in the current shape, upgrading a legacy document in memory.
func (s storedLedger) entry(updatedAt time.Time) *LedgerEntry {
	if s.current != nil {
		return s.current
	}
	return upgradeLegacy(*s.legacy, updatedAt)
}

// upgradeLegacy turns a flat legacy payment into a one-entry partial-payments ledger. A
// legacy document with a zero amount becomes an empty ledger.
func upgradeLegacy(l legacyLedger, updatedAt time.Time) *LedgerEntry {
	e := &LedgerEntry{
		InvoiceID: l.InvoiceID,
		CompanyID: l.CompanyID,
		Shape:     LedgerShapePartial,
		UpdatedAt: updatedAt,
	}
	if l.Amount.IsPositive() {
		rate := l.ConversionRate
		if rate.IsZero() && l.AmountINR.IsPositive() {
			rate = l.AmountINR.Div(l.Amount)
		}
		if rate.IsZero() {
			rate = decimal.NewFromInt(1)
		}
		e.PartialPayments = []PartialPayment{{
			Amount:         l.Amount,
			ConversionRate: rate,
			AmountINR:      l.Amount.Mul(rate),
			PendingINR:     l.PendingINR,
			PaymentDate:    l.PaymentDate,
			Method:         l.Method,
			Reference:      l.Reference,
			RecordedAt:     l.PaymentDate,
		}}
	}
	e.recompute(l.PendingINR)
	return e
}
