package core

import (
	"context"
	"sort"
	"time"

	"invoicehub/internal/docstore"

	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// AgingBuckets splits outstanding INR by days past due.
type AgingBuckets struct {
	Current    decimal.Decimal `json:"current"`
	Days1to30  decimal.Decimal `json:"days1to30"`
	Days31to60 decimal.Decimal `json:"days31to60"`
	Days61to90 decimal.Decimal `json:"days61to90"`
	Over90     decimal.Decimal `json:"over90"`
}

func (b *AgingBuckets) add(daysPastDue int, amount decimal.Decimal) {
	switch {
	case daysPastDue <= 0:
		b.Current = b.Current.Add(amount)
	case daysPastDue <= 30:
		b.Days1to30 = b.Days1to30.Add(amount)
	case daysPastDue <= 60:
		b.Days31to60 = b.Days31to60.Add(amount)
	case daysPastDue <= 90:
		b.Days61to90 = b.Days61to90.Add(amount)
	default:
		b.Over90 = b.Over90.Add(amount)
	}
}

func (b AgingBuckets) Total() decimal.Decimal {
	return b.Current.Add(b.Days1to30).Add(b.Days31to60).Add(b.Days61to90).Add(b.Over90)
}

// ClientReceivable is one client's outstanding balance.
type ClientReceivable struct {
	ClientID   string          `json:"clientId"`
	ClientName string          `json:"clientName"`
	Invoices   int             `json:"invoices"`
	PendingINR decimal.Decimal `json:"pendingINR"`
	Aging      AgingBuckets    `json:"aging"`
}

// ReceivablesReport lists unpaid, issued invoices grouped by client as of a date.
type ReceivablesReport struct {
	CompanyID  string             `json:"companyId"`
	AsOf       time.Time          `json:"asOf"`
	Clients    []ClientReceivable `json:"clients"`
	Totals     AgingBuckets       `json:"totals"`
	PendingINR decimal.Decimal    `json:"pendingINR"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only reporting over invoices.
type ReportingService interface {
	// Receivables ages the pendingINR of every non-draft invoice that is not yet paid.
	// A zero asOf uses the current time.
	Receivables(ctx context.Context, companyID string, asOf time.Time) (*ReceivablesReport, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type reportingService struct {
	store docstore.Reader
	clock Clock
}

// NewReportingService constructs a ReportingService over the given reader.
func NewReportingService(store docstore.Reader, clock Clock) ReportingService {
	if clock == nil {
		clock = time.Now
	}
	return &reportingService{store: store, clock: clock}
}

func outstanding(inv Invoice) bool {
	switch inv.Status {
	case InvoiceDraft, InvoicePaid, InvoicePaidAfterDue:
		return false
	}
	return inv.PendingINR.GreaterThanOrEqual(Epsilon)
}

func (s *reportingService) Receivables(ctx context.Context, companyID string, asOf time.Time) (*ReceivablesReport, error) {
	if asOf.IsZero() {
		asOf = s.clock()
	}
	asOf = asOf.UTC()
	invoices, err := list[Invoice](ctx, s.store, CollInvoices, byCompany(companyID))
	if err != nil {
		return nil, err
	}

	byClient := map[string]*ClientReceivable{}
	report := &ReceivablesReport{CompanyID: companyID, AsOf: asOf, Clients: []ClientReceivable{}}
	for _, inv := range invoices {
		if !outstanding(inv) {
			continue
		}
		days := 0
		if !inv.DueDate.IsZero() && asOf.After(inv.DueDate) {
			days = int(asOf.Sub(inv.DueDate) / (24 * time.Hour))
			// Any part of a day past due counts as one day.
			if asOf.Sub(inv.DueDate)%(24*time.Hour) > 0 {
				days++
			}
		}
		cr, ok := byClient[inv.ClientID]
		if !ok {
			cr = &ClientReceivable{ClientID: inv.ClientID, ClientName: inv.Client.Name}
			byClient[inv.ClientID] = cr
		}
		cr.Invoices++
		cr.PendingINR = cr.PendingINR.Add(inv.PendingINR)
		cr.Aging.add(days, inv.PendingINR)
		report.Totals.add(days, inv.PendingINR)
	}

	for _, cr := range byClient {
		report.Clients = append(report.Clients, *cr)
	}
	sort.Slice(report.Clients, func(i, j int) bool {
		return report.Clients[i].PendingINR.GreaterThan(report.Clients[j].PendingINR)
	})
	report.PendingINR = report.Totals.Total()
	return report, nil
}
