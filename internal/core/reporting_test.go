package core_test

import (
	"testing"
	"time"

	"invoicehub/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporting_ReceivablesAging(t *testing.T) {
	f := newFixture(t)
	reports := core.NewReportingService(f.store, f.clock.Now)

	current := f.newInvoice(t, "100") // due in 30 days
	paid := f.newInvoice(t, "20")
	_, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, paid.ID, payment("20", "80", "0"))
	require.NoError(t, err)
	_, err = f.invoices.Create(f.ctx, f.company.ID, core.CreateInvoiceInput{
		ClientID:  f.client.ID,
		LineItems: []core.LineItemInput{{Description: "draft", Quantity: d("1"), UnitPrice: d("999")}},
		IssueDate: testStart,
	})
	require.NoError(t, err)

	initech, err := f.companies.CreateClient(f.ctx, f.company.ID, core.ClientInput{Name: "Initech", Country: "US"})
	require.NoError(t, err)
	late, err := f.invoices.Create(f.ctx, f.company.ID, core.CreateInvoiceInput{
		ClientID:  initech.ID,
		LineItems: []core.LineItemInput{{Description: "support", Quantity: d("1"), UnitPrice: d("50")}},
		IssueDate: testStart,
		DueDate:   testStart.Add(time.Hour),
		Send:      true,
	})
	require.NoError(t, err)
	_, err = f.ledger.RecordPartialPayment(f.ctx, f.company.ID, late.ID, payment("10", "80", ""))
	require.NoError(t, err)

	asOf := testStart.Add(40 * 24 * time.Hour)
	report, err := reports.Receivables(f.ctx, f.company.ID, asOf)
	require.NoError(t, err)

	require.Len(t, report.Clients, 2)
	globex, other := report.Clients[0], report.Clients[1]
	assert.Equal(t, f.client.ID, globex.ClientID)
	assert.Equal(t, 1, globex.Invoices, "drafts and paid invoices are not receivable")
	requireDecimal(t, current.TotalINR.String(), globex.PendingINR)
	requireDecimal(t, "8000", globex.Aging.Days1to30)

	assert.Equal(t, "Initech", other.ClientName)
	requireDecimal(t, "3200", other.PendingINR)
	requireDecimal(t, "3200", other.Aging.Days31to60, "39 days 23 hours rounds up to 40")

	requireDecimal(t, "11200", report.PendingINR)
	requireDecimal(t, "0", report.Totals.Current)
	requireDecimal(t, "8000", report.Totals.Days1to30)
	requireDecimal(t, "3200", report.Totals.Days31to60)
	assert.True(t, report.AsOf.Equal(asOf))

	early, err := reports.Receivables(f.ctx, f.company.ID, time.Time{})
	require.NoError(t, err)
	requireDecimal(t, "11200", early.Totals.Current)
	requireDecimal(t, "0", early.Totals.Days1to30)
}
