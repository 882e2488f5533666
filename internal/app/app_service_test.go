package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"invoicehub/internal/app"
	"invoicehub/internal/config"
	"invoicehub/internal/core"
	"invoicehub/internal/docstore"
	"invoicehub/internal/mail"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type staticRates core.RateTable

func (r staticRates) FetchRates(ctx context.Context) (core.RateTable, error) {
	out := core.RateTable{}
	for k, v := range r {
		out[k] = v
	}
	return out, nil
}

type recordingMailer struct {
	mu      sync.Mutex
	invites []mail.Invite
}

func (m *recordingMailer) SendEmployeeInvite(ctx context.Context, inv mail.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites = append(m.invites, inv)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() *config.Config {
	return &config.Config{
		ServiceName: "invoicehub-test",
		Rates:       config.RatesConfig{RefreshInterval: time.Hour, Timeout: time.Second},
		Sync:        config.SyncConfig{Debounce: 10 * time.Millisecond, LockTTL: time.Second},
		Outbox:      config.OutboxConfig{Interval: time.Second, BatchSize: 10, MaxAttempts: 3, DirectApply: true},
		Cache:       config.CacheConfig{Size: 16, TTL: time.Minute},
	}
}

type testApp struct {
	ctx    context.Context
	svc    app.ApplicationService
	mailer *recordingMailer
	admin  *core.Principal
	client *core.Client
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()
	mailer := &recordingMailer{}
	services := app.NewServices(docstore.NewMemoryStore(), testConfig(), app.Options{
		Rates:  staticRates{"USD": d("1"), "INR": d("80"), "EUR": d("0.8")},
		Mailer: mailer,
		Clock:  func() time.Time { return now },
	}, zap.NewNop())
	svc := app.NewAppService(services, zap.NewNop())

	_, err := svc.RegisterCompany(ctx, "uid-admin", "admin@acme.test", app.CompanyRequest{
		Name:     "Acme",
		Country:  "IN",
		Currency: "USD",
	})
	require.NoError(t, err)
	admin, err := svc.Resolve(ctx, "uid-admin", "")
	require.NoError(t, err)

	client, err := svc.CreateClient(ctx, admin, app.ClientRequest{Name: "Globex", Country: "US", Email: "ap@globex.test"})
	require.NoError(t, err)
	return &testApp{ctx: ctx, svc: svc, mailer: mailer, admin: admin, client: client}
}

func TestApp_RequestValidation(t *testing.T) {
	a := newTestApp(t)

	_, err := a.svc.RegisterCompany(a.ctx, "uid-2", "", app.CompanyRequest{Name: "Initech", Country: "India", Currency: "INR"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "country", verr.Field)

	_, err = a.svc.CreateClient(a.ctx, a.admin, app.ClientRequest{Name: "x", Country: "US", Email: "nope"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)

	_, err = a.svc.CreateInvoice(a.ctx, a.admin, app.CreateInvoiceRequest{
		ClientID:  a.client.ID,
		LineItems: []app.LineItemRequest{{Quantity: d("1"), UnitPrice: d("1")}},
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lineItems[0].description", verr.Field)

	_, err = a.svc.CreateInvoice(a.ctx, a.admin, app.CreateInvoiceRequest{
		ClientID:  a.client.ID,
		LineItems: []app.LineItemRequest{{Description: "widget", Quantity: d("1"), UnitPrice: d("1"), FromStock: true}},
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lineItems[0].productCategory", verr.Field)
}

func TestApp_TenantGuards(t *testing.T) {
	a := newTestApp(t)

	_, err := a.svc.ListInvoices(a.ctx, nil, "", "")
	assert.ErrorIs(t, err, core.ErrForbidden)
	_, err = a.svc.GetCompany(a.ctx, &core.Principal{UserID: "x", Role: core.RoleAdmin})
	assert.ErrorIs(t, err, core.ErrForbidden)

	employee := &core.Principal{UserID: "uid-emp", Role: core.RoleEmployee, CompanyID: a.admin.CompanyID}
	_, err = a.svc.ListEmployees(a.ctx, employee)
	assert.ErrorIs(t, err, core.ErrForbidden)
	_, err = a.svc.CreatePurchaseOrder(a.ctx, employee, app.CreatePurchaseOrderRequest{VendorName: "v", RequestIDs: []string{"r"}})
	assert.ErrorIs(t, err, core.ErrForbidden)
	_, err = a.svc.DeleteCategory(a.ctx, employee, "hardware")
	assert.ErrorIs(t, err, core.ErrForbidden)

	other := &core.Principal{UserID: "uid-other", Role: core.RoleAdmin, CompanyID: "other-company"}
	_, err = a.svc.GetClient(a.ctx, other, a.client.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestApp_InvoicePaymentAndExport(t *testing.T) {
	a := newTestApp(t)

	created, err := a.svc.CreateInvoice(a.ctx, a.admin, app.CreateInvoiceRequest{
		ClientID:  a.client.ID,
		LineItems: []app.LineItemRequest{{Description: "Consulting", Quantity: d("1"), UnitPrice: d("100")}},
		DueDate:   now.Add(30 * 24 * time.Hour),
		Send:      true,
	})
	require.NoError(t, err)
	inv := created.Invoice
	assert.True(t, inv.IssueDate.Equal(now.Truncate(24*time.Hour)), "issue date defaults to today")
	assert.True(t, d("8000").Equal(inv.TotalINR))

	led, err := a.svc.RecordPayment(a.ctx, a.admin, inv.ID, app.PaymentRequest{Amount: d("40"), Method: "wire"})
	require.NoError(t, err)
	assert.True(t, d("4800").Equal(led.Ledger.PendingINR), "got %s", led.Ledger.PendingINR)

	got, err := a.svc.GetInvoice(a.ctx, a.admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoicePartiallyPaid, got.Invoice.Status)

	list, err := a.svc.ListInvoices(a.ctx, a.admin, "", "")
	require.NoError(t, err)
	require.Len(t, list.Invoices, 1)
	assert.True(t, d("4800").Equal(list.PendingINR))

	file, err := a.svc.ExportInvoice(a.ctx, a.admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "invoice-INV-0001.xlsx", file.Filename)
	wb, err := excelize.OpenReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	defer wb.Close()
	number, err := wb.GetCellValue("Invoice", "B1")
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", number)
	client, err := wb.GetCellValue("Invoice", "B4")
	require.NoError(t, err)
	assert.Equal(t, "Globex", client)

	report, err := a.svc.ExportReceivables(a.ctx, a.admin, time.Time{})
	require.NoError(t, err)
	rb, err := excelize.OpenReader(bytes.NewReader(report.Data))
	require.NoError(t, err)
	defer rb.Close()
	name, err := rb.GetCellValue("Receivables", "A4")
	require.NoError(t, err)
	assert.Equal(t, "Globex", name)
}

func TestApp_ShortageReportedWhenAllowed(t *testing.T) {
	a := newTestApp(t)
	_, err := a.svc.UpsertStock(a.ctx, a.admin, core.StockDetailInput{
		ProductCategory: "hardware",
		ItemName:        "router",
		CurrentStock:    d("1"),
		MinRequired:     d("5"),
	})
	require.NoError(t, err)

	line := app.LineItemRequest{Description: "router", Quantity: d("3"), UnitPrice: d("10"), FromStock: true, ProductCategory: "hardware", ItemName: "router"}
	avail, err := a.svc.ValidateStock(a.ctx, a.admin, []app.LineItemRequest{line})
	require.NoError(t, err)
	assert.False(t, avail.Valid)

	_, err = a.svc.CreateInvoice(a.ctx, a.admin, app.CreateInvoiceRequest{ClientID: a.client.ID, LineItems: []app.LineItemRequest{line}})
	assert.ErrorIs(t, err, core.ErrInsufficientStock)

	res, err := a.svc.CreateInvoice(a.ctx, a.admin, app.CreateInvoiceRequest{
		ClientID:               a.client.ID,
		LineItems:              []app.LineItemRequest{line},
		AllowInsufficientStock: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Shortages, 1)
	assert.True(t, d("1").Equal(res.Shortages[0].Available))
}

func TestApp_CurrencyAndInvites(t *testing.T) {
	a := newTestApp(t)

	rates := a.svc.Rates(a.ctx)
	assert.Equal(t, "api", rates.Source)
	assert.True(t, d("80").Equal(rates.USDToINR))

	conv, err := a.svc.Convert(a.ctx, app.ConvertRequest{Amount: d("10"), From: "eur", To: "INR"})
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(conv.Converted), "got %s", conv.Converted)
	conv, err = a.svc.Convert(a.ctx, app.ConvertRequest{Amount: d("100"), From: "USD", To: "EUR"})
	require.NoError(t, err)
	assert.True(t, d("80").Equal(conv.Converted), "got %s", conv.Converted)

	emp, err := a.svc.InviteEmployee(a.ctx, a.admin, app.InviteRequest{
		Name:            "Dana",
		Email:           "dana@acme.test",
		RegistrationURL: "https://app.example.test/register",
	})
	require.NoError(t, err)
	assert.Equal(t, core.EmployeeInvited, emp.Status)
	require.Len(t, a.mailer.invites, 1)

	_, err = a.svc.InviteEmployee(a.ctx, a.admin, app.InviteRequest{Email: "dana@acme.test", RegistrationURL: "not a url"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestApp_Schemas(t *testing.T) {
	a := newTestApp(t)
	schemas := a.svc.Schemas()
	require.Contains(t, schemas, core.CollInvoices)
	raw, err := json.Marshal(schemas[core.CollInvoices])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"totalINR":{"type":"number"}`)
}
