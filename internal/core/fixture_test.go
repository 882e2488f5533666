package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"invoicehub/internal/core"
	"invoicehub/internal/docstore"
	"invoicehub/internal/mail"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticRates serves a fixed table.
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
	err     error
}

func (m *recordingMailer) SendEmployeeInvite(ctx context.Context, inv mail.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites = append(m.invites, inv)
	return m.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx       context.Context
	store     *docstore.MemoryStore
	clock     *fakeClock
	currency  core.CurrencyService
	companies core.CompanyService
	stock     core.StockService
	outbox    *core.OutboxProcessor
	ledger    core.PaymentLedger
	invoices  core.InvoiceService
	orders    core.PurchaseOrderService
	company   *core.Company
	client    *core.Client
}

// newFixture wires every service over one MemoryStore with a USD company whose client is
// abroad (zero-rated). USD converts to INR at 80.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	clock := newFakeClock(testStart)
	log := zap.NewNop()

	currency := core.NewCurrencyService(staticRates{
		"USD": d("1"),
		"INR": d("80"),
		"EUR": d("0.8"),
	}, nil, time.Hour, time.Second, clock.Now, log)
	companies := core.NewCompanyService(store, 16, time.Minute, clock.Now)
	stock := core.NewStockService(store, clock.Now)
	outbox := core.NewOutboxProcessor(store, core.OutboxOptions{MaxAttempts: 3}, clock.Now, log)
	outbox.Handle(core.OutboxMirrorPayments, core.MirrorPaymentsHandler(clock.Now))
	outbox.Handle(core.OutboxStockApplyOnCreate, core.StockOutboxHandler(stock, core.OutboxStockApplyOnCreate))
	outbox.Handle(core.OutboxStockApplyOnDelete, core.StockOutboxHandler(stock, core.OutboxStockApplyOnDelete))

	f := &fixture{
		ctx:       ctx,
		store:     store,
		clock:     clock,
		currency:  currency,
		companies: companies,
		stock:     stock,
		outbox:    outbox,
		ledger:    core.NewPaymentLedger(store, currency, outbox, clock.Now, log),
		invoices:  core.NewInvoiceService(store, companies, stock, currency, outbox, clock.Now, log),
		orders:    core.NewPurchaseOrderService(store, clock.Now),
	}

	company, err := companies.CreateCompany(ctx, "admin-1", "admin@acme.test", core.CompanyInput{
		Name:           "Acme",
		Country:        "IN",
		Currency:       "USD",
		DefaultTaxRate: d("18"),
	})
	require.NoError(t, err)
	f.company = company

	client, err := companies.CreateClient(ctx, company.ID, core.ClientInput{Name: "Globex", Country: "US", Currency: "USD"})
	require.NoError(t, err)
	f.client = client
	return f
}

func (f *fixture) admin() *core.Principal {
	return &core.Principal{UserID: "admin-1", Role: core.RoleAdmin, CompanyID: f.company.ID}
}

// newInvoice creates a sent invoice for total, due in 30 days.
func (f *fixture) newInvoice(t *testing.T, total string, lines ...core.LineItemInput) *core.Invoice {
	t.Helper()
	if len(lines) == 0 {
		lines = []core.LineItemInput{{Description: "Consulting", Quantity: d("1"), UnitPrice: d(total)}}
	}
	inv, err := f.invoices.Create(f.ctx, f.company.ID, core.CreateInvoiceInput{
		ClientID:  f.client.ID,
		LineItems: lines,
		IssueDate: f.clock.Now(),
		DueDate:   f.clock.Now().Add(30 * 24 * time.Hour),
		Send:      true,
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) stockDetail(t *testing.T, item string, current string) *core.StockView {
	t.Helper()
	sd, err := f.stock.UpsertStockDetail(f.ctx, f.company.ID, core.StockDetailInput{
		ProductCategory:   "hardware",
		ItemName:          item,
		ProductVersion:    "v1",
		CurrentStock:      d(current),
		MinRequired:       d("5"),
		SafeQuantityLimit: d("2"),
	})
	require.NoError(t, err)
	return sd
}

func (f *fixture) getInvoice(t *testing.T, id string) *core.Invoice {
	t.Helper()
	inv, err := f.invoices.Get(f.ctx, f.company.ID, id)
	require.NoError(t, err)
	return inv
}

func (f *fixture) getStock(t *testing.T, id string) core.StockDetail {
	t.Helper()
	snap, err := f.store.Get(f.ctx, core.CollStockDetails, id)
	require.NoError(t, err)
	var sd core.StockDetail
	require.NoError(t, snap.Decode(&sd))
	return sd
}

func stockLine(item, qty string) core.LineItemInput {
	return core.LineItemInput{
		Description:     item,
		Quantity:        d(qty),
		UnitPrice:       d("10"),
		FromStock:       true,
		ProductCategory: "hardware",
		ItemName:        item,
		ProductVersion:  "v1",
	}
}

func ptr[T any](v T) *T { return &v }
