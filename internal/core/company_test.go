package core_test

import (
	"testing"
	"time"

	"invoicehub/internal/core"
	"invoicehub/internal/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompany_CacheServesStaleUntilTTL(t *testing.T) {
	f := newFixture(t)
	c, err := f.companies.GetCompany(f.ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)

	// An out-of-band edit, as from another replica.
	require.NoError(t, f.store.Update(f.ctx, core.CollCompanies, f.company.ID, docstore.Fields{"name": "Acme Renamed"}))
	c, err = f.companies.GetCompany(f.ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)

	f.clock.Advance(time.Minute)
	c, err = f.companies.GetCompany(f.ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", c.Name)
}

func TestCompany_UpdateRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	in := core.CompanyInput{Name: "Acme Ltd", Country: "IN", Currency: "USD", DefaultTaxRate: d("12")}

	employee := &core.Principal{UserID: "e-1", Role: core.RoleEmployee, CompanyID: f.company.ID}
	_, err := f.companies.UpdateCompany(f.ctx, employee, in)
	assert.ErrorIs(t, err, core.ErrForbidden)

	c, err := f.companies.UpdateCompany(f.ctx, f.admin(), in)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", c.Name)
	got, err := f.companies.GetCompany(f.ctx, f.company.ID)
	require.NoError(t, err)
	requireDecimal(t, "12", got.DefaultTaxRate)

	_, err = f.companies.UpdateCompany(f.ctx, f.admin(), core.CompanyInput{Name: "x", Country: "IN", Currency: "USD", DefaultTaxRate: d("-1")})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCompany_AdminBelongsToOneCompany(t *testing.T) {
	f := newFixture(t)
	_, err := f.companies.CreateCompany(f.ctx, "admin-1", "admin@acme.test", core.CompanyInput{Name: "Second", Country: "IN", Currency: "INR"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestClient_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	other, err := f.companies.CreateCompany(f.ctx, "admin-2", "b@other.test", core.CompanyInput{Name: "Other", Country: "IN", Currency: "INR"})
	require.NoError(t, err)

	_, err = f.companies.GetClient(f.ctx, other.ID, f.client.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.companies.UpdateClient(f.ctx, other.ID, f.client.ID, core.ClientInput{Name: "Stolen", Country: "US"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	clients, err := f.companies.ListClients(f.ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, clients)

	_, err = f.invoices.Create(f.ctx, other.ID, core.CreateInvoiceInput{
		ClientID:  f.client.ID,
		LineItems: []core.LineItemInput{{Description: "x", Quantity: d("1"), UnitPrice: d("1")}},
		IssueDate: testStart,
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
