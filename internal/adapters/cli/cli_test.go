package cli_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"invoicehub/internal/adapters/cli"
	"invoicehub/internal/app"
	"invoicehub/internal/config"
	"invoicehub/internal/core"
	"invoicehub/internal/docstore"
	"invoicehub/internal/mail"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedRates struct{}

func (fixedRates) FetchRates(ctx context.Context) (core.RateTable, error) {
	return core.RateTable{"USD": decimal.NewFromInt(1), "INR": decimal.NewFromInt(80)}, nil
}

type nopMailer struct{}

func (nopMailer) SendEmployeeInvite(ctx context.Context, inv mail.Invite) error { return nil }

func newService(t *testing.T) app.ApplicationService {
	t.Helper()
	cfg := &config.Config{
		Rates:  config.RatesConfig{RefreshInterval: time.Hour, Timeout: time.Second},
		Outbox: config.OutboxConfig{BatchSize: 10, MaxAttempts: 3, DirectApply: true},
		Cache:  config.CacheConfig{Size: 16, TTL: time.Minute},
	}
	services := app.NewServices(docstore.NewMemoryStore(), cfg, app.Options{
		Rates:  fixedRates{},
		Mailer: nopMailer{},
	}, zap.NewNop())
	return app.NewAppService(services, zap.NewNop())
}

func execute(t *testing.T, svc app.ApplicationService, args ...string) (string, []bool, error) {
	t.Helper()
	var migrated []bool
	root := cli.NewRootCommand(func(ctx context.Context, migrate bool) (app.ApplicationService, func(), error) {
		migrated = append(migrated, migrate)
		return svc, func() {}, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), migrated, err
}

func TestMigrateOpensWithMigrations(t *testing.T) {
	out, migrated, err := execute(t, newService(t), "migrate")
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, migrated)
	assert.Contains(t, out, "Migrations up to date.")

	_, migrated, err = execute(t, newService(t), "rates")
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, migrated)
}

func TestReconcileAllCompanies(t *testing.T) {
	out, _, err := execute(t, newService(t), "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "Checked 0, unchanged 0, rewritten 0.")
}

func TestCompanyFlagRequired(t *testing.T) {
	for _, args := range [][]string{
		{"migrate-payments"},
		{"stock-status"},
		{"outbox", "list-dead"},
	} {
		_, migrated, err := execute(t, newService(t), args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), `"company" not set`)
		assert.Empty(t, migrated, "nothing is opened before flags validate")
	}
}

func TestStockStatusAndRates(t *testing.T) {
	svc := newService(t)
	p := app.OperatorPrincipal("acme")
	_, err := svc.UpsertStock(context.Background(), p, core.StockDetailInput{
		ProductCategory: "Hardware",
		ItemName:        "Bolt",
		CurrentStock:    decimal.NewFromInt(2),
		MinRequired:     decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	out, _, err := execute(t, svc, "stock-status", "--company", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Bolt")
	assert.Contains(t, out, "1 item(s), 1 below minimum")

	out, _, err = execute(t, svc, "rates")
	require.NoError(t, err)
	assert.Contains(t, out, "USD/INR : 80.0000")
	assert.Contains(t, out, "INR")
}

func TestOutboxCommands(t *testing.T) {
	svc := newService(t)

	out, _, err := execute(t, svc, "outbox", "process")
	require.NoError(t, err)
	assert.Contains(t, out, "0 record(s) applied.")

	out, _, err = execute(t, svc, "outbox", "list-dead", "--company", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "[]")

	_, _, err = execute(t, svc, "outbox", "requeue", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, _, err = execute(t, svc, "outbox", "requeue")
	assert.Error(t, err, "id argument is required")
}

func TestOpenerErrorIsReturned(t *testing.T) {
	boom := errors.New("no database")
	root := cli.NewRootCommand(func(ctx context.Context, migrate bool) (app.ApplicationService, func(), error) {
		return nil, nil, boom
	})
	root.SetArgs([]string{"reconcile"})
	root.SetOut(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, boom)
}
