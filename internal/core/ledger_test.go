package core_test

import (
	"encoding/json"
	"testing"
	"time"

	"invoicehub/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func payment(amount, rate, pending string) core.PaymentInput {
	in := core.PaymentInput{
		Amount:         d(amount),
		ConversionRate: d(rate),
		PaymentDate:    testStart,
		Method:         "wire",
	}
	if pending != "" {
		in.PendingINR = ptr(d(pending))
	}
	return in
}

func TestPaymentLedger_TotalsAreSumsWithFrozenRates(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t, "100")
	requireDecimal(t, "8000", inv.TotalINR)

	for _, p := range []core.PaymentInput{
		payment("40", "80", "4800"),
		payment("30", "82", "2340"),
		payment("30", "79.5", "0"),
	} {
		_, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, p)
		require.NoError(t, err)
	}

	led, err := f.ledger.GetLedger(f.ctx, f.company.ID, inv.ID)
	require.NoError(t, err)
	require.Len(t, led.PartialPayments, 3)
	requireDecimal(t, "100", led.TotalPaidUSD)
	requireDecimal(t, "8045", led.TotalPaidINR) // 3200 + 2460 + 2385
	requireDecimal(t, "0", led.PendingINR)
	assert.Equal(t, core.LedgerCompleted, led.Status)
	requireDecimal(t, "2460", led.PartialPayments[1].AmountINR)

	got := f.getInvoice(t, inv.ID)
	requireDecimal(t, "100", got.PaidUSD)
	requireDecimal(t, "8045", got.PaidINR)
	requireDecimal(t, "100", got.AmountPaidByClient)
	requireDecimal(t, "0", got.PendingINR)
	assert.Len(t, got.PartialPayments, 3)
	assert.Equal(t, core.InvoicePaid, got.Status)
}

func TestPaymentLedger_CapturesRateAndPendingWhenOmitted(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t, "100")

	led, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, payment("25", "0", ""))
	require.NoError(t, err)
	requireDecimal(t, "80", led.PartialPayments[0].ConversionRate)
	requireDecimal(t, "2000", led.TotalPaidINR)
	requireDecimal(t, "6000", led.PendingINR)
	assert.Equal(t, core.LedgerPartial, led.Status)

	got := f.getInvoice(t, inv.ID)
	assert.Equal(t, core.InvoicePartiallyPaid, got.Status)
}

func TestPaymentLedger_DeleteThenReAddRestoresTotals(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t, "100")

	_, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, payment("40", "80", "4800"))
	require.NoError(t, err)
	second := payment("20", "81", "3180")
	before, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, second)
	require.NoError(t, err)

	after, err := f.ledger.DeletePartialPayment(f.ctx, f.company.ID, inv.ID, 1)
	require.NoError(t, err)
	requireDecimal(t, "40", after.TotalPaidUSD)
	requireDecimal(t, "3200", after.TotalPaidINR)
	requireDecimal(t, "4800", after.PendingINR, "pending comes from the new last entry")

	restored, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, second)
	require.NoError(t, err)
	requireDecimal(t, before.TotalPaidUSD.String(), restored.TotalPaidUSD)
	requireDecimal(t, before.TotalPaidINR.String(), restored.TotalPaidINR)
	requireDecimal(t, before.PendingINR.String(), restored.PendingINR)
	assert.Equal(t, before.Status, restored.Status)
}

func TestPaymentLedger_DeleteLastPaymentResetsPending(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t, "100")
	_, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, payment("100", "80", "0"))
	require.NoError(t, err)
	assert.Equal(t, core.InvoicePaid, f.getInvoice(t, inv.ID).Status)

	led, err := f.ledger.DeletePartialPayment(f.ctx, f.company.ID, inv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, led.PartialPayments)
	requireDecimal(t, "0", led.TotalPaidUSD)
	requireDecimal(t, "8000", led.PendingINR)
	assert.Equal(t, core.LedgerPartial, led.Status)

	got := f.getInvoice(t, inv.ID)
	requireDecimal(t, "0", got.PaidUSD)
	assert.Equal(t, core.InvoicePending, got.Status)
}

func TestPaymentLedger_Errors(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t, "100")

	t.Run("delete without ledger", func(t *testing.T) {
		_, err := f.ledger.DeletePartialPayment(f.ctx, f.company.ID, inv.ID, 0)
		assert.ErrorIs(t, err, core.ErrLedgerNotFound)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, payment("10", "80", ""))
		require.NoError(t, err)
		for _, idx := range []int{-1, 1, 5} {
			_, err := f.ledger.DeletePartialPayment(f.ctx, f.company.ID, inv.ID, idx)
			assert.ErrorIs(t, err, core.ErrPaymentIndexOutOfRange, "index %d", idx)
		}
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv.ID, payment("0", "80", ""))
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("other tenant", func(t *testing.T) {
		other, err := f.companies.CreateCompany(f.ctx, "admin-2", "b@other.test", core.CompanyInput{Name: "Other", Country: "IN", Currency: "INR"})
		require.NoError(t, err)
		_, err = f.ledger.RecordPartialPayment(f.ctx, other.ID, inv.ID, payment("10", "80", ""))
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.ledger.GetLedger(f.ctx, other.ID, inv.ID)
		assert.ErrorIs(t, err, core.ErrLedgerNotFound)
	})
}

func TestPaymentLedger_LegacyShape(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t, "100")
	legacy := map[string]any{
		"invoiceId":      inv.ID,
		"companyId":      f.company.ID,
		"amount":         60,
		"amountINR":      4800,
		"conversionRate": 80,
		"pendingINR":     3200,
		"paymentDate":    testStart.Add(-24 * time.Hour),
		"method":         "cheque",
		"status":         "partial",
	}
	require.NoError(t, f.store.Set(f.ctx, core.CollPayments, inv.ID, legacy))

	t.Run("read upgrades in memory", func(t *testing.T) {
		led, err := f.ledger.GetLedger(f.ctx, f.company.ID, inv.ID)
		require.NoError(t, err)
		require.Len(t, led.PartialPayments, 1)
		assert.Equal(t, "cheque", led.PartialPayments[0].Method)
		requireDecimal(t, "60", led.TotalPaidUSD)
		requireDecimal(t, "4800", led.TotalPaidINR)
		requireDecimal(t, "3200", led.PendingINR)

		snap, err := f.store.Get(f.ctx, core.CollPayments, inv.ID)
		require.NoError(t, err)
		assert.False(t, gjson.GetBytes(snap.Data, "partialPayments").Exists(), "reads do not rewrite")
	})

	t.Run("migration persists the current shape", func(t *testing.T) {
		migrated, err := f.ledger.MigrateLegacyLedgers(f.ctx, f.company.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{inv.ID}, migrated)

		snap, err := f.store.Get(f.ctx, core.CollPayments, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), gjson.GetBytes(snap.Data, "partialPayments.#").Int())
		assert.Equal(t, core.LedgerShapePartial, gjson.GetBytes(snap.Data, "shape").String())
		var led core.LedgerEntry
		require.NoError(t, json.Unmarshal(snap.Data, &led))
		requireDecimal(t, "60", led.TotalPaidUSD)
		requireDecimal(t, "4800", led.TotalPaidINR)

		got := f.getInvoice(t, inv.ID)
		requireDecimal(t, "60", got.PaidUSD)
		assert.Equal(t, core.InvoicePartiallyPaid, got.Status)

		again, err := f.ledger.MigrateLegacyLedgers(f.ctx, f.company.ID)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("rate derived from amountINR", func(t *testing.T) {
		inv2 := f.newInvoice(t, "50")
		require.NoError(t, f.store.Set(f.ctx, core.CollPayments, inv2.ID, map[string]any{
			"invoiceId":  inv2.ID,
			"companyId":  f.company.ID,
			"amount":     10,
			"amountINR":  820,
			"pendingINR": 3180,
		}))
		led, err := f.ledger.RecordPartialPayment(f.ctx, f.company.ID, inv2.ID, payment("5", "80", ""))
		require.NoError(t, err)
		require.Len(t, led.PartialPayments, 2)
		requireDecimal(t, "82", led.PartialPayments[0].ConversionRate)
		requireDecimal(t, "1220", led.TotalPaidINR)
	})
}
