package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoicehub/internal/docstore"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentLedger maintains the per-invoice record of partial payments. Ledger writes commit
// together with an invoice.mirror_payments outbox record, so the invoice catches up even if
// the immediate mirror write fails.
type PaymentLedger interface {
	RecordPartialPayment(ctx context.Context, companyID, invoiceID string, in PaymentInput) (*LedgerEntry, error)
	// DeletePartialPayment removes the payment at index (0-based).
	DeletePartialPayment(ctx context.Context, companyID, invoiceID string, index int) (*LedgerEntry, error)
	GetLedger(ctx context.Context, companyID, invoiceID string) (*LedgerEntry, error)
	// MigrateLegacyLedgers rewrites every legacy flat ledger of the company in the current
	// shape and returns the migrated invoice ids.
	MigrateLegacyLedgers(ctx context.Context, companyID string) ([]string, error)
}

// PaymentInput is one payment submitted by the caller. A zero ConversionRate is captured
// from the currency service. A nil PendingINR defaults to invoice totalINR minus the INR
// paid so far.
type PaymentInput struct {
	Amount         decimal.Decimal
	ConversionRate decimal.Decimal
	PendingINR     *decimal.Decimal
	PaymentDate    time.Time
	Method         string
	Reference      string
}

type paymentLedger struct {
	store    docstore.Store
	currency CurrencyService
	outbox   OutboxDispatcher
	clock    Clock
	log      *zap.Logger
}

// NewPaymentLedger constructs a PaymentLedger. outbox may be nil, in which case mirror
// records wait for the background processor.
func NewPaymentLedger(store docstore.Store, currency CurrencyService, outbox OutboxDispatcher, clock Clock, log *zap.Logger) PaymentLedger {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &paymentLedger{store: store, currency: currency, outbox: outbox, clock: clock, log: log}
}

// recompute derives the running totals from the payment list. pendingINR is the stored
// figure of the latest payment, or fallback when the list is empty.
func (e *LedgerEntry) recompute(fallback decimal.Decimal) {
	e.TotalPaidUSD = decimal.Zero
	e.TotalPaidINR = decimal.Zero
	for _, p := range e.PartialPayments {
		e.TotalPaidUSD = e.TotalPaidUSD.Add(p.Amount)
		e.TotalPaidINR = e.TotalPaidINR.Add(p.Amount.Mul(p.ConversionRate))
	}
	e.PendingINR = fallback
	if n := len(e.PartialPayments); n > 0 {
		e.PendingINR = e.PartialPayments[n-1].PendingINR
	}
	e.Status = LedgerPartial
	if e.PendingINR.LessThan(Epsilon) {
		e.Status = LedgerCompleted
	}
}

// readLedger loads payments/{invoiceID} in the current shape.
func readLedger(ctx context.Context, r docstore.Reader, invoiceID string) (*LedgerEntry, error) {
	snap, err := r.Get(ctx, CollPayments, invoiceID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrLedgerNotFound)
		}
		return nil, fmt.Errorf("failed to read ledger %s: %w", invoiceID, err)
	}
	stored, err := decodeLedger(snap)
	if err != nil {
		return nil, err
	}
	return stored.entry(snap.UpdatedAt), nil
}

// ownedInvoice loads an invoice and hides it from other tenants.
func ownedInvoice(ctx context.Context, r docstore.Reader, companyID, invoiceID string) (*Invoice, error) {
	inv, err := load[Invoice](ctx, r, CollInvoices, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.CompanyID != companyID {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrNotFound)
	}
	return inv, nil
}

func (in PaymentInput) validate() error {
	if !in.Amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if in.ConversionRate.IsNegative() {
		return invalid("conversionRate", "must not be negative")
	}
	if in.PaymentDate.IsZero() {
		return invalid("paymentDate", "is required")
	}
	return nil
}

func (l *paymentLedger) RecordPartialPayment(ctx context.Context, companyID, invoiceID string, in PaymentInput) (*LedgerEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		result *LedgerEntry
		rec    OutboxRecord
	)
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inv, err := ownedInvoice(ctx, tx, companyID, invoiceID)
		if err != nil {
			return err
		}
		now := l.clock().UTC()

		led, err := readLedger(ctx, tx, invoiceID)
		if errors.Is(err, ErrLedgerNotFound) {
			led = &LedgerEntry{InvoiceID: invoiceID, CompanyID: companyID, Shape: LedgerShapePartial}
		} else if err != nil {
			return err
		}
		if led.CompanyID != companyID {
			return fmt.Errorf("ledger %s: %w", invoiceID, ErrNotFound)
		}

		rate := in.ConversionRate
		if rate.IsZero() {
			rate = l.currency.RateToINR(ctx, inv.Currency)
		}
		amountINR := in.Amount.Mul(rate)
		pending := inv.TotalINR.Sub(led.TotalPaidINR).Sub(amountINR)
		if in.PendingINR != nil {
			pending = *in.PendingINR
		}

		led.PartialPayments = append(led.PartialPayments, PartialPayment{
			Amount:         in.Amount,
			ConversionRate: rate,
			AmountINR:      amountINR,
			PendingINR:     pending,
			PaymentDate:    in.PaymentDate.UTC(),
			Method:         strings.TrimSpace(in.Method),
			Reference:      strings.TrimSpace(in.Reference),
			RecordedAt:     now,
		})
		led.Shape = LedgerShapePartial
		led.recompute(inv.TotalINR)
		led.UpdatedAt = now

		if err := tx.Set(ctx, CollPayments, invoiceID, led); err != nil {
			return err
		}
		rec, err = enqueueOutbox(ctx, tx, companyID, OutboxMirrorPayments, invoiceID, nil, now)
		if err != nil {
			return err
		}
		result = led
		return nil
	})
	if err != nil {
		return nil, err
	}
	dispatch(ctx, l.outbox, l.log, rec)
	return result, nil
}

func (l *paymentLedger) DeletePartialPayment(ctx context.Context, companyID, invoiceID string, index int) (*LedgerEntry, error) {
	var (
		result *LedgerEntry
		rec    OutboxRecord
	)
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inv, err := ownedInvoice(ctx, tx, companyID, invoiceID)
		if err != nil {
			return err
		}
		led, err := readLedger(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if led.CompanyID != companyID {
			return fmt.Errorf("invoice %s: %w", invoiceID, ErrLedgerNotFound)
		}
		if index < 0 || index >= len(led.PartialPayments) {
			return fmt.Errorf("index %d of %d payments: %w", index, len(led.PartialPayments), ErrPaymentIndexOutOfRange)
		}

		now := l.clock().UTC()
		led.PartialPayments = append(led.PartialPayments[:index:index], led.PartialPayments[index+1:]...)
		led.Shape = LedgerShapePartial
		led.recompute(inv.TotalINR)
		led.UpdatedAt = now

		if err := tx.Set(ctx, CollPayments, invoiceID, led); err != nil {
			return err
		}
		rec, err = enqueueOutbox(ctx, tx, companyID, OutboxMirrorPayments, invoiceID, nil, now)
		if err != nil {
			return err
		}
		result = led
		return nil
	})
	if err != nil {
		return nil, err
	}
	dispatch(ctx, l.outbox, l.log, rec)
	return result, nil
}

func (l *paymentLedger) GetLedger(ctx context.Context, companyID, invoiceID string) (*LedgerEntry, error) {
	led, err := readLedger(ctx, l.store, invoiceID)
	if err != nil {
		return nil, err
	}
	if led.CompanyID != companyID {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrLedgerNotFound)
	}
	return led, nil
}

func (l *paymentLedger) MigrateLegacyLedgers(ctx context.Context, companyID string) ([]string, error) {
	snaps, err := l.store.Query(ctx, CollPayments, byCompany(companyID))
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	var migrated []string
	for _, snap := range snaps {
		stored, err := decodeLedger(snap)
		if err != nil {
			return migrated, err
		}
		if !stored.isLegacy() {
			continue
		}
		var rec OutboxRecord
		err = l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			// Re-read inside the transaction; a concurrent write may already have upgraded it.
			fresh, err := tx.Get(ctx, CollPayments, snap.ID)
			if err != nil {
				return err
			}
			cur, err := decodeLedger(fresh)
			if err != nil {
				return err
			}
			if !cur.isLegacy() {
				return nil
			}
			now := l.clock().UTC()
			entry := upgradeLegacy(*cur.legacy, now)
			if err := tx.Set(ctx, CollPayments, snap.ID, entry); err != nil {
				return err
			}
			rec, err = enqueueOutbox(ctx, tx, companyID, OutboxMirrorPayments, snap.ID, nil, now)
			return err
		})
		if err != nil {
			return migrated, fmt.Errorf("failed to migrate ledger %s: %w", snap.ID, err)
		}
		if rec.ID != "" {
			migrated = append(migrated, snap.ID)
			dispatch(ctx, l.outbox, l.log, rec)
		}
	}
	return migrated, nil
}

// paymentFields are the invoice fields derived from a ledger.
func paymentFields(inv *Invoice, led *LedgerEntry, now time.Time) docstore.Fields {
	st := DeriveInvoiceStatus(inv, led.TotalPaidUSD, now)
	return docstore.Fields{
		"paidUSD":            led.TotalPaidUSD,
		"paidINR":            led.TotalPaidINR,
		"pendingINR":         led.PendingINR,
		"amountPaidByClient": led.TotalPaidUSD,
		"status":             st.Status,
		"daysOverdue":        st.DaysOverdue,
		"isPartialOverdue":   st.IsPartialOverdue,
		"updatedAt":          now.UTC(),
	}
}
