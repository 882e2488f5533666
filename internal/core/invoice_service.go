package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoicehub/internal/docstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// InvoiceService manages the invoice aggregate. Stock adjustments triggered by creation and
// deletion are recorded as outbox records in the same transaction as the invoice write.
type InvoiceService interface {
	Create(ctx context.Context, companyID string, in CreateInvoiceInput) (*Invoice, error)
	Update(ctx context.Context, companyID, invoiceID string, in UpdateInvoiceInput) (*Invoice, error)
	// Delete removes the invoice and its payment ledger and restores stock.
	Delete(ctx context.Context, companyID, invoiceID string) error
	Get(ctx context.Context, companyID, invoiceID string) (*Invoice, error)
	List(ctx context.Context, companyID string, f InvoiceFilter) ([]Invoice, error)
	// RecomputeStatus re-derives the payment status from the ledger totals.
	RecomputeStatus(ctx context.Context, companyID, invoiceID string) (*Invoice, error)
}

type invoiceService struct {
	store     docstore.Store
	companies CompanyService
	stock     StockService
	currency  CurrencyService
	outbox    OutboxDispatcher
	clock     Clock
	log       *zap.Logger
}

func NewInvoiceService(store docstore.Store, companies CompanyService, stock StockService, currency CurrencyService, outbox OutboxDispatcher, clock Clock, log *zap.Logger) InvoiceService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &invoiceService{
		store:     store,
		companies: companies,
		stock:     stock,
		currency:  currency,
		outbox:    outbox,
		clock:     clock,
		log:       log,
	}
}

func (in CreateInvoiceInput) validate() error {
	if strings.TrimSpace(in.ClientID) == "" {
		return invalid("clientId", "is required")
	}
	if len(in.LineItems) == 0 {
		return invalid("lineItems", "at least one line item is required")
	}
	for i, li := range in.LineItems {
		field := fmt.Sprintf("lineItems[%d]", i)
		if !li.Quantity.IsPositive() {
			return invalid(field+".quantity", "must be greater than zero")
		}
		if li.UnitPrice.IsNegative() {
			return invalid(field+".unitPrice", "must not be negative")
		}
		if li.FromStock && (li.ProductCategory == "" || li.ItemName == "") {
			return invalid(field, "stock lines need productCategory and itemName")
		}
	}
	if in.IssueDate.IsZero() {
		return invalid("issueDate", "is required")
	}
	if !in.DueDate.IsZero() && in.DueDate.Before(in.IssueDate) {
		return invalid("dueDate", "must not be before issueDate")
	}
	if in.ExchangeRate.IsNegative() {
		return invalid("exchangeRate", "must not be negative")
	}
	return nil
}

func buildLineItems(in []LineItemInput) []LineItem {
	out := make([]LineItem, 0, len(in))
	for _, li := range in {
		item := LineItem{
			Description: strings.TrimSpace(li.Description),
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Amount:      round2(li.Quantity.Mul(li.UnitPrice)),
			FromStock:   li.FromStock,
		}
		if li.FromStock {
			item.ProductCategory = strings.TrimSpace(li.ProductCategory)
			item.ItemName = strings.TrimSpace(li.ItemName)
			item.ProductVersion = strings.TrimSpace(li.ProductVersion)
		}
		out = append(out, item)
	}
	return out
}

// TaxRateFor returns the company's default rate for domestic clients and zero for exports.
func TaxRateFor(company *Company, client *Client) decimal.Decimal {
	if strings.EqualFold(strings.TrimSpace(company.Country), strings.TrimSpace(client.Country)) {
		return company.DefaultTaxRate
	}
	return decimal.Zero
}

func (s *invoiceService) Create(ctx context.Context, companyID string, in CreateInvoiceInput) (*Invoice, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	client, err := s.companies.GetClient(ctx, companyID, in.ClientID)
	if err != nil {
		return nil, err
	}
	lines := buildLineItems(in.LineItems)

	avail, err := s.stock.ValidateAvailability(ctx, companyID, lines)
	if err != nil {
		return nil, err
	}
	if !avail.Valid {
		if !in.AllowInsufficientStock {
			return nil, &StockShortageError{Items: avail.Insufficient}
		}
		s.log.Warn("creating invoice with insufficient stock",
			zap.String("company_id", companyID),
			zap.Int("short_items", len(avail.Insufficient)))
	}

	var (
		inv Invoice
		rec OutboxRecord
	)
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		number, company, err := nextInvoiceNumberTx(ctx, tx, companyID)
		if err != nil {
			return err
		}
		now := s.clock().UTC()

		currency := company.Currency
		rate := in.ExchangeRate
		if rate.IsZero() {
			rate = s.currency.RateToINR(ctx, currency)
		}

		subtotal := decimal.Zero
		for _, li := range lines {
			subtotal = subtotal.Add(li.Amount)
		}
		taxRate := TaxRateFor(company, client)
		taxAmount := round2(subtotal.Mul(taxRate).Div(hundred))
		total := subtotal.Add(taxAmount)
		totalINR := round2(total.Mul(rate))

		inv = Invoice{
			ID:            uuid.NewString(),
			CompanyID:     companyID,
			InvoiceNumber: number,
			ClientID:      client.ID,
			Client: ClientSnapshot{
				Name:     client.Name,
				Email:    client.Email,
				Address:  client.Address,
				Country:  client.Country,
				Currency: client.Currency,
			},
			Company: CompanySnapshot{
				Name:           company.Name,
				Address:        company.Address,
				Country:        company.Country,
				Currency:       company.Currency,
				TaxIdentifiers: company.TaxIdentifiers,
				Banking:        company.Banking,
			},
			LineItems:       lines,
			Currency:        currency,
			Subtotal:        subtotal,
			TaxRate:         taxRate,
			TaxAmount:       taxAmount,
			Total:           total,
			ExchangeRate:    rate,
			TotalINR:        totalINR,
			IssueDate:       in.IssueDate.UTC(),
			DueDate:         in.DueDate.UTC(),
			Status:          InvoiceDraft,
			PendingINR:      totalINR,
			PartialPayments: []PartialPayment{},
			Notes:           in.Notes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if in.Send {
			applyStatus(&inv, DeriveInvoiceStatus(&inv, decimal.Zero, now))
		}

		if err := tx.Set(ctx, CollInvoices, inv.ID, inv); err != nil {
			return err
		}
		if stockLines := inv.StockLines(); len(stockLines) > 0 {
			rec, err = enqueueOutbox(ctx, tx, companyID, OutboxStockApplyOnCreate, inv.ID, StockPayload{LineItems: stockLines}, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	// The counter moved inside the transaction.
	s.companies.InvalidateCompany(companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	dispatch(ctx, s.outbox, s.log, rec)
	return &inv, nil
}

func applyStatus(inv *Invoice, st StatusResult) {
	inv.Status = st.Status
	inv.DaysOverdue = st.DaysOverdue
	inv.IsPartialOverdue = st.IsPartialOverdue
}

func (s *invoiceService) Update(ctx context.Context, companyID, invoiceID string, in UpdateInvoiceInput) (*Invoice, error) {
	var out Invoice
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inv, err := ownedInvoice(ctx, tx, companyID, invoiceID)
		if err != nil {
			return err
		}
		if in.Notes != nil {
			inv.Notes = *in.Notes
		}
		if in.DueDate != nil {
			if !in.DueDate.IsZero() && in.DueDate.Before(inv.IssueDate) {
				return invalid("dueDate", "must not be before issueDate")
			}
			inv.DueDate = in.DueDate.UTC()
		}
		if in.Status != nil && *in.Status != inv.Status {
			if inv.Status != InvoiceDraft || *in.Status != InvoiceSent {
				return invalid("status", fmt.Sprintf("cannot move from %s to %s", inv.Status, *in.Status))
			}
			inv.Status = InvoiceSent
		}
		now := s.clock().UTC()
		if inv.Status != InvoiceDraft {
			applyStatus(inv, DeriveInvoiceStatus(inv, inv.PaidUSD, now))
		}
		inv.UpdatedAt = now
		out = *inv
		return tx.Set(ctx, CollInvoices, inv.ID, inv)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *invoiceService) Delete(ctx context.Context, companyID, invoiceID string) error {
	var rec OutboxRecord
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inv, err := ownedInvoice(ctx, tx, companyID, invoiceID)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, CollInvoices, inv.ID); err != nil {
			return err
		}
		if err := tx.Delete(ctx, CollPayments, inv.ID); err != nil {
			return err
		}
		if stockLines := inv.StockLines(); len(stockLines) > 0 {
			rec, err = enqueueOutbox(ctx, tx, companyID, OutboxStockApplyOnDelete, inv.ID, StockPayload{LineItems: stockLines}, s.clock().UTC())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete invoice %s: %w", invoiceID, err)
	}
	dispatch(ctx, s.outbox, s.log, rec)
	return nil
}

func (s *invoiceService) Get(ctx context.Context, companyID, invoiceID string) (*Invoice, error) {
	return ownedInvoice(ctx, s.store, companyID, invoiceID)
}

func (s *invoiceService) List(ctx context.Context, companyID string, f InvoiceFilter) ([]Invoice, error) {
	filters := []docstore.Filter{byCompany(companyID)}
	if f.Status != "" {
		filters = append(filters, docstore.Where("status", f.Status))
	}
	if f.ClientID != "" {
		filters = append(filters, docstore.Where("clientId", f.ClientID))
	}
	return list[Invoice](ctx, s.store, CollInvoices, filters...)
}

func (s *invoiceService) RecomputeStatus(ctx context.Context, companyID, invoiceID string) (*Invoice, error) {
	var out Invoice
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inv, err := ownedInvoice(ctx, tx, companyID, invoiceID)
		if err != nil {
			return err
		}
		paid := inv.PaidUSD
		led, err := readLedger(ctx, tx, invoiceID)
		switch {
		case err == nil:
			paid = led.TotalPaidUSD
		case !errors.Is(err, ErrLedgerNotFound):
			return err
		}
		// Unpaid drafts stay drafts.
		if inv.Status == InvoiceDraft && !paid.IsPositive() {
			out = *inv
			return nil
		}
		now := s.clock().UTC()
		var fields docstore.Fields
		if led != nil {
			fields = paymentFields(inv, led, now)
		} else {
			st := DeriveInvoiceStatus(inv, paid, now)
			fields = docstore.Fields{
				"status":           st.Status,
				"daysOverdue":      st.DaysOverdue,
				"isPartialOverdue": st.IsPartialOverdue,
				"updatedAt":        now,
			}
		}
		if err := tx.Update(ctx, CollInvoices, inv.ID, fields); err != nil {
			return err
		}
		fresh, err := load[Invoice](ctx, tx, CollInvoices, inv.ID)
		if err != nil {
			return err
		}
		out = *fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
