package core

import (
	"context"
	"fmt"

	"invoicehub/internal/docstore"
)

// FormatInvoiceNumber renders prefix followed by n left-padded with zeros to padding digits.
func FormatInvoiceNumber(s InvoiceSettings, n int) string {
	return fmt.Sprintf("%s%0*d", s.Prefix, s.Padding, n)
}

// nextInvoiceNumberTx assigns the company's next invoice number and advances its counter
// inside the caller's transaction. Concurrent creations serialize on the company document,
// so numbers are gapless and unique per company.
func nextInvoiceNumberTx(ctx context.Context, tx docstore.Tx, companyID string) (string, *Company, error) {
	c, err := load[Company](ctx, tx, CollCompanies, companyID)
	if err != nil {
		return "", nil, err
	}
	settings := c.InvoiceSettings
	if settings.NextNumber < 1 {
		settings.NextNumber = 1
	}
	number := FormatInvoiceNumber(settings, settings.NextNumber)
	settings.NextNumber++
	if err := tx.Update(ctx, CollCompanies, companyID, docstore.Fields{"invoiceSettings": settings}); err != nil {
		return "", nil, fmt.Errorf("failed to advance invoice counter: %w", err)
	}
	return number, c, nil
}
