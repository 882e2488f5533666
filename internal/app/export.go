package app

import (
	"fmt"

	"invoicehub/internal/core"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// sheetWriter appends rows to one worksheet.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
	bold  int
	err   error
}

func newSheetWriter(f *excelize.File, sheet string) (*sheetWriter, error) {
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	return &sheetWriter{f: f, sheet: sheet, row: 1, bold: bold}, nil
}

func cellValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return d.Round(2).InexactFloat64()
	}
	return v
}

func (w *sheetWriter) write(header bool, values ...any) {
	if w.err != nil {
		return
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			w.err = err
			return
		}
		if err := w.f.SetCellValue(w.sheet, cell, cellValue(v)); err != nil {
			w.err = err
			return
		}
		if header {
			if err := w.f.SetCellStyle(w.sheet, cell, cell, w.bold); err != nil {
				w.err = err
				return
			}
		}
	}
	w.row++
}

func (w *sheetWriter) header(values ...any) { w.write(true, values...) }
func (w *sheetWriter) line(values ...any)   { w.write(false, values...) }
func (w *sheetWriter) blank()               { w.row++ }

func render(f *excelize.File, w *sheetWriter, filename string) (*FileResult, error) {
	if w.err != nil {
		return nil, fmt.Errorf("write %s: %w", filename, w.err)
	}
	if err := f.SetColWidth(w.sheet, "A", "A", 32); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", filename, err)
	}
	return &FileResult{Filename: filename, ContentType: xlsxContentType, Data: buf.Bytes()}, nil
}

func invoiceWorkbook(inv *core.Invoice) (*FileResult, error) {
	f := excelize.NewFile()
	defer f.Close()
	w, err := newSheetWriter(f, "Invoice")
	if err != nil {
		return nil, err
	}

	w.header("Invoice", inv.InvoiceNumber)
	w.line("Status", string(inv.Status))
	w.line("From", inv.Company.Name)
	w.line("Bill to", inv.Client.Name)
	w.line("Issue date", inv.IssueDate.Format("2006-01-02"))
	if !inv.DueDate.IsZero() {
		w.line("Due date", inv.DueDate.Format("2006-01-02"))
	}
	w.blank()

	w.header("Description", "Quantity", "Unit price", "Amount")
	for _, li := range inv.LineItems {
		w.line(li.Description, li.Quantity, li.UnitPrice, li.Amount)
	}
	w.blank()
	w.line("Subtotal", "", "", inv.Subtotal)
	w.line(fmt.Sprintf("Tax (%s%%)", inv.TaxRate.String()), "", "", inv.TaxAmount)
	w.header("Total "+inv.Currency, "", "", inv.Total)
	w.line("Total "+core.ReferenceCurrency, "", "", inv.TotalINR)
	w.line("Pending "+core.ReferenceCurrency, "", "", inv.PendingINR)

	if len(inv.PartialPayments) > 0 {
		w.blank()
		w.header("Payment date", "Amount", "Rate", "Amount "+core.ReferenceCurrency, "Method", "Reference")
		for _, pp := range inv.PartialPayments {
			w.line(pp.PaymentDate.Format("2006-01-02"), pp.Amount, pp.ConversionRate, pp.AmountINR, pp.Method, pp.Reference)
		}
	}
	return render(f, w, "invoice-"+inv.InvoiceNumber+".xlsx")
}

func receivablesWorkbook(r *core.ReceivablesReport) (*FileResult, error) {
	f := excelize.NewFile()
	defer f.Close()
	w, err := newSheetWriter(f, "Receivables")
	if err != nil {
		return nil, err
	}

	w.header("Receivables as of", r.AsOf.Format("2006-01-02"))
	w.blank()
	w.header("Client", "Invoices", "Current", "1-30", "31-60", "61-90", "90+", "Pending "+core.ReferenceCurrency)
	for _, c := range r.Clients {
		w.line(c.ClientName, c.Invoices, c.Aging.Current, c.Aging.Days1to30, c.Aging.Days31to60, c.Aging.Days61to90, c.Aging.Over90, c.PendingINR)
	}
	t := r.Totals
	w.header("Total", "", t.Current, t.Days1to30, t.Days31to60, t.Days61to90, t.Over90, r.PendingINR)
	return render(f, w, "receivables-"+r.AsOf.Format("20060102")+".xlsx")
}
