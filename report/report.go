/*
report.go - PDF rendering of statements and collections

PURPOSE:
  Turns the statement and collections views computed by the ledger into
  printable A4 documents for collectors and customers. Rendering only;
  every number comes from the ledger.

DOCUMENTS:
  CustomerStatementPDF   header, customer block, rows by date, totals bar
  CollectionsPDF         line header, incoming table, going table, totals

SEE ALSO:
  - ledger/statement.go
  - ledger/collections.go
*/
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf/v2"
	"github.com/shopspring/decimal"

	"github.com/linebook/collection-ledger/ledger"
)

const (
	generatedLayout = "02-Jan-2006 03:04 PM"
	dateLayout      = "02-Jan-2006"
)

func money(d decimal.Decimal) string {
	return "Rs. " + d.StringFixed(2)
}

func dateText(d ledger.Date) string {
	if d.IsZero() {
		return "-"
	}
	return d.Time().Format(dateLayout)
}

func newDocument(orientation, title string, generated time.Time) *gofpdf.Fpdf {
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetTitle(title, false)
	pdf.AddPage()

	w, _ := pdf.GetPageSize()
	width := w - 20
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(width, 10, title, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(width, 6, fmt.Sprintf("Generated: %s", generated.Format(generatedLayout)), "", 1, "C", false, 0, "")
	pdf.Ln(5)
	return pdf
}

func section(pdf *gofpdf.Fpdf, width float64, title string) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(width, 8, title, "1", 1, "L", true, 0, "")
}

type column struct {
	title string
	width float64
	align string
}

func tableHeader(pdf *gofpdf.Fpdf, cols []column) {
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(200, 200, 200)
	for i, c := range cols {
		ln := 0
		if i == len(cols)-1 {
			ln = 1
		}
		pdf.CellFormat(c.width, 7, c.title, "1", ln, "C", true, 0, "")
	}
	pdf.SetFont("Arial", "", 10)
}

func tableRow(pdf *gofpdf.Fpdf, cols []column, values []string, shaded bool) {
	if shaded {
		pdf.SetFillColor(245, 245, 245)
	} else {
		pdf.SetFillColor(255, 255, 255)
	}
	for i, c := range cols {
		ln := 0
		if i == len(cols)-1 {
			ln = 1
		}
		pdf.CellFormat(c.width, 6, values[i], "1", ln, c.align, true, 0, "")
	}
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// CUSTOMER STATEMENT
// =============================================================================

func CustomerStatementPDF(st ledger.Statement, generated time.Time) ([]byte, error) {
	pdf := newDocument("P", "Customer Statement", generated)
	const width = 190

	section(pdf, width, "Customer Information")
	pdf.SetFont("Arial", "", 11)
	status := "Active"
	if st.Deleted {
		status = "Deleted"
	}
	pdf.CellFormat(95, 7, fmt.Sprintf("Customer: %s (%s)", st.CustomerName, st.CustomerID), "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Line: %s / %s", st.LineID, st.Day), "RB", 1, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Village: %s", st.Village), "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Status: %s", status), "RB", 1, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Current loan: %s", money(st.Current.TakenAmount)), "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, fmt.Sprintf("Loan date: %s, %d weeks", dateText(st.Current.Date), st.Current.Weeks), "RB", 1, "L", false, 0, "")
	pdf.Ln(5)

	section(pdf, width, "Statement")
	cols := []column{
		{"Date", 50, "C"},
		{"Taken", 70, "R"},
		{"Received", 70, "R"},
	}
	tableHeader(pdf, cols)
	for i, r := range st.Rows {
		tableRow(pdf, cols, []string{dateText(r.Date), money(r.Taken), money(r.Received)}, i%2 == 1)
	}
	pdf.SetFont("Arial", "B", 10)
	tableRow(pdf, cols, []string{"Total", money(st.Totals.Taken), money(st.Totals.Received)}, true)
	pdf.Ln(5)

	if st.Totals.Remaining.IsPositive() {
		pdf.SetFillColor(255, 200, 200)
	} else {
		pdf.SetFillColor(200, 255, 200)
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(width, 10, fmt.Sprintf("Remaining: %s", money(st.Totals.Remaining)), "1", 1, "C", true, 0, "")

	return output(pdf)
}

// =============================================================================
// COLLECTIONS
// =============================================================================

// CollectionsPDF renders a line's collections view. period describes the
// filter that produced c and is printed under the title.
func CollectionsPDF(line ledger.Line, c ledger.Collections, period string, generated time.Time) ([]byte, error) {
	pdf := newDocument("L", fmt.Sprintf("Collections - %s", line.Name), generated)
	const width = 277

	pdf.SetFont("Arial", "", 11)
	if period != "" {
		pdf.CellFormat(width, 7, fmt.Sprintf("Period: %s", period), "", 1, "C", false, 0, "")
	}
	if len(c.Days) > 0 {
		pdf.CellFormat(width, 7, fmt.Sprintf("Days: %d", len(c.Days)), "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)

	section(pdf, width, "Summary")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(92, 8, fmt.Sprintf("Incoming: %s", money(c.Totals.Incoming)), "1", 0, "C", false, 0, "")
	pdf.CellFormat(92, 8, fmt.Sprintf("Going: %s", money(c.Totals.Going)), "1", 0, "C", false, 0, "")
	pdf.CellFormat(93, 8, fmt.Sprintf("Net flow: %s", money(c.Totals.NetFlow)), "1", 1, "C", false, 0, "")
	pdf.Ln(5)

	cols := []column{
		{"#", 12, "C"},
		{"Date", 30, "C"},
		{"Day", 30, "C"},
		{"Customer", 25, "C"},
		{"Name", 60, "L"},
		{"Type", 35, "C"},
		{"Amount", 40, "R"},
		{"Note", 45, "L"},
	}
	entries := func(title string, list []ledger.CollectionEntry) {
		section(pdf, width, fmt.Sprintf("%s (%d)", title, len(list)))
		tableHeader(pdf, cols)
		for i, e := range list {
			name := e.CustomerName
			if e.Deleted {
				name += " (deleted)"
			}
			tableRow(pdf, cols, []string{
				fmt.Sprintf("%d", i+1),
				dateText(e.Date),
				e.Day,
				e.CustomerID,
				name,
				string(e.Type),
				money(e.Amount),
				e.Comment,
			}, i%2 == 1)
		}
		pdf.Ln(5)
	}
	entries("Incoming", c.Incoming)
	entries("Going", c.Going)

	return output(pdf)
}
