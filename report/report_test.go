package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/ledger"
	"github.com/linebook/collection-ledger/report"
)

var generated = time.Date(2025, time.March, 1, 10, 30, 0, 0, time.UTC)

func TestCustomerStatementPDF(t *testing.T) {
	st := ledger.Statement{
		LineID:       "L1",
		Day:          "Monday",
		CustomerID:   "2",
		CustomerName: "Asha",
		Village:      "Kota",
		Current:      ledger.LoanTerms{TakenAmount: decimal.NewFromInt(5000), Date: ledger.NewDate(2025, time.January, 20), Weeks: 10},
		Rows: []ledger.StatementRow{
			{Date: ledger.NewDate(2025, time.January, 6), Taken: decimal.NewFromInt(12000), Received: decimal.Zero},
			{Date: ledger.NewDate(2025, time.January, 13), Taken: decimal.Zero, Received: decimal.NewFromInt(17000)},
		},
		Totals: ledger.StatementTotals{
			Taken:     decimal.NewFromInt(12000),
			Received:  decimal.NewFromInt(17000),
			Remaining: decimal.Zero,
		},
	}

	pdf, err := report.CustomerStatementPDF(st, generated)

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestCustomerStatementPDF_NoRows(t *testing.T) {
	pdf, err := report.CustomerStatementPDF(ledger.Statement{CustomerID: "9", Deleted: true}, generated)
	require.NoError(t, err)
	assert.NotEmpty(t, pdf)
}

func TestCollectionsPDF(t *testing.T) {
	line := ledger.Line{ID: "L1", Name: "North"}
	c := ledger.Collections{
		Incoming: []ledger.CollectionEntry{
			{ID: "p1", Kind: ledger.FlowReceived, Type: ledger.TxPayment, Day: "Monday", Date: ledger.NewDate(2025, time.January, 13), Amount: decimal.NewFromInt(500), CustomerID: "1", CustomerName: "Ravi"},
		},
		Going: []ledger.CollectionEntry{
			{ID: "origin_x", Kind: ledger.FlowGiven, Type: ledger.TxCreation, Day: "Monday", Date: ledger.NewDate(2025, time.January, 6), Amount: decimal.NewFromInt(3000), CustomerID: "1", CustomerName: "Ravi", Deleted: true},
		},
		Totals: ledger.CollectionTotals{
			Incoming: decimal.NewFromInt(500),
			Going:    decimal.NewFromInt(3000),
			NetFlow:  decimal.NewFromInt(-2500),
		},
		Days: []string{"Monday"},
	}

	pdf, err := report.CollectionsPDF(line, c, "2025-01-01 to 2025-01-31", generated)

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}
