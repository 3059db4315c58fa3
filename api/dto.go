/*
dto.go - Request and response bodies for the HTTP API

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validator tags for shape checks (required fields, enums, lengths); the
  ledger still owns the business rules (loan terms, duplicates, balances).

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response: response wrappers that add fields to a ledger type

  Ledger types (Line, Customer, Transaction, Timeline, Collections,
  Statement) are already JSON-shaped and are returned as they are.

AMOUNTS AND DATES:
  Amounts decode from JSON numbers or strings into decimal.Decimal.
  Dates are "YYYY-MM-DD"; an empty date means today.

SEE ALSO:
  - handlers.go: decodes and converts these types
  - ledger/lifecycle.go: the inputs they convert into
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/linebook/collection-ledger/accounts"
	"github.com/linebook/collection-ledger/backup"
	"github.com/linebook/collection-ledger/ledger"
)

// =============================================================================
// LINES AND DAYS
// =============================================================================

type CreateLineRequest struct {
	ID     string          `json:"id" validate:"omitempty,max=64,excludesall=/\\"`
	Name   string          `json:"name" validate:"required,max=100"`
	Type   string          `json:"type" validate:"omitempty,oneof=Daily Weekly"`
	Days   []string        `json:"days" validate:"omitempty,dive,required,max=64"`
	Amount decimal.Decimal `json:"amount"`
}

func (r CreateLineRequest) input() ledger.LineInput {
	return ledger.LineInput{
		ID:            r.ID,
		Name:          r.Name,
		Type:          ledger.LineType(r.Type),
		Days:          r.Days,
		InitialAmount: r.Amount,
	}
}

type UpdateLineRequest struct {
	Name   *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Type   *string          `json:"type" validate:"omitempty,oneof=Daily Weekly"`
	Days   []string         `json:"days" validate:"omitempty,dive,required,max=64"`
	Amount *decimal.Decimal `json:"amount"`
}

func (r UpdateLineRequest) update() ledger.LineUpdate {
	u := ledger.LineUpdate{Name: r.Name, Days: r.Days, InitialAmount: r.Amount}
	if r.Type != nil {
		t := ledger.LineType(*r.Type)
		u.Type = &t
	}
	return u
}

type AddDayRequest struct {
	Day string `json:"day" validate:"required,max=64"`
}

// BFResponse is a line's cached BF next to a fresh recompute.
type BFResponse struct {
	LineID    string           `json:"lineId"`
	BF        decimal.Decimal  `json:"bf"`
	Previous  decimal.Decimal  `json:"previousBF"`
	Drift     decimal.Decimal  `json:"drift"`
	Breakdown ledger.Breakdown `json:"breakdown"`
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CreateCustomerRequest struct {
	ID          string          `json:"id" validate:"required,max=32,excludesall=/\\"`
	Name        string          `json:"name" validate:"required,max=100"`
	Village     string          `json:"village" validate:"max=100"`
	Phone       string          `json:"phone" validate:"omitempty,max=20"`
	TakenAmount decimal.Decimal `json:"takenAmount"`
	Interest    decimal.Decimal `json:"interest"`
	PC          decimal.Decimal `json:"pc"`
	Date        ledger.Date     `json:"date"`
	Weeks       int             `json:"weeks" validate:"min=0,max=520"`
}

func (r CreateCustomerRequest) input() ledger.CustomerInput {
	return ledger.CustomerInput{
		ID:          r.ID,
		Name:        r.Name,
		Village:     r.Village,
		Phone:       r.Phone,
		TakenAmount: r.TakenAmount,
		Interest:    r.Interest,
		PC:          r.PC,
		Date:        r.Date,
		Weeks:       r.Weeks,
	}
}

type UpdateCustomerRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Village     *string          `json:"village" validate:"omitempty,max=100"`
	Phone       *string          `json:"phone" validate:"omitempty,max=20"`
	TakenAmount *decimal.Decimal `json:"takenAmount"`
	Interest    *decimal.Decimal `json:"interest"`
	PC          *decimal.Decimal `json:"pc"`
	Date        *ledger.Date     `json:"date"`
	Weeks       *int             `json:"weeks" validate:"omitempty,min=0,max=520"`
}

func (r UpdateCustomerRequest) update() ledger.CustomerUpdate {
	return ledger.CustomerUpdate{
		Name:        r.Name,
		Village:     r.Village,
		Phone:       r.Phone,
		TakenAmount: r.TakenAmount,
		Interest:    r.Interest,
		PC:          r.PC,
		Date:        r.Date,
		Weeks:       r.Weeks,
	}
}

type NextIDResponse struct {
	NextID string `json:"nextId"`
}

// =============================================================================
// TRANSACTIONS, RENEWALS, CHAT
// =============================================================================

type PaymentRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Date    ledger.Date     `json:"date"`
	Comment string          `json:"comment" validate:"max=500"`
	Source  string          `json:"source" validate:"omitempty,oneof=quick chat"`
}

func (r PaymentRequest) input() ledger.PaymentInput {
	return ledger.PaymentInput{Amount: r.Amount, Date: r.Date, Comment: r.Comment, Source: ledger.Source(r.Source)}
}

type UpdateTransactionRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	Comment *string          `json:"comment" validate:"omitempty,max=500"`
	Date    *ledger.Date     `json:"date"`
}

func (r UpdateTransactionRequest) update() ledger.TransactionUpdate {
	return ledger.TransactionUpdate{Amount: r.Amount, Comment: r.Comment, Date: r.Date}
}

type RenewalRequest struct {
	TakenAmount decimal.Decimal `json:"takenAmount"`
	Interest    decimal.Decimal `json:"interest"`
	PC          decimal.Decimal `json:"pc"`
	Date        ledger.Date     `json:"date"`
	Weeks       int             `json:"weeks" validate:"min=0,max=520"`
}

func (r RenewalRequest) input() ledger.RenewalInput {
	return ledger.RenewalInput{TakenAmount: r.TakenAmount, Interest: r.Interest, PC: r.PC, Date: r.Date, Weeks: r.Weeks}
}

// ChatRequest posts either a comment (message only) or a chat payment
// (amount set, message kept as its comment).
type ChatRequest struct {
	Message string           `json:"message" validate:"required_without=Amount,max=500"`
	Amount  *decimal.Decimal `json:"amount"`
	Date    ledger.Date      `json:"date"`
}

// =============================================================================
// DELETED CUSTOMERS
// =============================================================================

type RestoreRequest struct {
	NewID             string           `json:"newId" validate:"required,max=32,excludesall=/\\"`
	Day               string           `json:"day" validate:"omitempty,max=64"`
	DeletionTimestamp int64            `json:"deletionTimestamp" validate:"min=0"`
	TakenAmount       decimal.Decimal  `json:"takenAmount"`
	Interest          *decimal.Decimal `json:"interest"`
	PC                *decimal.Decimal `json:"pc"`
	Date              ledger.Date      `json:"date"`
	Weeks             int              `json:"weeks" validate:"min=0,max=520"`
}

func (r RestoreRequest) input(displayID string) ledger.RestoreInput {
	return ledger.RestoreInput{
		DisplayID:         displayID,
		Day:               r.Day,
		DeletionTimestamp: r.DeletionTimestamp,
		NewDisplayID:      r.NewID,
		TakenAmount:       r.TakenAmount,
		Interest:          r.Interest,
		PC:                r.PC,
		Date:              r.Date,
		Weeks:             r.Weeks,
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type EntryRequest struct {
	Date        ledger.Date     `json:"date"`
	Description string          `json:"name" validate:"max=200"`
	Credit      decimal.Decimal `json:"creditAmount"`
	Debit       decimal.Decimal `json:"debitAmount"`
}

func (r EntryRequest) input() accounts.EntryInput {
	return accounts.EntryInput{Date: r.Date, Description: r.Description, Credit: r.Credit, Debit: r.Debit}
}

type EntriesResponse struct {
	Entries []accounts.Entry `json:"entries"`
	Totals  accounts.Totals  `json:"totals"`
}

// EntryResponse returns an entry with the BF it left behind.
type EntryResponse struct {
	Entry accounts.Entry  `json:"entry"`
	BF    decimal.Decimal `json:"bf"`
}

// =============================================================================
// ADMIN AND SCENARIOS
// =============================================================================

type BackupResponse struct {
	backup.Result
}

type RestoreRemoteRequest struct {
	Key string `json:"key" validate:"omitempty,max=512"`
}

// RestoreResponse names the restored backup; Key is empty for uploads.
type RestoreResponse struct {
	Key      string          `json:"key,omitempty"`
	Manifest backup.Manifest `json:"manifest"`
}

type ReconcileResponse struct {
	Lines   int            `json:"lines"`
	Drifted []LineDriftDTO `json:"drifted"`
}

type LineDriftDTO struct {
	LineID   string          `json:"lineId"`
	Previous decimal.Decimal `json:"previousBF"`
	BF       decimal.Decimal `json:"bf"`
	Drift    decimal.Decimal `json:"drift"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
