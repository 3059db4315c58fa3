/*
handlers.go - HTTP API handlers for the collection ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger and accounts packages.
  Handlers never compute balances themselves.

ENDPOINTS:
  Lines:
    GET    /api/lines                              List lines with BF
    POST   /api/lines                              Create line
    GET    /api/lines/{lineId}                     Get line (BF recomputed)
    PUT    /api/lines/{lineId}                     Update line
    DELETE /api/lines/{lineId}                     Delete line and its records
    GET    /api/lines/{lineId}/bf                  BF breakdown and drift
    GET    /api/lines/{lineId}/days                List days
    POST   /api/lines/{lineId}/days                Add day
    GET    /api/lines/{lineId}/collections         Incoming/going flows
    GET    /api/lines/{lineId}/pending             Overdue customers

  Customers (under /api/lines/{lineId}/days/{day}/customers):
    GET    /                                       List
    POST   /                                       Create
    GET    /next-id                                Suggested displayId
    GET    /{customerId}                           Get
    PUT    /{customerId}                           Update (loan edits move BF)
    DELETE /{customerId}                           Soft delete
    GET    /{customerId}/transactions              Payments and renewals
    POST   /{customerId}/transactions              Record payment
    PUT    /{customerId}/transactions/{txId}       Edit payment
    DELETE /{customerId}/transactions/{txId}       Delete payment
    GET    /{customerId}/renewals                  List renewals
    POST   /{customerId}/renewals                  Renew settled loan
    GET    /{customerId}/chat                      Comments
    POST   /{customerId}/chat                      Comment or chat payment
    GET    /{customerId}/timeline                  Full history
    GET    /{customerId}/statement[/pdf]           Per-date statement

  Deleted customers (under /api/lines/{lineId}/deleted-customers):
    GET    /                                       List (?includeRestored)
    GET    /{customerId}                           Get (?day&ts)
    GET    /{customerId}/timeline                  History across the chain
    GET    /{customerId}/statement                 Statement
    POST   /{customerId}/restore                   Restore with a new loan

  Accounts (under /api/lines/{lineId}/accounts): CRUD on accounts and
  their credit/debit entries; every entry write moves BF.

  Admin:
    POST   /api/admin/backup                       Run a backup now
    GET    /api/admin/backup/download              Download a zip archive
    POST   /api/admin/backup/restore               Replace every record with an uploaded zip
    POST   /api/admin/backup/restore-remote        Replace every record with a stored backup
    POST   /api/admin/reconcile                    Recompute every line's BF
    GET    /api/lines/{lineId}/reconciliations     Drift history

REQUEST FLOW:
  1. Parse path params and decode the body
  2. Validate shape (validator tags in dto.go)
  3. Call the engine, which enforces the business rules
  4. Serialize response, with the line's BF after mutations

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: ledger.ErrInvalid (validation, bad loan terms)
  - 404: ledger.ErrNotFound
  - 409: ledger.ErrConflict (duplicate id, already restored, unsettled loan)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linebook/collection-ledger/accounts"
	"github.com/linebook/collection-ledger/backup"
	"github.com/linebook/collection-ledger/ledger"
	"github.com/linebook/collection-ledger/report"
	"github.com/linebook/collection-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// BackupRunner runs a backup on demand.
type BackupRunner interface {
	RunOnce(ctx context.Context) (backup.Result, error)
}

// BackupSource lists and fetches stored backups.
type BackupSource interface {
	Latest(ctx context.Context) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// ReconciliationLog keeps drift found by reconciliation sweeps.
type ReconciliationLog interface {
	SaveReconciliation(ctx context.Context, e sqlite.ReconciliationEntry) error
	GetReconciliations(ctx context.Context, lineID string, limit int) ([]sqlite.ReconciliationEntry, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Accounts *accounts.Ledger
	Metrics  *Metrics
	Logger   *zap.Logger

	// Optional collaborators; nil disables the matching endpoints.
	Backups         BackupRunner
	Archives        BackupSource
	Reconciliations ReconciliationLog

	validate *validator.Validate
	now      func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over engine. The accounts ledger is created
// here so it is registered with the engine before the first request.
func NewHandler(engine *ledger.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Accounts: accounts.New(engine, logger.Named("accounts")),
		Metrics:  NewMetrics(),
		Logger:   logger,
		validate: newValidator(),
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names, not Go ones.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) store() ledger.RecordStore { return h.Engine.Store() }

// =============================================================================
// LINE HANDLERS
// =============================================================================

// ListLines returns all lines.
// GET /api/lines
func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Engine.ListLines(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list lines", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// CreateLine creates a line with its opening BF.
// POST /api/lines
func (h *Handler) CreateLine(w http.ResponseWriter, r *http.Request) {
	var req CreateLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.Engine.CreateLine(r.Context(), req.input())
	h.Metrics.observeOperation("create_line", err)
	if err != nil {
		h.fail(w, r, "Failed to create line", err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

// GetLine returns a line with a freshly recomputed BF.
// GET /api/lines/{lineId}
func (h *Handler) GetLine(w http.ResponseWriter, r *http.Request) {
	line, err := h.Engine.GetLine(r.Context(), chi.URLParam(r, "lineId"))
	if err != nil {
		h.fail(w, r, "Failed to get line", err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

// UpdateLine changes name, type, days or the opening amount.
// PUT /api/lines/{lineId}
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req UpdateLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.Engine.UpdateLine(r.Context(), chi.URLParam(r, "lineId"), req.update())
	h.Metrics.observeOperation("update_line", err)
	if err != nil {
		h.fail(w, r, "Failed to update line", err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

// DeleteLine removes a line and everything recorded under it.
// DELETE /api/lines/{lineId}
func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.DeleteLine(r.Context(), chi.URLParam(r, "lineId"))
	h.Metrics.observeOperation("delete_line", err)
	if err != nil {
		h.fail(w, r, "Failed to delete line", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// GetBF recomputes BF and reports the breakdown and any drift it repaired.
// GET /api/lines/{lineId}/bf
func (h *Handler) GetBF(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineId")
	res, err := h.Engine.RefreshBalance(r.Context(), lineID)
	if err != nil {
		h.fail(w, r, "Failed to compute BF", err)
		return
	}
	if res.Drifted() {
		h.Metrics.observeDrift(lineID, res.Drift.InexactFloat64())
	}
	writeJSON(w, http.StatusOK, BFResponse{
		LineID:    lineID,
		BF:        res.Breakdown.BF,
		Previous:  res.Previous,
		Drift:     res.Drift,
		Breakdown: res.Breakdown,
	})
}

// ListDays returns the line's days.
// GET /api/lines/{lineId}/days
func (h *Handler) ListDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.Engine.ListDays(r.Context(), chi.URLParam(r, "lineId"))
	if err != nil {
		h.fail(w, r, "Failed to list days", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

// AddDay adds a day (sub-ledger) to the line.
// POST /api/lines/{lineId}/days
func (h *Handler) AddDay(w http.ResponseWriter, r *http.Request) {
	var req AddDayRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.Engine.AddDay(r.Context(), chi.URLParam(r, "lineId"), req.Day)
	h.Metrics.observeOperation("add_day", err)
	if err != nil {
		h.fail(w, r, "Failed to add day", err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

// =============================================================================
// COLLECTIONS AND PENDING
// =============================================================================

// GetCollections lists money received and given on a line.
// GET /api/lines/{lineId}/collections?days=Mon,Tue&date=|from=&to=
func (h *Handler) GetCollections(w http.ResponseWriter, r *http.Request) {
	f, err := collectionFilter(r)
	if err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	c, err := h.Engine.Collections(r.Context(), chi.URLParam(r, "lineId"), f)
	if err != nil {
		h.fail(w, r, "Failed to get collections", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetCollectionsPDF renders the collections view as a PDF.
// GET /api/lines/{lineId}/collections/pdf
func (h *Handler) GetCollectionsPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lineID := chi.URLParam(r, "lineId")
	f, err := collectionFilter(r)
	if err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	line, err := h.Engine.GetLine(ctx, lineID)
	if err != nil {
		h.fail(w, r, "Failed to get line", err)
		return
	}
	c, err := h.Engine.Collections(ctx, lineID, f)
	if err != nil {
		h.fail(w, r, "Failed to get collections", err)
		return
	}
	pdf, err := report.CollectionsPDF(line, c, periodLabel(f), h.now())
	if err != nil {
		h.fail(w, r, "Failed to render report", err)
		return
	}
	writePDF(w, fmt.Sprintf("collections_%s.pdf", lineID), pdf)
}

func collectionFilter(r *http.Request) (ledger.CollectionFilter, error) {
	q := r.URL.Query()
	var f ledger.CollectionFilter
	if days := q.Get("days"); days != "" {
		for _, d := range strings.Split(days, ",") {
			if d = strings.TrimSpace(d); d != "" {
				f.Days = append(f.Days, d)
			}
		}
	}
	for _, p := range []struct {
		key string
		dst *ledger.Date
	}{{"date", &f.Date}, {"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		d, err := ledger.ParseDate(v)
		if err != nil {
			return ledger.CollectionFilter{}, fmt.Errorf("%s: %w", p.key, ledger.ErrInvalid)
		}
		*p.dst = d
	}
	return f, nil
}

func periodLabel(f ledger.CollectionFilter) string {
	switch {
	case !f.Date.IsZero():
		return f.Date.String()
	case !f.From.IsZero() || !f.To.IsZero():
		return fmt.Sprintf("%s to %s", orDash(f.From), orDash(f.To))
	default:
		return "All dates"
	}
}

func orDash(d ledger.Date) string {
	if d.IsZero() {
		return "-"
	}
	return d.String()
}

// ListPending returns overdue, unsettled customers, most overdue first.
// GET /api/lines/{lineId}/pending?today=YYYY-MM-DD
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	today := h.now()
	if v := r.URL.Query().Get("today"); v != "" {
		d, err := ledger.ParseDate(v)
		if err != nil {
			h.fail(w, r, "Invalid date", fmt.Errorf("today: %w", ledger.ErrInvalid))
			return
		}
		today = d.Time()
	}
	pending, err := h.Engine.PendingCustomers(r.Context(), chi.URLParam(r, "lineId"), today)
	if err != nil {
		h.fail(w, r, "Failed to list pending customers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": pending})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

type customerPath struct {
	lineID, day, id string
}

func pathOf(r *http.Request) customerPath {
	return customerPath{
		lineID: chi.URLParam(r, "lineId"),
		day:    chi.URLParam(r, "day"),
		id:     chi.URLParam(r, "customerId"),
	}
}

// ListCustomers returns the active customers of a day.
// GET /api/lines/{lineId}/days/{day}/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	customers, err := h.Engine.ListCustomers(r.Context(), p.lineID, p.day)
	if err != nil {
		h.fail(w, r, "Failed to list customers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

// CreateCustomer opens a customer with its first loan.
// POST /api/lines/{lineId}/days/{day}/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := pathOf(r)
	c, err := h.Engine.CreateCustomer(r.Context(), p.lineID, p.day, req.input())
	h.Metrics.observeOperation("create_customer", err)
	if err != nil {
		h.fail(w, r, "Failed to create customer", err)
		return
	}
	h.writeWithBF(w, r, http.StatusCreated, p.lineID, "customer", c)
}

// NextCustomerID suggests the next free numeric displayId.
// GET /api/lines/{lineId}/days/{day}/customers/next-id
func (h *Handler) NextCustomerID(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	id, err := h.Engine.NextCustomerID(r.Context(), p.lineID, p.day)
	if err != nil {
		h.fail(w, r, "Failed to suggest customer id", err)
		return
	}
	writeJSON(w, http.StatusOK, NextIDResponse{NextID: id})
}

// GetCustomer returns a customer with its loan status.
// GET /api/lines/{lineId}/days/{day}/customers/{customerId}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	c, err := h.Engine.GetCustomer(r.Context(), p.lineID, p.day, p.id)
	if err != nil {
		h.fail(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCustomer edits profile fields and, optionally, the current loan.
// PUT /api/lines/{lineId}/days/{day}/customers/{customerId}
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req UpdateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := pathOf(r)
	c, err := h.Engine.UpdateCustomer(r.Context(), p.lineID, p.day, p.id, req.update())
	h.Metrics.observeOperation("update_customer", err)
	if err != nil {
		h.fail(w, r, "Failed to update customer", err)
		return
	}
	h.writeWithBF(w, r, http.StatusOK, p.lineID, "customer", c)
}

// DeleteCustomer soft-deletes a customer into the archive.
// DELETE /api/lines/{lineId}/days/{day}/customers/{customerId}
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	rec, err := h.Engine.SoftDelete(r.Context(), p.lineID, p.day, p.id)
	h.Metrics.observeOperation("delete_customer", err)
	if err != nil {
		h.fail(w, r, "Failed to delete customer", err)
		return
	}
	h.writeWithBF(w, r, http.StatusOK, p.lineID, "deleted", rec)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns payments and renewals of the customer.
// GET .../customers/{customerId}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	txs, err := h.Engine.ListTransactions(r.Context(), p.lineID, p.day, p.id)
	if err != nil {
		h.fail(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// RecordPayment records a quick payment.
// POST .../customers/{customerId}/transactions
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := pathOf(r)
	tx, err := h.Engine.RecordPayment(r.Context(), p.lineID, p.day, p.id, req.input())
	h.Metrics.observeOperation("record_payment", err)
	if err != nil {
		h.fail(w, r, "Failed to record payment", err)
		return
	}
	h.writeWithBF(w, r, http.StatusCreated, p.lineID, "transaction", tx)
}

// UpdateTransaction edits a payment's amount, comment or date.
// PUT .../customers/{customerId}/transactions/{txId}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := pathOf(r)
	tx, err := h.Engine.UpdateTransaction(r.Context(), p.lineID, p.day, p.id, chi.URLParam(r, "txId"), req.update())
	h.Metrics.observeOperation("update_payment", err)
	if err != nil {
		h.fail(w, r, "Failed to update transaction", err)
		return
	}
	h.writeWithBF(w, r, http.StatusOK, p.lineID, "transaction", tx)
}

// DeleteTransaction removes a payment.
// DELETE .../customers/{customerId}/transactions/{txId}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	err := h.Engine.DeleteTransaction(r.Context(), p.lineID, p.day, p.id, chi.URLParam(r, "txId"))
	h.Metrics.observeOperation("delete_payment", err)
	if err != nil {
		h.fail(w, r, "Failed to delete transaction", err)
		return
	}
	h.writeWithBF(w, r, http.StatusOK, p.lineID, "status", "deleted")
}

// ListRenewals returns the customer's renewals, oldest first.
// GET .../customers/{customerId}/renewals
func (h *Handler) ListRenewals(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	renewals, err := h.Engine.ListRenewals(r.Context(), p.lineID, p.day, p.id)
	if err != nil {
		h.fail(w, r, "Failed to list renewals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"renewals": renewals})
}

// CreateRenewal issues a new loan once the current one is settled.
// POST .../customers/{customerId}/renewals
func (h *Handler) CreateRenewal(w http.ResponseWriter, r *http.Request) {
	var req RenewalRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := pathOf(r)
	tx, err := h.Engine.CreateRenewal(r.Context(), p.lineID, p.day, p.id, req.input())
	h.Metrics.observeOperation("create_renewal", err)
	if err != nil {
		h.fail(w, r, "Failed to renew loan", err)
		return
	}
	h.writeWithBF(w, r, http.StatusCreated, p.lineID, "renewal", tx)
}

// =============================================================================
// CHAT, TIMELINE, STATEMENT
// =============================================================================

// ListChat returns the customer's comments.
// GET .../customers/{customerId}/chat
func (h *Handler) ListChat(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	msgs, err := h.Engine.ListChat(r.Context(), p.lineID, p.day, p.id)
	if err != nil {
		h.fail(w, r, "Failed to list chat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": msgs})
}

// PostChat files a comment, or a payment from the chat view when an amount
// is given.
// POST .../customers/{customerId}/chat
func (h *Handler) PostChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := pathOf(r)
	if req.Amount != nil {
		tx, err := h.Engine.RecordPayment(r.Context(), p.lineID, p.day, p.id, ledger.PaymentInput{
			Amount:  *req.Amount,
			Date:    req.Date,
			Comment: req.Message,
			Source:  ledger.SourceChat,
		})
		h.Metrics.observeOperation("record_payment", err)
		if err != nil {
			h.fail(w, r, "Failed to record payment", err)
			return
		}
		h.writeWithBF(w, r, http.StatusCreated, p.lineID, "transaction", tx)
		return
	}
	msg, err := h.Engine.AddComment(r.Context(), p.lineID, p.day, p.id, req.Message, req.Date)
	if err != nil {
		h.fail(w, r, "Failed to add comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// GetTimeline returns the customer's merged history.
// GET .../customers/{customerId}/timeline
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	tl, err := h.Engine.CustomerTimeline(r.Context(), p.lineID, p.day, p.id)
	if err != nil {
		h.fail(w, r, "Failed to build timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// GetStatement returns per-date totals for the customer.
// GET .../customers/{customerId}/statement
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	st, err := h.Engine.CustomerStatement(r.Context(), p.lineID, p.day, p.id)
	if err != nil {
		h.fail(w, r, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetStatementPDF renders the customer's statement.
// GET .../customers/{customerId}/statement/pdf
func (h *Handler) GetStatementPDF(w http.ResponseWriter, r *http.Request) {
	p := pathOf(r)
	st, err := h.Engine.CustomerStatement(r.Context(), p.lineID, p.day, p.id)
	if err != nil {
		h.fail(w, r, "Failed to build statement", err)
		return
	}
	pdf, err := report.CustomerStatementPDF(st, h.now())
	if err != nil {
		h.fail(w, r, "Failed to render statement", err)
		return
	}
	writePDF(w, fmt.Sprintf("statement_%s_%s_%s.pdf", p.lineID, p.day, p.id), pdf)
}

// =============================================================================
// DELETED CUSTOMER HANDLERS
// =============================================================================

// deletedRef reads the (displayId, day, deletionTimestamp) selector. Day and
// ts are optional query parameters.
func deletedRef(r *http.Request) (lineID, id, day string, ts int64, err error) {
	lineID = chi.URLParam(r, "lineId")
	id = chi.URLParam(r, "customerId")
	day = r.URL.Query().Get("day")
	if v := r.URL.Query().Get("ts"); v != "" {
		ts, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			err = fmt.Errorf("ts: %w", ledger.ErrInvalid)
		}
	}
	return lineID, id, day, ts, err
}

// ListDeletedCustomers returns archived customers, newest deletion first.
// GET /api/lines/{lineId}/deleted-customers?includeRestored=true
func (h *Handler) ListDeletedCustomers(w http.ResponseWriter, r *http.Request) {
	include, _ := strconv.ParseBool(r.URL.Query().Get("includeRestored"))
	recs, err := h.Engine.DeletedCustomers(r.Context(), chi.URLParam(r, "lineId"), include)
	if err != nil {
		h.fail(w, r, "Failed to list deleted customers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedCustomers": recs})
}

// GetDeletedCustomer returns one deletion record.
// GET /api/lines/{lineId}/deleted-customers/{customerId}?day=&ts=
func (h *Handler) GetDeletedCustomer(w http.ResponseWriter, r *http.Request) {
	lineID, id, day, ts, err := deletedRef(r)
	if err != nil {
		h.fail(w, r, "Invalid deletion reference", err)
		return
	}
	rec, err := h.Engine.GetDeletedCustomer(r.Context(), lineID, id, day, ts)
	if err != nil {
		h.fail(w, r, "Failed to get deleted customer", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetDeletedTimeline returns the history of a deleted customer, including
// the records it was restored from.
// GET /api/lines/{lineId}/deleted-customers/{customerId}/timeline
func (h *Handler) GetDeletedTimeline(w http.ResponseWriter, r *http.Request) {
	lineID, id, day, ts, err := deletedRef(r)
	if err != nil {
		h.fail(w, r, "Invalid deletion reference", err)
		return
	}
	tl, err := h.Engine.DeletedCustomerTimeline(r.Context(), lineID, id, day, ts)
	if err != nil {
		h.fail(w, r, "Failed to build timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// GetDeletedStatement returns the statement of a deleted customer.
// GET /api/lines/{lineId}/deleted-customers/{customerId}/statement
func (h *Handler) GetDeletedStatement(w http.ResponseWriter, r *http.Request) {
	lineID, id, day, ts, err := deletedRef(r)
	if err != nil {
		h.fail(w, r, "Invalid deletion reference", err)
		return
	}
	st, err := h.Engine.DeletedCustomerStatement(r.Context(), lineID, id, day, ts)
	if err != nil {
		h.fail(w, r, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RestoreCustomer re-activates a deleted customer with a new loan.
// POST /api/lines/{lineId}/deleted-customers/{customerId}/restore
func (h *Handler) RestoreCustomer(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	lineID := chi.URLParam(r, "lineId")
	c, err := h.Engine.Restore(r.Context(), lineID, req.input(chi.URLParam(r, "customerId")))
	h.Metrics.observeOperation("restore_customer", err)
	if err != nil {
		h.fail(w, r, "Failed to restore customer", err)
		return
	}
	h.writeWithBF(w, r, http.StatusCreated, lineID, "customer", c)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the line's accounts.
// GET /api/lines/{lineId}/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Accounts.ListAccounts(r.Context(), chi.URLParam(r, "lineId"))
	if err != nil {
		h.fail(w, r, "Failed to list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": list})
}

// CreateAccount opens an account on the line.
// POST /api/lines/{lineId}/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Accounts.CreateAccount(r.Context(), chi.URLParam(r, "lineId"), req.Name)
	h.Metrics.observeOperation("create_account", err)
	if err != nil {
		h.fail(w, r, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// RenameAccount changes an account's name.
// PUT /api/lines/{lineId}/accounts/{accountId}
func (h *Handler) RenameAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Accounts.RenameAccount(r.Context(), chi.URLParam(r, "lineId"), chi.URLParam(r, "accountId"), req.Name)
	if err != nil {
		h.fail(w, r, "Failed to rename account", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAccount removes an account and its entries; BF loses their net.
// DELETE /api/lines/{lineId}/accounts/{accountId}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	line, err := h.Accounts.DeleteAccount(r.Context(), chi.URLParam(r, "lineId"), chi.URLParam(r, "accountId"))
	h.Metrics.observeOperation("delete_account", err)
	if err != nil {
		h.fail(w, r, "Failed to delete account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "bf": line.CurrentBF})
}

// ListEntries returns an account's entries with their totals.
// GET /api/lines/{lineId}/accounts/{accountId}/entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, totals, err := h.Accounts.ListEntries(r.Context(), chi.URLParam(r, "lineId"), chi.URLParam(r, "accountId"))
	if err != nil {
		h.fail(w, r, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, EntriesResponse{Entries: entries, Totals: totals})
}

// AddEntry records a credit or debit.
// POST /api/lines/{lineId}/accounts/{accountId}/entries
func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, line, err := h.Accounts.AddEntry(r.Context(), chi.URLParam(r, "lineId"), chi.URLParam(r, "accountId"), req.input())
	h.Metrics.observeOperation("add_account_entry", err)
	if err != nil {
		h.fail(w, r, "Failed to add entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, EntryResponse{Entry: e, BF: line.CurrentBF})
}

// UpdateEntry replaces an entry's fields.
// PUT /api/lines/{lineId}/accounts/{accountId}/entries/{entryId}
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, line, err := h.Accounts.UpdateEntry(r.Context(), chi.URLParam(r, "lineId"), chi.URLParam(r, "accountId"),
		chi.URLParam(r, "entryId"), req.input())
	h.Metrics.observeOperation("update_account_entry", err)
	if err != nil {
		h.fail(w, r, "Failed to update entry", err)
		return
	}
	writeJSON(w, http.StatusOK, EntryResponse{Entry: e, BF: line.CurrentBF})
}

// DeleteEntry removes an entry.
// DELETE /api/lines/{lineId}/accounts/{accountId}/entries/{entryId}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	line, err := h.Accounts.DeleteEntry(r.Context(), chi.URLParam(r, "lineId"), chi.URLParam(r, "accountId"),
		chi.URLParam(r, "entryId"))
	h.Metrics.observeOperation("delete_account_entry", err)
	if err != nil {
		h.fail(w, r, "Failed to delete entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "bf": line.CurrentBF})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunBackup archives the store and uploads it now.
// POST /api/admin/backup
func (h *Handler) RunBackup(w http.ResponseWriter, r *http.Request) {
	if h.Backups == nil {
		writeError(w, http.StatusServiceUnavailable, "Backups are not configured", nil)
		return
	}
	res, err := h.Backups.RunOnce(r.Context())
	h.Metrics.backups.WithLabelValues(outcome(err)).Inc()
	if errors.Is(err, backup.ErrBackupRunning) {
		writeError(w, http.StatusConflict, "A backup is already running", err)
		return
	}
	if err != nil {
		h.fail(w, r, "Backup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, BackupResponse{Result: res})
}

// DownloadBackup streams a zip of every record.
// GET /api/admin/backup/download
func (h *Handler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	data, m, err := backup.NewArchiver(h.store()).CreateBytes(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to build archive", err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="backup_%s.zip"`, m.CreatedAt.UTC().Format("20060102_150405")))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

const maxRestoreBytes = 256 << 20

// RestoreBackup replaces every record with the uploaded archive.
// POST /api/admin/backup/restore (body: a zip from /backup/download)
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRestoreBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read archive", err)
		return
	}
	h.replaceStore(w, r, "", data)
}

// RestoreRemoteBackup downloads a stored backup, the newest one when no
// key is given, and replaces every record with it.
// POST /api/admin/backup/restore-remote
func (h *Handler) RestoreRemoteBackup(w http.ResponseWriter, r *http.Request) {
	if h.Archives == nil {
		writeError(w, http.StatusServiceUnavailable, "Backups are not configured", nil)
		return
	}
	var req RestoreRemoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	key := req.Key
	if key == "" {
		latest, err := h.Archives.Latest(ctx)
		if errors.Is(err, backup.ErrNoBackups) {
			writeError(w, http.StatusNotFound, "No backups found", err)
			return
		}
		if err != nil {
			h.fail(w, r, "Failed to list backups", err)
			return
		}
		key = latest
	}

	data, err := h.Archives.Download(ctx, key)
	if errors.Is(err, backup.ErrNotBackupKey) {
		writeError(w, http.StatusBadRequest, "Invalid backup key", err)
		return
	}
	if err != nil {
		h.fail(w, r, "Failed to download backup", err)
		return
	}
	h.replaceStore(w, r, key, data)
}

// replaceStore clears the store and restores data into it. It holds the
// handler lock like scenario loading; lifecycle requests arriving during a
// restore are not fenced off.
func (h *Handler) replaceStore(w http.ResponseWriter, r *http.Request, key string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, err := backup.Replace(r.Context(), h.store(), bytes.NewReader(data), int64(len(data)))
	h.Metrics.observeOperation("restore_backup", err)
	if errors.Is(err, zip.ErrFormat) || errors.Is(err, backup.ErrNoManifest) {
		writeError(w, http.StatusBadRequest, "Invalid backup archive", err)
		return
	}
	if err != nil {
		h.fail(w, r, "Restore failed", err)
		return
	}
	h.currentScenario = ""
	h.Logger.Warn("store replaced from backup",
		zap.String("key", key),
		zap.Int("records", m.Records),
		zap.String("backup_id", m.ID))
	writeJSON(w, http.StatusOK, RestoreResponse{Key: key, Manifest: m})
}

// Reconcile recomputes BF on every line now.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconcileAll(r.Context())
	if err != nil {
		h.fail(w, r, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListReconciliations returns drift found on a line, newest first.
// GET /api/lines/{lineId}/reconciliations?limit=
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	type EntryDTO struct {
		LineID    string          `json:"lineId"`
		Previous  decimal.Decimal `json:"previousBF"`
		BF        decimal.Decimal `json:"bf"`
		Drift     decimal.Decimal `json:"drift"`
		CreatedAt time.Time       `json:"createdAt"`
	}

	dtos := []EntryDTO{}
	if h.Reconciliations == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reconciliations": dtos})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Reconciliations.GetReconciliations(r.Context(), chi.URLParam(r, "lineId"), limit)
	if err != nil {
		h.fail(w, r, "Failed to get reconciliations", err)
		return
	}
	for _, e := range entries {
		dtos = append(dtos, EntryDTO{
			LineID:    e.LineID,
			Previous:  e.PreviousBF,
			BF:        e.RecomputedBF,
			Drift:     e.Drift,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconciliations": dtos})
}

// Health reports whether the store answers.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store().(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the error response
// itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Details: verrs[0].Field() + " " + fieldMessage(verrs[0]),
			Fields:  fields,
		})
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "excludesall":
		return "must not contain " + fe.Param()
	default:
		return "is invalid"
	}
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.ErrNotFound:
		return http.StatusNotFound
	case ledger.ErrConflict:
		return http.StatusConflict
	case ledger.ErrInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.Error(err),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path))
	}
	resp := ErrorResponse{Error: message, Details: err.Error()}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = map[string]string{ve.Field: ve.Message}
	}
	writeJSON(w, status, resp)
}

// writeWithBF responds with v under key plus the line's BF after the
// mutation.
func (h *Handler) writeWithBF(w http.ResponseWriter, r *http.Request, status int, lineID, key string, v any) {
	bf, err := h.Engine.CachedBalance(r.Context(), lineID)
	if err != nil {
		h.fail(w, r, "Failed to read BF", err)
		return
	}
	writeJSON(w, status, map[string]any{key: v, "bf": bf})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writePDF(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
