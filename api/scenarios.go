/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	collection data for demos and manual testing. Each scenario drives the
	ledger engine through its public operations, so the BF it leaves is
	exactly what the same clicks in the field app would produce.

AVAILABLE SCENARIOS:

	reference-line:     One loan repaid, deleted, restored and repaid (BF 53000)
	restoration-chain:  Delete/restore/delete on one identity (BF 17900)
	renewals:           Renewal after settlement, an overdue customer and
	                    an owner top-up account (BF 18600)

HOW SCENARIOS WORK:
 1. Reset the store (clear all records)
 2. Create the line with its opening amount
 3. Create customers, record payments, delete and restore
 4. Optionally add account entries

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "reference-line"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the loaders map

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error helpers
  - ledger/lifecycle.go: the operations the loaders call
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linebook/collection-ledger/accounts"
	"github.com/linebook/collection-ledger/backup"
	"github.com/linebook/collection-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "reference-line",
		Name:        "Reference Line",
		Description: "Loan repaid, customer deleted and restored under a new id, second loan repaid",
	},
	{
		ID:          "restoration-chain",
		Name:        "Restoration Chain",
		Description: "One customer deleted, restored and deleted again; both records share an identity",
	},
	{
		ID:          "renewals",
		Name:        "Renewals and Accounts",
		Description: "Renewal after full repayment, an overdue borrower and an owner top-up",
	},
}

func (h *Handler) loaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"reference-line":    h.loadReferenceLineScenario,
		"restoration-chain": h.loadRestorationChainScenario,
		"renewals":          h.loadRenewalsScenario,
	}
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := h.loaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetStore(ctx); err != nil {
		h.currentScenario = ""
		h.fail(w, r, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every record.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetStore(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetStore(ctx context.Context) error {
	return backup.Clear(ctx, h.store())
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func scenarioDate(month time.Month, day int) ledger.Date { return ledger.NewDate(2025, month, day) }

func (h *Handler) loadReferenceLineScenario(ctx context.Context) error {
	e := h.Engine
	if _, err := e.CreateLine(ctx, ledger.LineInput{
		ID: "north", Name: "North Route", Type: ledger.LineWeekly,
		Days: []string{"Monday", "Thursday"}, InitialAmount: amt(50000),
	}); err != nil {
		return err
	}

	// 12000 taken, 2000 interest: 10000 leaves the till
	if _, err := e.CreateCustomer(ctx, "north", "Monday", ledger.CustomerInput{
		ID: "1", Name: "Lakshmi", Village: "Kallur", Phone: "9840012345",
		TakenAmount: amt(12000), Interest: amt(2000), Date: scenarioDate(time.January, 6), Weeks: 12,
	}); err != nil {
		return err
	}
	for week := 1; week <= 4; week++ {
		if _, err := e.RecordPayment(ctx, "north", "Monday", "1", ledger.PaymentInput{
			Amount: amt(3000), Date: scenarioDate(time.January, 6).AddDays(7 * week),
		}); err != nil {
			return err
		}
	}
	if _, err := e.SoftDelete(ctx, "north", "Monday", "1"); err != nil {
		return err
	}

	interest := amt(1000)
	if _, err := e.Restore(ctx, "north", ledger.RestoreInput{
		DisplayID: "1", NewDisplayID: "2", TakenAmount: amt(5000), Interest: &interest,
		Date: scenarioDate(time.February, 10), Weeks: 10,
	}); err != nil {
		return err
	}
	if _, err := e.RecordPayment(ctx, "north", "Monday", "2", ledger.PaymentInput{
		Amount: amt(5000), Date: scenarioDate(time.February, 17), Comment: "paid in full",
	}); err != nil {
		return err
	}
	_, err := e.AddComment(ctx, "north", "Monday", "2", "moved to the new market stall", scenarioDate(time.February, 17))
	return err
}

func (h *Handler) loadRestorationChainScenario(ctx context.Context) error {
	e := h.Engine
	if _, err := e.CreateLine(ctx, ledger.LineInput{ID: "river", Name: "River Road", InitialAmount: amt(20000)}); err != nil {
		return err
	}
	if _, err := e.CreateCustomer(ctx, "river", "Monday", ledger.CustomerInput{
		ID: "1", Name: "Ravi", Village: "Palur",
		TakenAmount: amt(5000), Interest: amt(500), Date: scenarioDate(time.March, 3), Weeks: 10,
	}); err != nil {
		return err
	}
	if _, err := e.RecordPayment(ctx, "river", "Monday", "1", ledger.PaymentInput{
		Amount: amt(5000), Date: scenarioDate(time.April, 7),
	}); err != nil {
		return err
	}
	if _, err := e.SoftDelete(ctx, "river", "Monday", "1"); err != nil {
		return err
	}

	interest := amt(400)
	if _, err := e.Restore(ctx, "river", ledger.RestoreInput{
		DisplayID: "1", NewDisplayID: "2", TakenAmount: amt(4000), Interest: &interest,
		Date: scenarioDate(time.April, 14), Weeks: 10,
	}); err != nil {
		return err
	}
	if _, err := e.RecordPayment(ctx, "river", "Monday", "2", ledger.PaymentInput{
		Amount: amt(1000), Date: scenarioDate(time.April, 21),
	}); err != nil {
		return err
	}
	_, err := e.SoftDelete(ctx, "river", "Monday", "2")
	return err
}

func (h *Handler) loadRenewalsScenario(ctx context.Context) error {
	e := h.Engine
	if _, err := e.CreateLine(ctx, ledger.LineInput{ID: "market", Name: "Market Street", InitialAmount: amt(20000)}); err != nil {
		return err
	}
	if _, err := e.CreateCustomer(ctx, "market", "Tuesday", ledger.CustomerInput{
		ID: "1", Name: "Meena", Village: "Kottai",
		TakenAmount: amt(5000), Interest: amt(500), Date: scenarioDate(time.January, 7), Weeks: 8,
	}); err != nil {
		return err
	}
	if _, err := e.RecordPayment(ctx, "market", "Tuesday", "1", ledger.PaymentInput{
		Amount: amt(5000), Date: scenarioDate(time.March, 4),
	}); err != nil {
		return err
	}
	if _, err := e.CreateRenewal(ctx, "market", "Tuesday", "1", ledger.RenewalInput{
		TakenAmount: amt(8000), Interest: amt(800), Date: scenarioDate(time.March, 11), Weeks: 10,
	}); err != nil {
		return err
	}
	if _, err := e.RecordPayment(ctx, "market", "Tuesday", "1", ledger.PaymentInput{
		Amount: amt(2000), Date: scenarioDate(time.March, 18), Source: ledger.SourceChat, Comment: "first renewal installment",
	}); err != nil {
		return err
	}

	// Overdue: 3000 due by mid February, only 1000 paid
	if _, err := e.CreateCustomer(ctx, "market", "Tuesday", ledger.CustomerInput{
		ID: "2", Name: "Suresh", Village: "Kottai",
		TakenAmount: amt(3000), Interest: amt(300), Date: scenarioDate(time.January, 14), Weeks: 4,
	}); err != nil {
		return err
	}
	if _, err := e.RecordPayment(ctx, "market", "Tuesday", "2", ledger.PaymentInput{
		Amount: amt(1000), Date: scenarioDate(time.January, 21),
	}); err != nil {
		return err
	}

	owner, err := h.Accounts.CreateAccount(ctx, "market", "Owner")
	if err != nil {
		return err
	}
	_, _, err = h.Accounts.AddEntry(ctx, "market", owner.ID, accounts.EntryInput{
		Date: scenarioDate(time.March, 1), Description: "till top-up", Credit: amt(5000),
	})
	return err
}
