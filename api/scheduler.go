/*
scheduler.go - Automated BF reconciliation scheduler

PURPOSE:
  Periodically recomputes every line's BF from persisted records and
  repairs the cached value where it drifted. Incremental updates should
  never drift; a sweep that finds drift points at a lost write or an
  out-of-band edit of the store.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each line is refreshed under its own lock (Engine.RefreshBalance)
  - Drift is logged, exported as a gauge, and recorded in the
    reconciliation log when one is configured (SQLite store)

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual sweep)
  - ledger/lines.go: RefreshBalance
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linebook/collection-ledger/ledger"
	"github.com/linebook/collection-ledger/store/sqlite"
)

// ReconciliationScheduler handles automated BF reconciliation.
type ReconciliationScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(handler *Handler) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        handler.Logger.Named("reconcile"),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("reconciliation scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	// A fresh stop channel per run so the scheduler can be restarted.
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.logger.Info("reconciliation scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.logger.Info("reconciliation scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-ticker.C:
			rs.checkAndProcess()
		case <-stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) checkAndProcess() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.CheckInterval)
	defer cancel()

	res, err := rs.Handler.reconcileAll(ctx)
	if err != nil {
		rs.logger.Error("reconciliation sweep failed", zap.Error(err))
		return
	}
	if len(res.Drifted) > 0 {
		rs.logger.Warn("reconciliation sweep repaired drift",
			zap.Int("lines", res.Lines), zap.Int("drifted", len(res.Drifted)))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReconciliationScheduler) RunNow() {
	rs.checkAndProcess()
}

// reconcileAll refreshes every line's BF. A line that fails is logged and
// skipped so one bad line does not block the rest.
func (h *Handler) reconcileAll(ctx context.Context) (ReconcileResponse, error) {
	// ListLines would refresh every line itself and hide the drift.
	ids, err := ledger.ListNames(ctx, h.store(), ledger.CategoryLines)
	if err != nil {
		return ReconcileResponse{}, err
	}

	res := ReconcileResponse{Lines: len(ids), Drifted: []LineDriftDTO{}}
	for _, id := range ids {
		r, err := h.Engine.RefreshBalance(ctx, id)
		if err != nil {
			h.Logger.Error("line reconciliation failed", zap.String("line_id", id), zap.Error(err))
			continue
		}
		line := r.Line
		h.Metrics.observeDrift(line.ID, r.Drift.InexactFloat64())
		if !r.Drifted() {
			continue
		}

		h.Logger.Warn("BF drift repaired",
			zap.String("line_id", line.ID),
			zap.String("previous", r.Previous.String()),
			zap.String("recomputed", r.Breakdown.BF.String()),
			zap.String("drift", r.Drift.String()))
		res.Drifted = append(res.Drifted, LineDriftDTO{
			LineID:   line.ID,
			Previous: r.Previous,
			BF:       r.Breakdown.BF,
			Drift:    r.Drift,
		})
		if h.Reconciliations != nil {
			entry := sqlite.ReconciliationEntry{
				LineID:       line.ID,
				PreviousBF:   r.Previous,
				RecomputedBF: r.Breakdown.BF,
				Drift:        r.Drift,
				CreatedAt:    h.now().UTC(),
			}
			if err := h.Reconciliations.SaveReconciliation(ctx, entry); err != nil {
				h.Logger.Error("failed to record drift", zap.String("line_id", line.ID), zap.Error(err))
			}
		}
	}
	h.Metrics.sweeps.Inc()
	return res, nil
}
