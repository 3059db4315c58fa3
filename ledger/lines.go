package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/linebook/collection-ledger/schedule"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// LINES
// =============================================================================

type LineInput struct {
	ID            string
	Name          string
	Type          LineType
	Days          []string
	InitialAmount decimal.Decimal
}

// LineUpdate changes the fields that are set.
type LineUpdate struct {
	Name          *string
	Type          *LineType
	Days          []string
	InitialAmount *decimal.Decimal
}

// LineDeleter is implemented by account ledgers that keep records per line.
type LineDeleter interface {
	DeleteLineAccounts(ctx context.Context, lineID string) error
}

// BalanceRefresh is the outcome of recomputing a line's BF.
type BalanceRefresh struct {
	Line      Line
	Breakdown Breakdown
	Previous  decimal.Decimal
	Drift     decimal.Decimal
}

func (r BalanceRefresh) Drifted() bool { return !r.Drift.IsZero() }

func (e *Engine) CreateLine(ctx context.Context, in LineInput) (Line, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Line{}, invalid("name", "is required")
	}
	if in.Type == "" {
		in.Type = LineDaily
	}
	if !schedule.ValidLineType(string(in.Type)) {
		return Line{}, invalid("type", "must be Daily or Weekly")
	}
	if in.InitialAmount.IsNegative() {
		return Line{}, invalid("amount", "must not be negative")
	}
	if in.ID == "" {
		in.ID = fmt.Sprintf("%d", e.nextStamp())
	}
	if err := requireSegment("id", in.ID); err != nil {
		return Line{}, err
	}
	days, err := normalizeDays(in.Days, in.Type)
	if err != nil {
		return Line{}, err
	}

	unlock := e.lockLine(in.ID)
	defer unlock()

	if _, found, err := ReadRecord[Line](ctx, e.store, LinePath(in.ID)); err != nil {
		return Line{}, err
	} else if found {
		return Line{}, fmt.Errorf("line %s: %w", in.ID, ErrDuplicateLine)
	}

	now := e.Now()
	line := Line{
		ID:            in.ID,
		Name:          in.Name,
		Type:          in.Type,
		Days:          days,
		InitialAmount: in.InitialAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// Records left under a reused id still count toward BF.
	line.CurrentBF = in.InitialAmount
	if err := WriteRecord(ctx, e.store, LinePath(line.ID), line); err != nil {
		return Line{}, err
	}
	refreshed, err := e.refreshLocked(ctx, line.ID)
	if err != nil {
		return Line{}, err
	}

	e.logger.Info("line created", zap.String("line_id", line.ID), zap.String("bf", refreshed.Line.CurrentBF.String()))
	return refreshed.Line, nil
}

// GetLine returns the line with a freshly recomputed BF.
func (e *Engine) GetLine(ctx context.Context, lineID string) (Line, error) {
	r, err := e.RefreshBalance(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	return r.Line, nil
}

// ListLines returns every line, each with a freshly recomputed BF.
func (e *Engine) ListLines(ctx context.Context) ([]Line, error) {
	ids, err := ListNames(ctx, e.store, CategoryLines)
	if err != nil {
		return nil, err
	}
	lines := make([]Line, 0, len(ids))
	for _, id := range ids {
		r, err := e.RefreshBalance(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		lines = append(lines, r.Line)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].CreatedAt.Before(lines[j].CreatedAt) })
	return lines, nil
}

func (e *Engine) UpdateLine(ctx context.Context, lineID string, upd LineUpdate) (Line, error) {
	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Line{}, invalid("name", "is required")
		}
		line.Name = name
	}
	if upd.Type != nil {
		if !schedule.ValidLineType(string(*upd.Type)) {
			return Line{}, invalid("type", "must be Daily or Weekly")
		}
		line.Type = *upd.Type
	}
	if upd.Days != nil {
		days, err := normalizeDays(upd.Days, line.Type)
		if err != nil {
			return Line{}, err
		}
		line.Days = days
	}
	if upd.InitialAmount != nil {
		if upd.InitialAmount.IsNegative() {
			return Line{}, invalid("amount", "must not be negative")
		}
		line.InitialAmount = *upd.InitialAmount
	}

	line.UpdatedAt = e.Now()
	if err := WriteRecord(ctx, e.store, LinePath(lineID), line); err != nil {
		return Line{}, err
	}
	r, err := e.refreshLocked(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	return r.Line, nil
}

// DeleteLine removes the line and every record filed under it.
func (e *Engine) DeleteLine(ctx context.Context, lineID string) error {
	unlock := e.lockLine(lineID)
	defer unlock()

	if _, err := e.requireLine(ctx, lineID); err != nil {
		return err
	}
	for _, category := range LineScopedCategories {
		if err := DeleteTree(ctx, e.store, JoinPath(category, lineID)); err != nil {
			return err
		}
	}
	if d, ok := e.accounts.(LineDeleter); ok {
		if err := d.DeleteLineAccounts(ctx, lineID); err != nil {
			return err
		}
	}
	if err := DeleteRecord(ctx, e.store, LinePath(lineID)); err != nil {
		return err
	}
	e.logger.Info("line deleted", zap.String("line_id", lineID))
	return nil
}

// RefreshBalance recomputes BF from persisted state and rewrites the cached
// value when it drifted.
func (e *Engine) RefreshBalance(ctx context.Context, lineID string) (BalanceRefresh, error) {
	unlock := e.lockLine(lineID)
	defer unlock()
	return e.refreshLocked(ctx, lineID)
}

func (e *Engine) refreshLocked(ctx context.Context, lineID string) (BalanceRefresh, error) {
	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return BalanceRefresh{}, err
	}
	state, err := e.LoadLineState(ctx, lineID)
	if err != nil {
		return BalanceRefresh{}, err
	}
	b := Recompute(state)

	r := BalanceRefresh{Breakdown: b, Previous: line.CurrentBF, Drift: b.BF.Sub(line.CurrentBF)}
	if r.Drifted() {
		line.CurrentBF = b.BF
		line.UpdatedAt = e.Now()
		if err := WriteRecord(ctx, e.store, LinePath(lineID), line); err != nil {
			return BalanceRefresh{}, err
		}
	}
	r.Line = line
	return r, nil
}

// RecomputeBalance derives BF without touching the cache.
func (e *Engine) RecomputeBalance(ctx context.Context, lineID string) (Breakdown, error) {
	state, err := e.LoadLineState(ctx, lineID)
	if err != nil {
		return Breakdown{}, err
	}
	return Recompute(state), nil
}

// Mutate runs fn under the line lock and applies the event it returns to the
// cached BF. Collaborators that keep their own records under a line (the
// accounts ledger) use it so their writes serialize with lifecycle
// operations. A nil event leaves BF alone.
func (e *Engine) Mutate(ctx context.Context, lineID string, fn func(ctx context.Context) (*BalanceEvent, error)) (Line, error) {
	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	ev, err := fn(ctx)
	if err != nil {
		return Line{}, err
	}
	if ev == nil {
		return line, nil
	}
	if err := e.applyToLine(ctx, &line, *ev); err != nil {
		return Line{}, err
	}
	e.logger.Info("balance adjusted",
		zap.String("line_id", lineID),
		zap.String("event", string(ev.Kind)),
		zap.String("bf", line.CurrentBF.String()))
	return line, nil
}

// CachedBalance returns the stored BF without recomputing it.
func (e *Engine) CachedBalance(ctx context.Context, lineID string) (decimal.Decimal, error) {
	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return decimal.Zero, err
	}
	return line.CurrentBF, nil
}

// =============================================================================
// DAYS
// =============================================================================

func (e *Engine) ListDays(ctx context.Context, lineID string) ([]string, error) {
	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), line.Days...), nil
}

func (e *Engine) AddDay(ctx context.Context, lineID, day string) (Line, error) {
	day = strings.TrimSpace(day)
	if err := requireSegment("day", day); err != nil {
		return Line{}, err
	}

	unlock := e.lockLine(lineID)
	defer unlock()

	line, err := e.requireLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	if line.HasDay(day) {
		return Line{}, fmt.Errorf("%s on line %s: %w", day, lineID, ErrDuplicateDay)
	}
	line.Days = append(line.Days, day)
	line.UpdatedAt = e.Now()
	if err := WriteRecord(ctx, e.store, LinePath(lineID), line); err != nil {
		return Line{}, err
	}
	return line, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) requireLine(ctx context.Context, lineID string) (Line, error) {
	if err := requireSegment("lineId", lineID); err != nil {
		return Line{}, err
	}
	line, found, err := ReadRecord[Line](ctx, e.store, LinePath(lineID))
	if err != nil {
		return Line{}, err
	}
	if !found {
		return Line{}, fmt.Errorf("line %s: %w", lineID, ErrLineNotFound)
	}
	return line, nil
}

// applyToLine moves the cached BF and persists the line. Callers invoke it
// only after the operation's other writes succeeded.
func (e *Engine) applyToLine(ctx context.Context, line *Line, ev BalanceEvent) error {
	line.CurrentBF = ApplyDelta(line.CurrentBF, ev)
	line.UpdatedAt = e.Now()
	return WriteRecord(ctx, e.store, LinePath(line.ID), line)
}

func normalizeDays(days []string, lineType LineType) ([]string, error) {
	if len(days) == 0 {
		return schedule.DefaultDays(string(lineType)), nil
	}
	seen := make(map[string]bool, len(days))
	out := make([]string, 0, len(days))
	for _, d := range days {
		d = strings.TrimSpace(d)
		if err := requireSegment("days", d); err != nil {
			return nil, err
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}
