package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE - Stateless operations over a RecordStore
// =============================================================================

// AccountLedger supplies the manual accounts term of BF.
type AccountLedger interface {
	NetBalance(ctx context.Context, lineID string) (decimal.Decimal, error)
}

// TieBreak decides which of two records with identical instants is "latest".
type TieBreak string

const (
	// TieBreakLast picks the record later in stored order.
	TieBreakLast TieBreak = "last"
	// TieBreakFirst picks the record earlier in stored order.
	TieBreakFirst TieBreak = "first"
)

func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(s))) {
	case "", TieBreakLast:
		return TieBreakLast, nil
	case TieBreakFirst:
		return TieBreakFirst, nil
	}
	return "", fmt.Errorf("unknown tie-break rule %q (want last or first)", s)
}

// Engine runs lifecycle operations and queries. It keeps no ledger state of
// its own beyond per-line locks; everything is read from and written to the
// RecordStore.
type Engine struct {
	store        RecordStore
	accounts     AccountLedger
	logger       *zap.Logger
	now          func() time.Time
	tieBreak     TieBreak
	defaultWeeks int

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	idMu      sync.Mutex
	lastStamp int64
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now; tests use it for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithTieBreak(tb TieBreak) Option {
	return func(e *Engine) { e.tieBreak = tb }
}

func WithAccountLedger(a AccountLedger) Option {
	return func(e *Engine) { e.accounts = a }
}

// WithDefaultWeeks sets the loan term used when a request gives none.
func WithDefaultWeeks(weeks int) Option {
	return func(e *Engine) {
		if weeks > 0 {
			e.defaultWeeks = weeks
		}
	}
}

func NewEngine(store RecordStore, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		logger:       zap.NewNop(),
		now:          time.Now,
		tieBreak:     TieBreakLast,
		defaultWeeks: 12,
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetAccountLedger wires the accounts term after construction, for callers
// whose account ledger itself needs the Engine.
func (e *Engine) SetAccountLedger(a AccountLedger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts = a
}

func (e *Engine) Store() RecordStore { return e.store }
func (e *Engine) Now() time.Time     { return e.now().UTC() }

// lockLine serializes read-modify-write sequences on one line.
func (e *Engine) lockLine(lineID string) func() {
	e.mu.Lock()
	l, ok := e.locks[lineID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[lineID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// newInternalID mints "<unix-millis>_<9 random hex>". The millisecond part
// is strictly increasing within the process.
func (e *Engine) newInternalID() string {
	stamp := e.nextStamp()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%d_%s", stamp, suffix)
}

func (e *Engine) nextStamp() int64 {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	stamp := e.now().UnixMilli()
	if stamp <= e.lastStamp {
		stamp = e.lastStamp + 1
	}
	e.lastStamp = stamp
	return stamp
}

func newRecordID() string { return uuid.NewString() }

// =============================================================================
// ORDERING
// =============================================================================

// isLater reports whether candidate (at stored position ci) should replace
// current (at cj) as the latest record.
func (e *Engine) isLater(candidate, current time.Time, ci, cj int) bool {
	if !candidate.Equal(current) {
		return candidate.After(current)
	}
	if e.tieBreak == TieBreakFirst {
		return ci < cj
	}
	return ci > cj
}
