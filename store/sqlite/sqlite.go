/*
Package sqlite provides a SQLite-backed ledger.RecordStore.

PURPOSE:
  Persists ledger records as JSON documents in a single table keyed by
  path. The ledger decides what the documents mean; this store only keeps
  them. In production, the same table works on PostgreSQL (store/postgres).

KEY TABLES:
  records:        path -> JSON document, plus the parent directory and
                  category for listing and backups
  reconciliation: one row per BF reconciliation sweep that found drift

INDEXES:
  - idx_records_dir: List(dir) is a range scan over the parent directory
  - idx_records_category: backup and admin scans by category

LISTING:
  Every write also records the record's parent directory. List(dir) reads
  the paths whose parent starts with dir and keeps the segment directly
  below dir, so directories exist as long as some record lives under them.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Per-line serialization of ledger
  operations happens above this layer, in ledger.Engine.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: RecordStore contract and path layout
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/linebook/collection-ledger/ledger"
	memstore "github.com/linebook/collection-ledger/ledger/store"
)

// Store implements ledger.RecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.RecordStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		path TEXT PRIMARY KEY,
		dir TEXT NOT NULL,
		category TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_dir
		ON records(dir);
	CREATE INDEX IF NOT EXISTS idx_records_category
		ON records(category);

	CREATE TABLE IF NOT EXISTS reconciliation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		line_id TEXT NOT NULL,
		previous_bf TEXT NOT NULL,
		recomputed_bf TEXT NOT NULL,
		drift TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_line
		ON reconciliation(line_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (ledger.RecordStore interface)
// =============================================================================

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE path = ?`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return []byte(data), nil
}

func (s *Store) Write(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO records (path, dir, category, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		path,
		ParentDir(path),
		Category(path),
		string(data),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir = strings.TrimSuffix(dir, "/")
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM records WHERE dir = ? OR dir LIKE ? ESCAPE '\'`,
		dir, EscapeLike(dir)+"/%")
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ChildNames(dir, paths), nil
}

// Reset deletes every record. Used by demo scenario resets.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM records; DELETE FROM reconciliation;`)
	return err
}

// =============================================================================
// RECONCILIATION LOG
// =============================================================================

// ReconciliationEntry is one drift found by a BF sweep.
type ReconciliationEntry struct {
	LineID       string
	PreviousBF   decimal.Decimal
	RecomputedBF decimal.Decimal
	Drift        decimal.Decimal
	CreatedAt    time.Time
}

func (s *Store) SaveReconciliation(ctx context.Context, e ReconciliationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation (line_id, previous_bf, recomputed_bf, drift, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.LineID,
		e.PreviousBF.String(),
		e.RecomputedBF.String(),
		e.Drift.String(),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation: %w", err)
	}
	return nil
}

// GetReconciliations returns the most recent entries for a line, newest first.
func (s *Store) GetReconciliations(ctx context.Context, lineID string, limit int) ([]ReconciliationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_id, previous_bf, recomputed_bf, drift, created_at
		FROM reconciliation WHERE line_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, lineID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation: %w", err)
	}
	defer rows.Close()

	var out []ReconciliationEntry
	for rows.Next() {
		var e ReconciliationEntry
		var prev, recomputed, drift, created string
		if err := rows.Scan(&e.LineID, &prev, &recomputed, &drift, &created); err != nil {
			return nil, err
		}
		e.PreviousBF = decimal.RequireFromString(prev)
		e.RecomputedBF = decimal.RequireFromString(recomputed)
		e.Drift = decimal.RequireFromString(drift)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PATH HELPERS (shared with store/postgres)
// =============================================================================

// ParentDir returns everything before the last '/'.
func ParentDir(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// Category returns the first path segment.
func Category(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// EscapeLike escapes LIKE wildcards with '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ChildNames reduces full paths under dir to the sorted distinct segments
// directly below it.
func ChildNames(dir string, paths []string) []string {
	prefix := dir + "/"
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		name, ok := memstore.ChildName(prefix, p)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
