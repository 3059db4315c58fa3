/*
store.go - Record store contract and path layout

PURPOSE:
  The ledger persists JSON records through a path-addressed RecordStore.
  The store has no business logic: read, write, delete, list. Every path
  the ledger touches is built by a function in this file.

CONTRACT:
  Read   returns (nil, nil) when the path is absent. The ledger treats an
         absent record as an empty collection everywhere.
  Write  creates or replaces the record at path.
  Delete removes the record at path; deleting an absent path is not an error.
  List   returns the sorted, distinct names one level below dir, whether
         they are records or further directories.

PATH LAYOUT:
  lines/{lineId}                                   Line
  customers/{lineId}/{day}                         []Customer (active)
  transactions/{lineId}/{day}/{internalId}         []Transaction
  chat/{lineId}/{day}/{internalId}                 []ChatMessage
  deleted_customers/{lineId}                       []DeletedCustomerRecord
  deleted_transactions/{lineId}/{day}/{internalId} archive copy, overwritten per delete
  deleted_chat/{lineId}/{day}/{internalId}         archive copy, overwritten per delete

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and demos
  - store/sqlite: embedded SQLite
  - store/postgres: PostgreSQL through pgx
  - store/filestore: one JSON file per record on disk
  - store/cache: Redis read-through decorator over any of the above
*/
package ledger

import (
	"context"
	"encoding/json"
	"strings"
)

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, dir string) ([]string, error)
}

// =============================================================================
// PATHS
// =============================================================================

const (
	CategoryLines               = "lines"
	CategoryCustomers           = "customers"
	CategoryTransactions        = "transactions"
	CategoryChat                = "chat"
	CategoryDeletedCustomers    = "deleted_customers"
	CategoryDeletedTransactions = "deleted_transactions"
	CategoryDeletedChat         = "deleted_chat"
)

// LineScopedCategories lists every category whose records live under a
// line id. Deleting a line removes all of them.
var LineScopedCategories = []string{
	CategoryCustomers,
	CategoryTransactions,
	CategoryChat,
	CategoryDeletedCustomers,
	CategoryDeletedTransactions,
	CategoryDeletedChat,
}

func JoinPath(parts ...string) string { return strings.Join(parts, "/") }

func LinePath(lineID string) string { return JoinPath(CategoryLines, lineID) }

func CustomersPath(lineID, day string) string {
	return JoinPath(CategoryCustomers, lineID, day)
}

func TransactionsPath(lineID, day, internalID string) string {
	return JoinPath(CategoryTransactions, lineID, day, internalID)
}

func ChatPath(lineID, day, internalID string) string {
	return JoinPath(CategoryChat, lineID, day, internalID)
}

func DeletedCustomersPath(lineID string) string {
	return JoinPath(CategoryDeletedCustomers, lineID)
}

func ArchivedTransactionsPath(lineID, day, internalID string) string {
	return JoinPath(CategoryDeletedTransactions, lineID, day, internalID)
}

func ArchivedChatPath(lineID, day, internalID string) string {
	return JoinPath(CategoryDeletedChat, lineID, day, internalID)
}

// ValidSegment reports whether s can be used as one path segment.
func ValidSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

func requireSegment(field, s string) error {
	if !ValidSegment(s) {
		return invalid(field, "is required and must not contain '/'")
	}
	return nil
}

// =============================================================================
// TYPED ACCESS
// =============================================================================

// ReadRecord decodes the record at path into T. ok is false when absent.
func ReadRecord[T any](ctx context.Context, s RecordStore, path string) (T, bool, error) {
	var v T
	data, err := s.Read(ctx, path)
	if err != nil {
		return v, false, &StoreError{Op: "read", Path: path, Err: err}
	}
	if len(data) == 0 {
		return v, false, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, &StoreError{Op: "decode", Path: path, Err: err}
	}
	return v, true, nil
}

// ReadList decodes a collection record; absent means empty.
func ReadList[T any](ctx context.Context, s RecordStore, path string) ([]T, error) {
	list, _, err := ReadRecord[[]T](ctx, s, path)
	return list, err
}

func WriteRecord(ctx context.Context, s RecordStore, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &StoreError{Op: "encode", Path: path, Err: err}
	}
	if err := s.Write(ctx, path, data); err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func DeleteRecord(ctx context.Context, s RecordStore, path string) error {
	if err := s.Delete(ctx, path); err != nil {
		return &StoreError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func ListNames(ctx context.Context, s RecordStore, dir string) ([]string, error) {
	names, err := s.List(ctx, dir)
	if err != nil {
		return nil, &StoreError{Op: "list", Path: dir, Err: err}
	}
	return names, nil
}

// DeleteTree removes dir and every record below it.
func DeleteTree(ctx context.Context, s RecordStore, dir string) error {
	names, err := ListNames(ctx, s, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := DeleteTree(ctx, s, JoinPath(dir, name)); err != nil {
			return err
		}
	}
	return DeleteRecord(ctx, s, dir)
}

// copyRecord duplicates the raw bytes at src to dst. An absent src writes
// an empty collection so the archive always reflects the source.
func copyRecord(ctx context.Context, s RecordStore, src, dst string) error {
	data, err := s.Read(ctx, src)
	if err != nil {
		return &StoreError{Op: "read", Path: src, Err: err}
	}
	if len(data) == 0 {
		data = []byte("[]")
	}
	if err := s.Write(ctx, dst, data); err != nil {
		return &StoreError{Op: "write", Path: dst, Err: err}
	}
	return nil
}
