/*
Package backup snapshots the record store to object storage.

PURPOSE:
  Backups run as their own task on a cron schedule. They read the record
  store only; no lifecycle operation waits on them or triggers them.

ARCHIVE FORMAT (zip):
  manifest.json              Manifest (id, createdAt, record counts)
  records/<path>.json        one entry per stored record, path as stored

  Restore writes every records/ entry back under its path, so an archive
  taken from one backend can seed another.

FLOW:
  Scheduler (cron) -> Archiver.Create -> S3Uploader.Upload -> S3Uploader.Prune

SEE ALSO:
  - ledger/store.go: record paths and categories
*/
package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linebook/collection-ledger/accounts"
	"github.com/linebook/collection-ledger/ledger"
)

const (
	manifestName  = "manifest.json"
	recordsPrefix = "records/"
)

// Categories are the top-level record collections an archive covers.
func Categories() []string {
	out := []string{ledger.CategoryLines}
	out = append(out, ledger.LineScopedCategories...)
	return append(out, accounts.CategoryAccounts, accounts.CategoryEntries)
}

type Manifest struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"createdAt"`
	Records    int            `json:"records"`
	Bytes      int64          `json:"bytes"`
	Categories map[string]int `json:"categories"`
}

type Archiver struct {
	store ledger.RecordStore
	now   func() time.Time
}

func NewArchiver(store ledger.RecordStore) *Archiver {
	return &Archiver{store: store, now: time.Now}
}

// Create writes a zip of every record to w.
func (a *Archiver) Create(ctx context.Context, w io.Writer) (Manifest, error) {
	m := Manifest{
		ID:         uuid.NewString(),
		CreatedAt:  a.now().UTC(),
		Categories: make(map[string]int),
	}
	zw := zip.NewWriter(w)

	for _, category := range Categories() {
		err := a.walk(ctx, category, func(path string, data []byte) error {
			f, err := zw.Create(recordsPrefix + path + ".json")
			if err != nil {
				return err
			}
			if _, err := f.Write(data); err != nil {
				return err
			}
			m.Records++
			m.Bytes += int64(len(data))
			m.Categories[category]++
			return nil
		})
		if err != nil {
			return Manifest{}, fmt.Errorf("archive %s: %w", category, err)
		}
	}

	f, err := zw.Create(manifestName)
	if err != nil {
		return Manifest{}, err
	}
	if err := json.NewEncoder(f).Encode(m); err != nil {
		return Manifest{}, err
	}
	if err := zw.Close(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// CreateBytes is Create into memory.
func (a *Archiver) CreateBytes(ctx context.Context) ([]byte, Manifest, error) {
	var buf bytes.Buffer
	m, err := a.Create(ctx, &buf)
	if err != nil {
		return nil, Manifest{}, err
	}
	return buf.Bytes(), m, nil
}

// walk visits every record at or below dir. A path may hold a record and
// children at the same time (lines/L1 next to customers/L1/...), so each
// node is both read and listed.
func (a *Archiver) walk(ctx context.Context, dir string, visit func(path string, data []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	names, err := a.store.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		path := ledger.JoinPath(dir, name)
		data, err := a.store.Read(ctx, path)
		if err != nil {
			return err
		}
		if data != nil {
			if err := visit(path, data); err != nil {
				return err
			}
		}
		if err := a.walk(ctx, path, visit); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every record an archive covers. Stores with their own Reset
// (sqlite, postgres) use it; others are cleared category by category.
func Clear(ctx context.Context, store ledger.RecordStore) error {
	if r, ok := store.(interface{ Reset(context.Context) error }); ok {
		return r.Reset(ctx)
	}
	for _, category := range Categories() {
		if err := ledger.DeleteTree(ctx, store, category); err != nil {
			return fmt.Errorf("clear %s: %w", category, err)
		}
	}
	return nil
}

// Replace clears store and restores the archive into it. The archive is
// opened and its manifest checked first, so an unreadable upload leaves
// the store untouched.
func Replace(ctx context.Context, store ledger.RecordStore, r io.ReaderAt, size int64) (Manifest, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Manifest{}, fmt.Errorf("open archive: %w", err)
	}
	if !hasManifest(zr) {
		return Manifest{}, ErrNoManifest
	}
	if err := Clear(ctx, store); err != nil {
		return Manifest{}, err
	}
	return Restore(ctx, store, r, size)
}

// ErrNoManifest marks a zip that was not written by Archiver.
var ErrNoManifest = errors.New("archive has no manifest")

func hasManifest(zr *zip.Reader) bool {
	for _, f := range zr.File {
		if f.Name == manifestName {
			return true
		}
	}
	return false
}

// Restore writes every record in the archive back to store and returns the
// archive's manifest.
func Restore(ctx context.Context, store ledger.RecordStore, r io.ReaderAt, size int64) (Manifest, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Manifest{}, fmt.Errorf("open archive: %w", err)
	}

	var m Manifest
	for _, f := range zr.File {
		data, err := readEntry(f)
		if err != nil {
			return Manifest{}, err
		}
		switch {
		case f.Name == manifestName:
			if err := json.Unmarshal(data, &m); err != nil {
				return Manifest{}, fmt.Errorf("decode manifest: %w", err)
			}
		case strings.HasPrefix(f.Name, recordsPrefix) && strings.HasSuffix(f.Name, ".json"):
			path := strings.TrimSuffix(strings.TrimPrefix(f.Name, recordsPrefix), ".json")
			if err := store.Write(ctx, path, data); err != nil {
				return Manifest{}, fmt.Errorf("restore %s: %w", path, err)
			}
		}
	}
	return m, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
