// Package manifestindex maintains a SQLite-backed catalog of manifest
// summaries for fast listing and lookup by label or creation time. It is a
// derived accelerator only: the manifest store's JSON files under
// <root>/manifests are ground truth, and the index can be rebuilt from them
// by an explicit call to Rebuild. Nothing rebuilds it automatically, and a
// failure to open or update index.db is returned to the caller as an error.
package manifestindex

import (
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/manifest"
)

// Index is a catalog of manifest summaries. It holds only the rows written
// by Upsert or Rebuild; a lookup never falls through to the manifest store.
type Index struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens (creating if necessary) the catalog database at dbPath;
// callers use <root>/index.db.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "manifestindex.Open", "open database", err).WithKey(dbPath)
	}
	db.SetMaxOpenConns(1) // single-writer: sqlite file, avoid lock contention

	idx := &Index{db: db, path: dbPath}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS manifests (
			id           TEXT PRIMARY KEY,
			label        TEXT NOT NULL,
			source_root  TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			file_count   INTEGER NOT NULL,
			byte_total   INTEGER NOT NULL,
			chunk_count  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_manifests_created ON manifests(created_at);
		CREATE INDEX IF NOT EXISTS idx_manifests_label ON manifests(label);
	`
	if _, err := idx.db.Exec(schema); err != nil {
		return errs.Wrap(errs.KindIO, "manifestindex.initSchema", "create schema", err).WithKey(idx.path)
	}

	var version int
	err := idx.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := idx.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return errs.Wrap(errs.KindIO, "manifestindex.initSchema", "stamp schema version", err)
		}
	} else if err != nil {
		return errs.Wrap(errs.KindIO, "manifestindex.initSchema", "query schema version", err)
	}
	return nil
}

// Summary is the subset of a manifest's fields the catalog keeps.
type Summary struct {
	ID         string
	Label      string
	SourceRoot string
	CreatedAt  time.Time
	FileCount  int
	ByteTotal  int64
	ChunkCount int
}

// Upsert records or replaces the catalog row for m. Called after every
// successful manifest.Store.Save.
func (idx *Index) Upsert(m *manifest.Manifest) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stats := m.ComputeStats()
	const query = `
		INSERT INTO manifests (id, label, source_root, created_at, file_count, byte_total, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			source_root = excluded.source_root,
			created_at = excluded.created_at,
			file_count = excluded.file_count,
			byte_total = excluded.byte_total,
			chunk_count = excluded.chunk_count
	`
	_, err := idx.db.Exec(query, m.ID, m.Label, m.SourceRoot, m.CreatedAt, stats.FileCount, stats.ByteTotal, stats.UniqueChunks)
	if err != nil {
		return errs.Wrap(errs.KindIO, "manifestindex.Upsert", "upsert manifest row", err).WithKey(m.ID)
	}
	return nil
}

// Remove deletes the catalog row for id. Called after manifest.Store.Delete;
// idempotent.
func (idx *Index) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, err := idx.db.Exec("DELETE FROM manifests WHERE id = ?", id); err != nil {
		return errs.Wrap(errs.KindIO, "manifestindex.Remove", "delete manifest row", err).WithKey(id)
	}
	return nil
}

// List returns catalog summaries ordered by created_at descending.
func (idx *Index) List(limit, offset int) ([]Summary, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rows, err := idx.db.Query(
		"SELECT id, label, source_root, created_at, file_count, byte_total, chunk_count FROM manifests ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "manifestindex.List", "query manifests", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Label, &s.SourceRoot, &s.CreatedAt, &s.FileCount, &s.ByteTotal, &s.ChunkCount); err != nil {
			return nil, errs.Wrap(errs.KindIO, "manifestindex.List", "scan row", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Get returns the catalog summary for id, or errs.KindNotFound if absent
// from the index (not necessarily absent from the manifest store — the
// caller should fall back to a rescan).
func (idx *Index) Get(id string) (Summary, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var s Summary
	row := idx.db.QueryRow(
		"SELECT id, label, source_root, created_at, file_count, byte_total, chunk_count FROM manifests WHERE id = ?", id,
	)
	err := row.Scan(&s.ID, &s.Label, &s.SourceRoot, &s.CreatedAt, &s.FileCount, &s.ByteTotal, &s.ChunkCount)
	if err == sql.ErrNoRows {
		return Summary{}, errs.New(errs.KindNotFound, "manifestindex.Get", "manifest not in catalog").WithKey(id)
	}
	if err != nil {
		return Summary{}, errs.Wrap(errs.KindIO, "manifestindex.Get", "query manifest row", err).WithKey(id)
	}
	return s, nil
}

// Rebuild truncates the catalog and reinserts one row per manifest served
// by store. Used when index.db is missing, corrupt, or suspected stale
// relative to the manifest store.
func (idx *Index) Rebuild(store *manifest.Store) error {
	ids, err := store.List()
	if err != nil {
		return err
	}

	idx.mu.Lock()
	if _, err := idx.db.Exec("DELETE FROM manifests"); err != nil {
		idx.mu.Unlock()
		return errs.Wrap(errs.KindIO, "manifestindex.Rebuild", "clear catalog", err)
	}
	idx.mu.Unlock()

	// Manifests that fail to load are skipped, not reported: a broken
	// manifest file is recovery's concern (salvage), not the catalog's.
	for _, id := range ids {
		m, err := store.Load(id)
		if err != nil {
			continue
		}
		if err := idx.Upsert(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	if idx.db != nil {
		return idx.db.Close()
	}
	return nil
}
