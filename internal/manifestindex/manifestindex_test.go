package manifestindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/manifest"
)

func newManifest(id, label string, created time.Time) *manifest.Manifest {
	return &manifest.Manifest{
		ID:         id,
		Version:    manifest.CurrentVersion,
		CreatedAt:  created,
		Label:      label,
		SourceRoot: "/src",
		HashAlgo:   digest.Algo,
		ChunkSize:  2 << 20,
		Files: []manifest.FileRecord{
			{LogicalPath: "a.txt", Size: 5, Chunks: []digest.Digest{digest.Sum([]byte("hello"))}},
		},
	}
}

func TestUpsertAndGet(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	m := newManifest("m1", "nightly", time.Now().UTC())
	if err := idx.Upsert(m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Get("m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Label != "nightly" || got.FileCount != 1 {
		t.Errorf("Get = %+v, want label=nightly file_count=1", got)
	}
}

func TestGetNotFound(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	_, err = idx.Get("missing")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	m := newManifest("m1", "nightly", time.Now().UTC())
	if err := idx.Upsert(m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Remove("m1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := idx.Get("m1"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound after Remove, got %v", err)
	}
	// Idempotent.
	if err := idx.Remove("m1"); err != nil {
		t.Errorf("second Remove returned error: %v", err)
	}
}

func TestListOrderedByCreatedAtDescending(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := idx.Upsert(newManifest("old", "a", base)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert(newManifest("new", "b", base.Add(time.Hour))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rows, err := idx.List(10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "new" || rows[1].ID != "old" {
		t.Errorf("List = %+v, want [new, old]", rows)
	}
}

func TestRebuildFromManifestStore(t *testing.T) {
	root := t.TempDir()
	store, err := manifest.Open(root)
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	if err := store.Save(newManifest("m1", "a", time.Now().UTC())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(newManifest("m2", "b", time.Now().UTC())); err != nil {
		t.Fatalf("Save: %v", err)
	}

	idx, err := Open(filepath.Join(root, "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	if err := idx.Rebuild(store); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	rows, err := idx.List(10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows after rebuild, got %d", len(rows))
	}
}
