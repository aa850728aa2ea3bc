package manifest

import (
	"testing"
	"time"

	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
)

func newTestManifest(id string, created time.Time) *Manifest {
	return &Manifest{
		ID:         id,
		Version:    CurrentVersion,
		CreatedAt:  created,
		Label:      "test",
		SourceRoot: "/src",
		HashAlgo:   digest.Algo,
		ChunkSize:  2 << 20,
		Files: []FileRecord{
			{
				LogicalPath: "a.txt",
				Size:        13,
				Modified:    created,
				Chunks:      []digest.Digest{digest.Sum([]byte("Hello, world!"))},
				FileRoot:    digest.Sum([]byte("Hello, world!")),
				MerkleRoot:  digest.Sum([]byte("Hello, world!")),
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m := newTestManifest("m1", time.Now().UTC())
	if err := s.Save(m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("m1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != m.ID || got.Label != m.Label || len(got.Files) != 1 {
		t.Errorf("round-tripped manifest mismatch: %+v", got)
	}
	if got.Files[0].FileRoot != m.Files[0].FileRoot {
		t.Errorf("FileRoot mismatch: got %s want %s", got.Files[0].FileRoot, m.Files[0].FileRoot)
	}
}

func TestLoadNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = s.Load("nope")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m := newTestManifest("badver", time.Now().UTC())
	m.Version = 99
	if err := s.Save(m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err = s.Load("badver")
	if !errs.Is(err, errs.KindInvalidManifest) {
		t.Errorf("expected InvalidManifest for unknown version, got %v", err)
	}
}

func TestListReturnsSavedManifestID(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(newTestManifest("good", time.Now().UTC())); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != "good" {
		t.Errorf("List = %v, want [good]", ids)
	}
}

func TestLatestPicksGreatestCreatedAt(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Save(newTestManifest("old", base)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(newTestManifest("new", base.Add(time.Hour))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.ID != "new" {
		t.Errorf("Latest = %+v, want id=new", latest)
	}
}

func TestLatestTiesBrokenByID(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Save(newTestManifest("aaa", ts)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(newTestManifest("zzz", ts)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.ID != "zzz" {
		t.Errorf("Latest tie-break = %+v, want id=zzz (greatest id)", latest)
	}
}

func TestLatestEmptyStore(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Errorf("Latest on empty store = %+v, want nil", latest)
	}
}

func TestDeleteIsIdempotentAndLeavesChunksAlone(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(newTestManifest("gone", time.Now().UTC())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Errorf("second Delete returned error: %v", err)
	}
	if _, err := s.Load("gone"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}
