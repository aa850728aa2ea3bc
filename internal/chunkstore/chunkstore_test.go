package chunkstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	data := []byte("Hello, world!")
	d, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(d)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func TestPutIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	data := []byte("repeat me")
	d1, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	d2, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digests differ across repeated puts: %s vs %s", d1, d2)
	}

	var count int
	if err := s.List(func(digest.Digest) bool { count++; return true }); err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly 1 stored chunk after repeated put, got %d", count)
	}
}

func TestGetNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = s.Get(digest.Sum([]byte("never written")))
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestGetIntegrityMismatch(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	d, err := s.Put([]byte("original bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Corrupt the chunk on disk directly.
	path := s.pathFor(d)
	if err := os.WriteFile(path, []byte("tampered bytes!!"), 0o644); err != nil {
		t.Fatalf("tamper write: %v", err)
	}

	_, err = s.Get(d)
	if !errs.Is(err, errs.KindIntegrity) {
		t.Errorf("expected Integrity error after tampering, got %v", err)
	}
}

func TestHasAndDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d, err := s.Put([]byte("to be deleted"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Has(d) {
		t.Fatal("Has returned false right after Put")
	}
	if err := s.Delete(d); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Has(d) {
		t.Error("Has returned true after Delete")
	}
	// Idempotent: deleting again is not an error.
	if err := s.Delete(d); err != nil {
		t.Errorf("second Delete returned error: %v", err)
	}
}

func TestEmptyChunkIsValid(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d, err := s.Put(nil)
	if err != nil {
		t.Fatalf("Put(nil): %v", err)
	}
	if d != digest.Empty() {
		t.Errorf("Put(nil) digest = %s, want digest of empty bytes %s", d, digest.Empty())
	}
	got, err := s.Get(d)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected zero-length chunk, got %d bytes", len(got))
	}
}

func TestShardLayout(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d, err := s.Put([]byte("shard me"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	want := filepath.Join(root, "chunks", d.String()[:2], d.String()[2:])
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected chunk at sharded path %s: %v", want, err)
	}
}

func TestStaleTempSweep(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	shardDir := filepath.Join(s.Root(), "ab")
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	tmpPath := filepath.Join(shardDir, ".tmp-stale")
	if err := os.WriteFile(tmpPath, []byte("leftover"), 0o644); err != nil {
		t.Fatalf("write stale temp: %v", err)
	}

	removed, err := s.SweepStaleTemp(0)
	if err != nil {
		t.Fatalf("SweepStaleTemp: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Error("stale temp file was not removed")
	}
}
