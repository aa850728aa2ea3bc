package backup

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/manifestindex"
)

type memSource struct {
	files map[string][]byte
}

func (m memSource) Enumerate() ([]Entry, error) {
	var out []Entry
	for path, data := range m.files {
		data := data
		out = append(out, Entry{
			LogicalPath: path,
			Meta:        FileMeta{Modified: time.Now().UTC()},
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		})
	}
	return out, nil
}

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	cs, err := chunkstore.Open(root)
	if err != nil {
		t.Fatalf("chunkstore.Open: %v", err)
	}
	ms, err := manifest.Open(root)
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	return New(cs, ms), root
}

// S1: single small file, one chunk, file_root == merkle_root == chunk digest.
func TestRun_SingleSmallFile(t *testing.T) {
	e, _ := newEngine(t)
	src := memSource{files: map[string][]byte{"a.txt": []byte("Hello, world!")}}

	m, err := e.Run(context.Background(), src, Options{Label: "s1", ChunkSize: 2 << 20})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(m.Files) != 1 {
		t.Fatalf("expected 1 file record, got %d", len(m.Files))
	}
	f := m.Files[0]
	if len(f.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(f.Chunks))
	}
	want := digest.Sum([]byte("Hello, world!"))
	if f.Chunks[0] != want || f.FileRoot != want || f.MerkleRoot != want {
		t.Errorf("expected file_root == merkle_root == chunk digest == %s, got chunk=%s file_root=%s merkle_root=%s",
			want, f.Chunks[0], f.FileRoot, f.MerkleRoot)
	}

	var count int
	if err := e.Chunks.List(func(digest.Digest) bool { count++; return true }); err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 1 {
		t.Errorf("expected chunk store to hold exactly 1 chunk, got %d", count)
	}
}

// S2: two identical 4 MiB files chunked at 2 MiB dedup to 1 unique chunk.
func TestRun_DedupAcrossIdenticalFiles(t *testing.T) {
	e, _ := newEngine(t)
	blob := bytes.Repeat([]byte("x"), 4<<20)
	src := memSource{files: map[string][]byte{
		"a.txt": blob,
		"b.txt": append([]byte(nil), blob...),
	}}

	m, err := e.Run(context.Background(), src, Options{Label: "s2", ChunkSize: 2 << 20})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(m.Files) != 2 {
		t.Fatalf("expected 2 file records, got %d", len(m.Files))
	}
	for _, f := range m.Files {
		if len(f.Chunks) != 2 {
			t.Errorf("expected 2 chunks per file, got %d for %s", len(f.Chunks), f.LogicalPath)
		}
	}

	var count int
	if err := e.Chunks.List(func(digest.Digest) bool { count++; return true }); err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 1 {
		t.Errorf("expected chunk store to hold exactly 1 unique chunk, got %d", count)
	}
}

// S3: empty file has an empty chunk list and file_root == merkle_root == digest("").
func TestRun_EmptyFile(t *testing.T) {
	e, _ := newEngine(t)
	src := memSource{files: map[string][]byte{"a.txt": {}}}

	m, err := e.Run(context.Background(), src, Options{Label: "s3", ChunkSize: 2 << 20})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f := m.Files[0]
	if len(f.Chunks) != 0 {
		t.Errorf("expected 0 chunks for empty file, got %d", len(f.Chunks))
	}
	empty := digest.Empty()
	if f.FileRoot != empty || f.MerkleRoot != empty {
		t.Errorf("expected file_root == merkle_root == digest(\"\"), got file_root=%s merkle_root=%s", f.FileRoot, f.MerkleRoot)
	}

	var count int
	if err := e.Chunks.List(func(digest.Digest) bool { count++; return true }); err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 0 {
		t.Errorf("expected chunk store untouched by an empty file, got %d chunks", count)
	}
}

func TestRun_PublishesManifestOnlyOnSuccess(t *testing.T) {
	e, _ := newEngine(t)
	src := memSource{files: map[string][]byte{"a.txt": []byte("ok")}}

	m, err := e.Run(context.Background(), src, Options{Label: "ok"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ids, err := e.Manifests.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != m.ID {
		t.Errorf("expected exactly the published manifest %s, got %v", m.ID, ids)
	}
}

func TestRun_RejectsPathTraversal(t *testing.T) {
	e, _ := newEngine(t)
	src := memSource{files: map[string][]byte{"../escape.txt": []byte("x")}}

	if _, err := e.Run(context.Background(), src, Options{Label: "bad"}); err == nil {
		t.Error("expected error for logical path containing ..")
	}
}

func TestRun_RejectsEmptyLabel(t *testing.T) {
	e, _ := newEngine(t)
	src := memSource{files: map[string][]byte{"a.txt": []byte("x")}}

	if _, err := e.Run(context.Background(), src, Options{}); err == nil {
		t.Error("expected error for an empty label")
	}
}

func TestPreflight_CountsFilesAndBytesWithoutTouchingChunkStore(t *testing.T) {
	e, _ := newEngine(t)
	src := memSource{files: map[string][]byte{
		"a.txt": []byte("Hello, world!"),
		"b.txt": bytes.Repeat([]byte("y"), 100),
	}}

	report, err := Preflight(src)
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if report.FileCount != 2 {
		t.Errorf("expected 2 files, got %d", report.FileCount)
	}
	if report.ByteTotal != 113 {
		t.Errorf("expected 113 total bytes, got %d", report.ByteTotal)
	}

	var count int
	if err := e.Chunks.List(func(digest.Digest) bool { count++; return true }); err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 0 {
		t.Errorf("expected Preflight to write no chunks, got %d", count)
	}
}

func TestRun_UpsertsIntoCatalogIndexWhenSet(t *testing.T) {
	e, root := newEngine(t)
	idx, err := manifestindex.Open(root + "/index.db")
	if err != nil {
		t.Fatalf("manifestindex.Open: %v", err)
	}
	defer idx.Close()
	e.Index = idx

	src := memSource{files: map[string][]byte{"a.txt": []byte("indexed")}}
	m, err := e.Run(context.Background(), src, Options{Label: "indexed"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	summary, err := idx.Get(m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if summary.Label != "indexed" || summary.FileCount != 1 {
		t.Errorf("expected catalog row for the published manifest, got %+v", summary)
	}
}
