// Package chunkstore implements the content-addressed filesystem blob store
// described in spec §4.1: chunks live under <root>/chunks/<xx>/<rest>,
// sharded by the first two hex characters of their digest, written via
// temp-then-rename so a reader never observes a partial chunk.
package chunkstore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/fsutil"
)

// Store is a content-addressed chunk store rooted at a directory.
type Store struct {
	root string // <root>/chunks
}

// Open returns a Store rooted at <root>/chunks, creating the directory if
// necessary.
func Open(root string) (*Store, error) {
	dir := filepath.Join(root, "chunks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "chunkstore.Open", "create chunks directory", err).WithKey(dir)
	}
	return &Store{root: dir}, nil
}

func (s *Store) pathFor(d digest.Digest) string {
	hex := d.String()
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Put writes b to the store under its digest, returning the digest. If the
// target path already exists the write is skipped (put is idempotent) and
// no error is possible from a duplicate.
func (s *Store) Put(b []byte) (digest.Digest, error) {
	d := digest.Sum(b)
	path := s.pathFor(d)
	if _, err := os.Stat(path); err == nil {
		return d, nil
	} else if !os.IsNotExist(err) {
		return d, errs.Wrap(errs.KindIO, "chunkstore.Put", "stat existing chunk", err).WithKey(d.String())
	}

	if err := fsutil.WriteAtomic(path, b, 0o644); err != nil {
		return d, errs.Wrap(errs.KindIO, "chunkstore.Put", "write chunk", err).WithKey(d.String())
	}
	return d, nil
}

// Get reads the chunk for d, verifying its bytes hash back to d.
func (s *Store) Get(d digest.Digest) ([]byte, error) {
	path := s.pathFor(d)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindNotFound, "chunkstore.Get", "chunk not found").WithKey(d.String())
		}
		return nil, errs.Wrap(errs.KindIO, "chunkstore.Get", "read chunk", err).WithKey(d.String())
	}
	if got := digest.Sum(b); got != d {
		return nil, errs.New(errs.KindIntegrity, "chunkstore.Get", "chunk bytes do not match their digest").WithKey(d.String())
	}
	return b, nil
}

// Has checks path existence only — it does not verify contents.
func (s *Store) Has(d digest.Digest) bool {
	_, err := os.Stat(s.pathFor(d))
	return err == nil
}

// Stat returns the stored size of a chunk without reading or verifying its
// contents.
func (s *Store) Stat(d digest.Digest) (int64, error) {
	fi, err := os.Stat(s.pathFor(d))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.New(errs.KindNotFound, "chunkstore.Stat", "chunk not found").WithKey(d.String())
		}
		return 0, errs.Wrap(errs.KindIO, "chunkstore.Stat", "stat chunk", err).WithKey(d.String())
	}
	return fi.Size(), nil
}

// Delete removes a chunk if present; it is idempotent.
func (s *Store) Delete(d digest.Digest) error {
	if err := os.Remove(s.pathFor(d)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "chunkstore.Delete", "remove chunk", err).WithKey(d.String())
	}
	return nil
}

// List walks the shard directories and yields every well-formed digest via
// fn. Non-conforming filenames (including transient .tmp-* files) are
// skipped silently. Iteration stops early if fn returns false.
func (s *Store) List(fn func(digest.Digest) bool) error {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindIO, "chunkstore.List", "read shard root", err).WithKey(s.root)
	}

	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return errs.Wrap(errs.KindIO, "chunkstore.List", "read shard", err).WithKey(shard.Name())
		}
		for _, ent := range entries {
			if ent.IsDir() || fsutil.IsTempName(ent.Name()) {
				continue
			}
			d, err := digest.Parse(shard.Name() + ent.Name())
			if err != nil {
				continue // non-conforming filename; skip
			}
			if !fn(d) {
				return nil
			}
		}
	}
	return nil
}

// ChunkInfo describes one chunk found during a listing that needs size and
// mtime, e.g. for orphan reports.
type ChunkInfo struct {
	Digest  digest.Digest
	Size    int64
	ModTime time.Time
}

// ListInfo is List but also returns size and mtime per chunk, used by
// recovery's orphan report.
func (s *Store) ListInfo(fn func(ChunkInfo) bool) error {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindIO, "chunkstore.ListInfo", "read shard root", err).WithKey(s.root)
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(s.root, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return errs.Wrap(errs.KindIO, "chunkstore.ListInfo", "read shard", err).WithKey(shard.Name())
		}
		for _, ent := range entries {
			if ent.IsDir() || fsutil.IsTempName(ent.Name()) {
				continue
			}
			d, err := digest.Parse(shard.Name() + ent.Name())
			if err != nil {
				continue
			}
			info, err := ent.Info()
			if err != nil {
				continue
			}
			if !fn(ChunkInfo{Digest: d, Size: info.Size(), ModTime: info.ModTime()}) {
				return nil
			}
		}
	}
	return nil
}

// SweepStaleTemp removes .tmp-* files older than maxAge, across all shards.
// Used by recovery to clean up after a crash mid-write.
func (s *Store) SweepStaleTemp(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	shards, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindIO, "chunkstore.SweepStaleTemp", "read shard root", err).WithKey(s.root)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.root, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasPrefix(ent.Name(), ".tmp-") {
				continue
			}
			info, err := ent.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(shardDir, ent.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Root returns the chunk store's root directory (<config root>/chunks).
func (s *Store) Root() string { return s.root }
