package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/fsutil"
)

// Store is the durable, file-backed manifest catalog rooted at
// <root>/manifests. One manifest is one file: <id>.json, written via
// temp-then-rename so a reader never observes a partially written manifest.
type Store struct {
	dir string
}

// Open returns a Store rooted at <root>/manifests, creating the directory
// if necessary.
func Open(root string) (*Store, error) {
	dir := filepath.Join(root, "manifests")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "manifest.Open", "create manifests directory", err).WithKey(dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// PathFor exposes the on-disk path of a manifest file, for recovery's
// salvage pass which needs to read raw bytes of a manifest that failed to
// parse as JSON.
func (s *Store) PathFor(id string) string {
	return s.pathFor(id)
}

// Save serializes m to canonical JSON and publishes it atomically. The
// manifest becomes visible to List/Load only after the final rename
// succeeds; a crash mid-write leaves at most a stray .tmp-* file (its suffix
// is random, not the manifest id), never a half-written <id>.json.
func (s *Store) Save(m *Manifest) error {
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].LogicalPath < m.Files[j].LogicalPath
	})

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindIO, "manifest.Save", "marshal manifest", err).WithKey(m.ID)
	}

	if err := fsutil.WriteAtomic(s.pathFor(m.ID), b, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "manifest.Save", "write manifest", err).WithKey(m.ID)
	}
	return nil
}

// Load reads and parses the manifest with the given id.
func (s *Store) Load(id string) (*Manifest, error) {
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindNotFound, "manifest.Load", "manifest not found").WithKey(id)
		}
		return nil, errs.Wrap(errs.KindIO, "manifest.Load", "read manifest", err).WithKey(id)
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errs.Wrap(errs.KindInvalidManifest, "manifest.Load", "parse manifest JSON", err).WithKey(id)
	}
	if m.Version != CurrentVersion {
		return nil, errs.New(errs.KindInvalidManifest, "manifest.Load",
			fmt.Sprintf("unsupported manifest version %d", m.Version)).WithKey(id)
	}
	return &m, nil
}

// List enumerates manifest ids present in the store, by file name only: it
// does not parse the files, so an unparsable <id>.json is still listed and
// only a later Load reports it (as InvalidManifest). Recovery's salvage pass
// relies on this to find corrupted manifests.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindIO, "manifest.List", "read manifests directory", err).WithKey(s.dir)
	}

	var ids []string
	for _, ent := range entries {
		if ent.IsDir() || fsutil.IsTempName(ent.Name()) {
			continue
		}
		name := ent.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Latest returns the manifest with the greatest CreatedAt, breaking ties by
// id. It returns (nil, nil) if the store holds no manifests. Manifests
// that fail to load are skipped.
func (s *Store) Latest() (*Manifest, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	var best *Manifest
	for _, id := range ids {
		m, err := s.Load(id)
		if err != nil {
			continue
		}
		if best == nil ||
			m.CreatedAt.After(best.CreatedAt) ||
			(m.CreatedAt.Equal(best.CreatedAt) && m.ID > best.ID) {
			best = m
		}
	}
	return best, nil
}

// SweepStaleTemp removes .tmp-* files older than maxAge. A manifest save
// that crashed mid-write leaves one of these behind; List and Load never
// see it since it lacks the .json suffix.
func (s *Store) SweepStaleTemp(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindIO, "manifest.SweepStaleTemp", "read manifests directory", err).WithKey(s.dir)
	}
	for _, ent := range entries {
		if ent.IsDir() || !fsutil.IsTempName(ent.Name()) {
			continue
		}
		info, err := ent.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, ent.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Delete removes the manifest file for id. It does not touch any chunks
// the manifest referenced — those become orphans, recovery's concern.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "manifest.Delete", "remove manifest", err).WithKey(id)
	}
	return nil
}
