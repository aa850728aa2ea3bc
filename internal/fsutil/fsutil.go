// Package fsutil holds the atomic-write discipline shared by the chunk
// store, manifest store, and scheduler: write to a temp file in the target
// directory, fsync, then rename. Rename is atomic on POSIX filesystems, so
// readers never observe a half-written file.
package fsutil

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/vaultkeep/backupd/internal/errs"
)

// WriteAtomic writes data to path by first writing to a sibling temp file
// and renaming it into place. The temp file lives in the same directory as
// path so the rename stays on one filesystem.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "fsutil.WriteAtomic", "create directory", err).WithKey(dir)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%x", rand.Int63()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return errs.Wrap(errs.KindIO, "fsutil.WriteAtomic", "create temp file", err).WithKey(tmp)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, "fsutil.WriteAtomic", "write temp file", err).WithKey(tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, "fsutil.WriteAtomic", "fsync temp file", err).WithKey(tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, "fsutil.WriteAtomic", "close temp file", err).WithKey(tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, "fsutil.WriteAtomic", "rename into place", err).WithKey(path)
	}
	return nil
}

// IsTempName reports whether base (a file name, not a path) is one of the
// transient ".tmp-*" names WriteAtomic produces.
func IsTempName(base string) bool {
	return len(base) > 5 && base[:5] == ".tmp-"
}
