package backup

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vaultkeep/backupd/internal/errs"
)

// FSSource is a Source backed by a local directory tree.
type FSSource struct {
	Root string
}

// Enumerate walks s.Root and returns one Entry per regular file, with
// LogicalPath relative to the root using forward slashes regardless of the
// host path separator.
func (s FSSource) Enumerate() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(s.Root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			LogicalPath: filepath.ToSlash(rel),
			Meta:        metaFromFileInfo(info),
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "backup.FSSource.Enumerate", "walk source root", err).WithKey(s.Root)
	}
	return entries, nil
}

func metaFromFileInfo(info os.FileInfo) FileMeta {
	meta := FileMeta{Modified: info.ModTime().UTC()}
	if runtime.GOOS != "windows" {
		perm := uint32(info.Mode().Perm())
		meta.Mode = &perm
	}
	return meta
}
