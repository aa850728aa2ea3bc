package restore

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/merkle"
)

// FileOutcome records what happened executing one action.
type FileOutcome struct {
	LogicalPath string
	Kind        ActionKind
	Err         error
}

// Result tallies an executed plan: how many files landed in each outcome,
// and the full list of per-file errors. An error on one file never aborts
// the others — restore is not transactional (spec §4.4, §5).
type Result struct {
	Written  int
	Skipped  int
	Failed   int
	Outcomes []FileOutcome
}

// Execute carries out every action in plan against chunks, applying
// opts.VerifyIntegrity and opts.PreservePermissions as configured.
func Execute(chunks *chunkstore.Store, plan *Plan, opts Options) (*Result, error) {
	res := &Result{}

	for _, action := range plan.Actions {
		outcome := FileOutcome{LogicalPath: action.File.LogicalPath, Kind: action.Kind}

		switch action.Kind {
		case ActionSkip, ActionMissingChunk:
			res.Skipped++
			if action.Kind == ActionMissingChunk {
				outcome.Err = errs.New(errs.KindNotFound, "restore.Execute", "referenced chunk missing from store").WithKey(action.File.LogicalPath)
				res.Failed++
				res.Skipped--
			}
		case ActionCreate, ActionOverwrite, ActionRename:
			dest := action.TargetPath
			if action.Kind == ActionRename {
				dest = action.RenamedPath
			}
			if err := writeFile(chunks, &action.File, dest, opts); err != nil {
				outcome.Err = err
				res.Failed++
			} else {
				res.Written++
			}
		}

		res.Outcomes = append(res.Outcomes, outcome)
	}

	return res, nil
}

// writeFile streams f's chunks into dest, optionally verifying file_root
// and merkle_root at EOF, and restores modified/mode metadata.
func writeFile(chunks *chunkstore.Store, f *manifest.FileRecord, dest string, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "restore.writeFile", "create parent directories", err).WithKey(dest)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindIO, "restore.writeFile", "open target for writing", err).WithKey(dest)
	}
	defer out.Close()

	fileHasher := digest.NewHasher()

	for _, d := range f.Chunks {
		b, err := chunks.Get(d)
		if err != nil {
			return errs.Wrap(errs.KindNotFound, "restore.writeFile", "read chunk", err).WithKey(f.LogicalPath)
		}
		if _, err := out.Write(b); err != nil {
			return errs.Wrap(errs.KindIO, "restore.writeFile", "write target", err).WithKey(dest)
		}
		if opts.VerifyIntegrity {
			fileHasher.Write(b)
		}
	}

	if opts.VerifyIntegrity {
		if got := fileHasher.Sum(); got != f.FileRoot {
			return errs.New(errs.KindIntegrity, "restore.writeFile", "restored bytes do not match file_root").WithKey(f.LogicalPath)
		}
		if got := merkle.Root(f.Chunks); got != f.MerkleRoot {
			return errs.New(errs.KindIntegrity, "restore.writeFile", "chunk list does not match merkle_root").WithKey(f.LogicalPath)
		}
	}

	if err := out.Close(); err != nil {
		return errs.Wrap(errs.KindIO, "restore.writeFile", "close target", err).WithKey(dest)
	}

	if err := os.Chtimes(dest, f.Modified, f.Modified); err != nil {
		return errs.Wrap(errs.KindIO, "restore.writeFile", "set modified time", err).WithKey(dest)
	}
	if opts.PreservePermissions && f.Mode != nil {
		if err := os.Chmod(dest, fs.FileMode(*f.Mode)); err != nil {
			return errs.Wrap(errs.KindIO, "restore.writeFile", "set permissions", err).WithKey(dest)
		}
	}

	return nil
}
