// Package backup implements the Backup Engine: it walks a source adapter,
// splits each file into fixed-size chunks, writes unique chunks to a chunk
// store, computes per-file Merkle roots, and publishes one manifest per
// run — or fails without publishing anything.
package backup

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/manifestindex"
	"github.com/vaultkeep/backupd/internal/merkle"
	"github.com/vaultkeep/backupd/internal/validation"
)

// DefaultChunkSize matches the chunk size spec §3 recommends for v1.
const DefaultChunkSize = 2 << 20 // 2 MiB

// Options configures one backup run.
type Options struct {
	Label      string
	SourceRoot string
	ChunkSize  int64 // defaults to DefaultChunkSize if <= 0
	Workers    int   // defaults to 4 if <= 0
}

// Engine ties a chunk store and manifest store together to run backups.
type Engine struct {
	Chunks    *chunkstore.Store
	Manifests *manifest.Store

	// Index, if set, is kept in sync with every published manifest so
	// listing/lookup by catalog tools never needs to open every JSON file.
	// A nil Index disables the catalog write entirely.
	Index *manifestindex.Index
}

// New returns an Engine over the given stores.
func New(chunks *chunkstore.Store, manifests *manifest.Store) *Engine {
	return &Engine{Chunks: chunks, Manifests: manifests}
}

// Run walks src, chunks every file, and publishes a manifest on success. On
// any per-file error it aborts and returns without publishing — chunks
// already written are left in place as benign, content-addressed orphans.
func (e *Engine) Run(ctx context.Context, src Source, opts Options) (*manifest.Manifest, error) {
	if err := validation.ValidateStringNonEmpty(opts.Label); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "backup.Run", "label", err)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	if err := validation.ValidateRangeInt(workers, 1, 1024); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "backup.Run", "workers", err)
	}

	entries, err := src.Enumerate()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "backup.Run", "enumerate source", err)
	}

	records := make([]manifest.FileRecord, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, entry := range entries {
		i, entry := i, entry
		if err := validateLogicalPath(entry.LogicalPath); err != nil {
			return nil, err
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			rec, err := e.processFile(entry, chunkSize)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if err == context.Canceled {
			return nil, errs.New(errs.KindCancelled, "backup.Run", "backup cancelled")
		}
		return nil, err
	}

	m := &manifest.Manifest{
		ID:         uuid.New().String(),
		Version:    manifest.CurrentVersion,
		Label:      opts.Label,
		SourceRoot: opts.SourceRoot,
		HashAlgo:   digest.Algo,
		ChunkSize:  chunkSize,
		Files:      records,
	}
	m.CreatedAt = time.Now().UTC()

	if err := e.Manifests.Save(m); err != nil {
		return nil, err
	}
	if e.Index != nil {
		if err := e.Index.Upsert(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// PreflightReport summarizes a backup run's scope before any chunk is
// written: how many files and how many bytes Run would process.
type PreflightReport struct {
	FileCount int
	ByteTotal int64
}

// Preflight enumerates src and totals file count and byte size without
// writing anything to the chunk store, per
// original_source/nova-backup/src/planner.rs's precompute-before-work step.
// It is purely informational: Run does not consult it, and Run's outcome is
// identical whether or not Preflight was called first.
func Preflight(src Source) (*PreflightReport, error) {
	entries, err := src.Enumerate()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "backup.Preflight", "enumerate source", err)
	}

	report := &PreflightReport{FileCount: len(entries)}
	for _, entry := range entries {
		rc, err := entry.Open()
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, "backup.Preflight", "open source file", err).WithKey(entry.LogicalPath)
		}
		n, err := io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, "backup.Preflight", "read source file", err).WithKey(entry.LogicalPath)
		}
		report.ByteTotal += n
	}
	return report, nil
}

// processFile performs the per-file algorithm in spec §4.3: a sequential
// chunk pass over one file's bytes, producing its File Record. Per-file
// chunking cannot be parallelized — chunks must be produced, and therefore
// observed by the rolling file-wide hasher, in byte order.
func (e *Engine) processFile(entry Entry, chunkSize int64) (manifest.FileRecord, error) {
	rc, err := entry.Open()
	if err != nil {
		return manifest.FileRecord{}, errs.Wrap(errs.KindIO, "backup.processFile", "open source file", err).WithKey(entry.LogicalPath)
	}
	defer rc.Close()

	fileHasher := digest.NewHasher()
	var chunks []digest.Digest
	var size int64

	buf := make([]byte, chunkSize)
	for {
		n, readErr := io.ReadFull(rc, buf)
		if n > 0 {
			window := buf[:n]
			d, err := e.Chunks.Put(window)
			if err != nil {
				return manifest.FileRecord{}, errs.Wrap(errs.KindIO, "backup.processFile", "write chunk", err).WithKey(entry.LogicalPath)
			}
			chunks = append(chunks, d)
			fileHasher.Write(window)
			size += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return manifest.FileRecord{}, errs.Wrap(errs.KindIO, "backup.processFile", "read source file", readErr).WithKey(entry.LogicalPath)
		}
	}

	return manifest.FileRecord{
		LogicalPath: entry.LogicalPath,
		Size:        size,
		Modified:    entry.Meta.Modified,
		Mode:        entry.Meta.Mode,
		Chunks:      chunks,
		FileRoot:    fileHasher.Sum(),
		MerkleRoot:  merkle.Root(chunks),
	}, nil
}

func validateLogicalPath(p string) error {
	if p == "" {
		return errs.New(errs.KindConfig, "backup.validateLogicalPath", "logical path must not be empty")
	}
	if strings.HasPrefix(p, "/") {
		return errs.New(errs.KindConfig, "backup.validateLogicalPath", "logical path must not be absolute").WithKey(p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return errs.New(errs.KindConfig, "backup.validateLogicalPath", "logical path must not contain ..").WithKey(p)
		}
	}
	return nil
}
