// Package recovery implements the Recovery Engine: orphan chunk detection
// and cleanup, snapshot salvage from partially readable manifests, and
// snapshot validation against the chunk store.
package recovery

import (
	"bytes"
	"os"
	"time"

	"github.com/vaultkeep/backupd/internal/chunkcache"
	"github.com/vaultkeep/backupd/internal/chunkstore"
	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
	"github.com/vaultkeep/backupd/internal/manifest"
	"github.com/vaultkeep/backupd/internal/merkle"
)

// Engine bundles the stores the recovery operations read and mutate.
type Engine struct {
	Chunks    *chunkstore.Store
	Manifests *manifest.Store

	// Cache, if set, accelerates DetectOrphansCached by letting it skip
	// reloading and reparsing every manifest file when the cache's last
	// rebuild is still within maxCacheAge. A nil Cache makes
	// DetectOrphansCached behave exactly like DetectOrphans.
	Cache *chunkcache.Cache
}

func New(chunks *chunkstore.Store, manifests *manifest.Store) *Engine {
	return &Engine{Chunks: chunks, Manifests: manifests}
}

// OrphanInfo describes one chunk found in the store with no referencing
// manifest.
type OrphanInfo struct {
	Digest  digest.Digest
	Size    int64
	ModTime time.Time
}

// SizeBucket labels for the orphan report's size histogram.
const (
	BucketUpTo1KiB   = "<=1KiB"
	BucketUpTo10KiB  = "<=10KiB"
	BucketUpTo100KiB = "<=100KiB"
	BucketUpTo1MiB   = "<=1MiB"
	BucketOver1MiB   = ">1MiB"
)

// OrphanReport is the result of a detect-orphans scan.
type OrphanReport struct {
	Count     int
	TotalSize int64
	ByBucket  map[string]int
	Orphans   []OrphanInfo
}

func sizeBucket(size int64) string {
	switch {
	case size <= 1<<10:
		return BucketUpTo1KiB
	case size <= 10<<10:
		return BucketUpTo10KiB
	case size <= 100<<10:
		return BucketUpTo100KiB
	case size <= 1<<20:
		return BucketUpTo1MiB
	default:
		return BucketOver1MiB
	}
}

// DetectOrphans computes referenced = union of every loadable manifest's
// chunk list, then reports every chunk store entry not in that set.
// Manifests that fail to load are skipped here (salvage handles those
// separately), so chunks referenced only by such a manifest are reported
// as orphans; CleanupOrphans deletes nothing without explicit confirmation.
func (e *Engine) DetectOrphans() (*OrphanReport, error) {
	referenced, err := e.computeReferenced()
	if err != nil {
		return nil, err
	}
	if e.Cache != nil {
		if err := e.Cache.Rebuild(digestSlice(referenced)); err != nil {
			return nil, err
		}
	}
	return e.reportAgainst(referenced)
}

// DetectOrphansCached behaves exactly like DetectOrphans, except when a
// Cache is set and its last rebuild is within maxCacheAge: in that case the
// referenced set comes from the cache instead of reloading and reparsing
// every manifest file. The chunk store listing itself is always walked
// fresh — the cache only ever substitutes for the manifest scan, never for
// ground truth about what the store actually holds.
func (e *Engine) DetectOrphansCached(maxCacheAge time.Duration) (*OrphanReport, error) {
	if e.Cache == nil {
		return e.DetectOrphans()
	}

	gen, err := e.Cache.Generation()
	if err != nil {
		return nil, err
	}
	if gen == 0 || time.Since(time.Unix(int64(gen), 0)) > maxCacheAge {
		return e.DetectOrphans()
	}

	report := &OrphanReport{ByBucket: make(map[string]int)}
	err = e.Chunks.ListInfo(func(info chunkstore.ChunkInfo) bool {
		if e.Cache.IsReferenced(info.Digest) {
			return true
		}
		report.Count++
		report.TotalSize += info.Size
		report.ByBucket[sizeBucket(info.Size)]++
		report.Orphans = append(report.Orphans, OrphanInfo{
			Digest: info.Digest, Size: info.Size, ModTime: info.ModTime,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Engine) computeReferenced() (map[digest.Digest]struct{}, error) {
	ids, err := e.Manifests.List()
	if err != nil {
		return nil, err
	}
	referenced := make(map[digest.Digest]struct{})
	for _, id := range ids {
		m, err := e.Manifests.Load(id)
		if err != nil {
			continue
		}
		for d := range m.ReferencedDigests() {
			referenced[d] = struct{}{}
		}
	}
	return referenced, nil
}

func (e *Engine) reportAgainst(referenced map[digest.Digest]struct{}) (*OrphanReport, error) {
	report := &OrphanReport{ByBucket: make(map[string]int)}
	err := e.Chunks.ListInfo(func(info chunkstore.ChunkInfo) bool {
		if _, ok := referenced[info.Digest]; ok {
			return true
		}
		report.Count++
		report.TotalSize += info.Size
		report.ByBucket[sizeBucket(info.Size)]++
		report.Orphans = append(report.Orphans, OrphanInfo{
			Digest: info.Digest, Size: info.Size, ModTime: info.ModTime,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func digestSlice(set map[digest.Digest]struct{}) []digest.Digest {
	out := make([]digest.Digest, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// SweepStaleTemps removes abandoned .tmp-* files older than maxAge from both
// the chunk store's shards and the manifest store — debris left behind by a
// process that crashed mid-write.
func (e *Engine) SweepStaleTemps(maxAge time.Duration) (int, error) {
	chunksRemoved, err := e.Chunks.SweepStaleTemp(maxAge)
	if err != nil {
		return chunksRemoved, err
	}
	manifestsRemoved, err := e.Manifests.SweepStaleTemp(maxAge)
	return chunksRemoved + manifestsRemoved, err
}

// CleanupResult is the outcome of an orphan sweep.
type CleanupResult struct {
	ChunksRemoved int
	BytesFreed    int64
	Errors        []error
}

// CleanupOrphans deletes every chunk in report. It refuses to run unless
// confirmed is true.
func (e *Engine) CleanupOrphans(report *OrphanReport, confirmed bool) (*CleanupResult, error) {
	if !confirmed {
		return nil, errs.New(errs.KindConfig, "recovery.CleanupOrphans", "refusing to delete orphans without explicit confirmation")
	}

	res := &CleanupResult{}
	for _, o := range report.Orphans {
		if err := e.Chunks.Delete(o.Digest); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.ChunksRemoved++
		res.BytesFreed += o.Size
	}
	return res, nil
}

// SalvageRecord describes one manifest file found during a salvage scan.
type SalvageRecord struct {
	ID        string
	Label     string
	CreatedAt time.Time
	FileCount int
	Corrupted bool
}

// Salvage enumerates every manifest file (including ones List's normal
// filters would tolerate) and attempts to load each. Files that parse
// cleanly are reported as-is; files that fail to parse get a heuristic
// partial record — a corrupted manifest is never deleted here, only
// reported, so the operator can decide.
func (e *Engine) Salvage() ([]SalvageRecord, error) {
	ids, err := e.Manifests.List()
	if err != nil {
		return nil, err
	}

	var out []SalvageRecord
	for _, id := range ids {
		m, err := e.Manifests.Load(id)
		if err == nil {
			out = append(out, SalvageRecord{
				ID:        m.ID,
				Label:     m.Label,
				CreatedAt: m.CreatedAt,
				FileCount: len(m.Files),
				Corrupted: false,
			})
			continue
		}

		raw, readErr := os.ReadFile(e.manifestRawPath(id))
		fileCount := 0
		if readErr == nil {
			fileCount = bytes.Count(raw, []byte(`"logical_path"`))
		}
		out = append(out, SalvageRecord{
			ID:        id,
			FileCount: fileCount,
			Corrupted: true,
		})
	}
	return out, nil
}

func (e *Engine) manifestRawPath(id string) string {
	return e.Manifests.PathFor(id)
}

// FileValidationErrorKind classifies one file record's validation failure.
type FileValidationErrorKind int

const (
	MissingChunk FileValidationErrorKind = iota
	MerkleMismatch
	ChunkHashMismatch
)

func (k FileValidationErrorKind) String() string {
	switch k {
	case MissingChunk:
		return "missing_chunk"
	case MerkleMismatch:
		return "merkle_mismatch"
	case ChunkHashMismatch:
		return "chunk_hash_mismatch"
	default:
		return "unknown"
	}
}

// FileValidationError is one typed failure found validating a file record.
type FileValidationError struct {
	LogicalPath string
	Kind        FileValidationErrorKind
	Detail      string
}

// SnapshotValidation is the raw per-file result of ValidateSnapshot. A
// ValidationReport (signing.go) can be derived from it for archiving or
// handing to an auditor.
type SnapshotValidation struct {
	ManifestID string
	FilesOK    int
	FilesBad   int
	Errors     []FileValidationError
}

// ValidateSnapshot checks every file record in the given manifest: cheap
// existence checks for every referenced chunk, then a merkle_root
// recomputation; if deepVerify is set, it also refetches and rehashes
// every chunk's stored bytes against file_root.
func (e *Engine) ValidateSnapshot(id string, deepVerify bool) (*SnapshotValidation, error) {
	m, err := e.Manifests.Load(id)
	if err != nil {
		return nil, err
	}

	result := &SnapshotValidation{ManifestID: id}

	for _, f := range m.Files {
		var missing []digest.Digest
		for _, d := range f.Chunks {
			if !e.Chunks.Has(d) {
				missing = append(missing, d)
			}
		}
		if len(missing) > 0 {
			result.FilesBad++
			for _, d := range missing {
				result.Errors = append(result.Errors, FileValidationError{
					LogicalPath: f.LogicalPath, Kind: MissingChunk, Detail: d.String(),
				})
			}
			continue
		}

		if got := merkle.Root(f.Chunks); got != f.MerkleRoot {
			result.FilesBad++
			result.Errors = append(result.Errors, FileValidationError{
				LogicalPath: f.LogicalPath, Kind: MerkleMismatch,
				Detail: "computed " + got.String() + " != recorded " + f.MerkleRoot.String(),
			})
			continue
		}

		if deepVerify {
			fileHasher := digest.NewHasher()
			bad := false
			for _, d := range f.Chunks {
				b, err := e.Chunks.Get(d)
				if err != nil {
					result.Errors = append(result.Errors, FileValidationError{
						LogicalPath: f.LogicalPath, Kind: ChunkHashMismatch, Detail: err.Error(),
					})
					bad = true
					break
				}
				fileHasher.Write(b)
			}
			if bad {
				result.FilesBad++
				continue
			}
			if got := fileHasher.Sum(); got != f.FileRoot {
				result.FilesBad++
				result.Errors = append(result.Errors, FileValidationError{
					LogicalPath: f.LogicalPath, Kind: ChunkHashMismatch,
					Detail: "recomputed file_root " + got.String() + " != recorded " + f.FileRoot.String(),
				})
				continue
			}
		}

		result.FilesOK++
	}

	return result, nil
}
