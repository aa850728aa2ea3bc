// Package manifest defines the File Record / Manifest data model and the
// durable, file-backed manifest store described in spec §3, §4.2, and §6.
package manifest

import (
	"time"

	"github.com/vaultkeep/backupd/internal/digest"
)

// CurrentVersion is the schema version this implementation writes and the
// only version it accepts on load.
const CurrentVersion = 1

// FileRecord describes one source file captured by a backup run. Chunks
// lists the file's content chunks in byte order; FileRoot is a direct
// content digest of the whole file; MerkleRoot is the binary Merkle root
// computed over Chunks. The two roots catch different failure modes: a
// wrong chunk boundary can still reproduce FileRoot while moving
// MerkleRoot, and vice versa.
type FileRecord struct {
	LogicalPath string          `json:"logical_path"`
	Size        int64           `json:"size"`
	Modified    time.Time       `json:"modified"`
	Mode        *uint32         `json:"mode,omitempty"`
	Chunks      []digest.Digest `json:"chunks"`
	FileRoot    digest.Digest   `json:"file_root"`
	MerkleRoot  digest.Digest   `json:"merkle_root"`
}

// Manifest is a durable record of one backup run: an id, creation time,
// human label, the source root it was taken from, and the ordered list of
// file records it contains.
type Manifest struct {
	ID         string       `json:"id"`
	Version    int          `json:"version"`
	CreatedAt  time.Time    `json:"created_at"`
	Label      string       `json:"label"`
	SourceRoot string       `json:"source_root"`
	HashAlgo   string       `json:"hash_algo"`
	ChunkSize  int64        `json:"chunk_size"`
	Files      []FileRecord `json:"files"`
}

// Stats are derived counts over a manifest's file records. They are never
// persisted to disk (spec §6: "the engine writes only the fields above") —
// always recomputed from Files so they can never drift from the source of
// truth.
type Stats struct {
	FileCount    int
	ByteTotal    int64
	UniqueChunks int
}

// ComputeStats derives file count, byte total, and unique chunk count from
// m.Files.
func (m *Manifest) ComputeStats() Stats {
	seen := make(map[digest.Digest]struct{})
	var byteTotal int64
	for _, f := range m.Files {
		byteTotal += f.Size
		for _, d := range f.Chunks {
			seen[d] = struct{}{}
		}
	}
	return Stats{
		FileCount:    len(m.Files),
		ByteTotal:    byteTotal,
		UniqueChunks: len(seen),
	}
}

// ReferencedDigests returns the set of every chunk digest referenced by any
// file record in m, deduplicated.
func (m *Manifest) ReferencedDigests() map[digest.Digest]struct{} {
	set := make(map[digest.Digest]struct{})
	for _, f := range m.Files {
		for _, d := range f.Chunks {
			set[d] = struct{}{}
		}
	}
	return set
}
