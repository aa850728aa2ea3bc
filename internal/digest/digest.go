// Package digest wraps the BLAKE3-256 hash used as content identity
// throughout the backup core: chunk filenames, file_root, and merkle_root
// are all digests produced here.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes (BLAKE3-256).
const Size = 32

// Algo is the identifier recorded in manifests as hash_algo.
const Algo = "blake3-256"

// Digest is a fixed-width content identity. Equality is byte equality.
type Digest [Size]byte

// Sum computes the digest of b.
func Sum(b []byte) Digest {
	h := blake3.New()
	h.Write(b)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// SumReader computes the digest of everything r produces.
func SumReader(r io.Reader) (Digest, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, fmt.Errorf("digest: read for sum: %w", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Empty is the digest of zero bytes — used for empty files and empty chunk
// lists per the manifest invariants.
func Empty() Digest {
	return Sum(nil)
}

// Hasher accumulates bytes incrementally, e.g. across chunk boundaries for a
// whole-file digest.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a fresh incremental hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

func (h *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// String renders the digest as lowercase hex, the form used for chunk store
// paths and manifest JSON.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero value (never a valid content
// digest in practice, used as a "not set" sentinel).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Shard returns the first two hex characters, the chunk store's sharding
// prefix (<root>/chunks/<xx>/<rest>).
func (d Digest) Shard() string {
	return d.String()[:2]
}

// Parse decodes a lowercase-hex digest string.
func Parse(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: parse %q: %w", s, err)
	}
	if len(b) != Size {
		return Digest{}, fmt.Errorf("digest: parse %q: want %d bytes, got %d", s, Size, len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// MustParse is Parse but panics on error; intended for tests and constants.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// MarshalJSON renders the digest as its lowercase-hex string form, the wire
// representation used throughout manifest JSON.
func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a lowercase-hex digest string.
func (d *Digest) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("digest: invalid JSON digest literal %q", s)
	}
	parsed, err := Parse(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
