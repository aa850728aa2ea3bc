// Package merkle builds the binary Merkle tree over an ordered list of chunk
// digests that backs each file record's merkle_root.
package merkle

import (
	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/zeebo/blake3"
)

// Root computes the Merkle root of an ordered list of leaf digests.
//
//   - n == 0: the digest of zero bytes (an empty file has no chunks).
//   - n == 1: the single leaf, unchanged.
//   - else:   level-by-level pairwise hashing, H(left‖right); an odd leaf at
//     the end of a level is promoted unchanged to the next level rather
//     than being duplicated and re-hashed.
//
// This construction must stay in lockstep with verification — any deviation
// breaks every stored merkle_root.
func Root(leaves []digest.Digest) digest.Digest {
	if len(leaves) == 0 {
		return digest.Empty()
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := leaves
	for len(level) > 1 {
		next := make([]digest.Digest, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right digest.Digest) digest.Digest {
	h := blake3.New()
	h.Write(left[:])
	h.Write(right[:])
	var d digest.Digest
	copy(d[:], h.Sum(nil))
	return d
}
