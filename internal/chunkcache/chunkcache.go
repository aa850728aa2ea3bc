// Package chunkcache maintains a BoltDB-backed "last seen referenced" index
// of chunk digests. It is purely an accelerator for recovery's orphan scan:
// the filesystem chunk store is always ground truth, and this cache is
// rebuilt wholesale whenever it is missing or its generation is stale. It
// never gates a put/get/has decision in the store itself.
package chunkcache

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/vaultkeep/backupd/internal/digest"
	"github.com/vaultkeep/backupd/internal/errs"
)

var bucketReferenced = []byte("referenced")
var bucketMeta = []byte("meta")

var keyGeneration = []byte("generation")

// Cache wraps a BoltDB file recording which digests were referenced as of
// the cache's last rebuild.
type Cache struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the cache database at <root>/cache.db.
func Open(root string) (*Cache, error) {
	path := filepath.Join(root, "cache.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "chunkcache.Open", "open bolt db", err).WithKey(path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(bucketReferenced); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(bucketMeta)
		return e
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindIO, "chunkcache.Open", "init buckets", err).WithKey(path)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Generation returns the rebuild generation stamped into the cache, or 0 if
// the cache has never been populated.
func (c *Cache) Generation() (uint64, error) {
	var gen uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyGeneration)
		if v == nil {
			return nil
		}
		gen = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, "chunkcache.Generation", "read generation", err)
	}
	return gen, nil
}

// Rebuild replaces the cache's contents with exactly the digests in
// referenced, stamping a new generation equal to the current Unix time.
func (c *Cache) Rebuild(referenced []digest.Digest) error {
	gen := uint64(time.Now().Unix())
	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketReferenced); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bk, err := tx.CreateBucket(bucketReferenced)
		if err != nil {
			return err
		}
		for _, d := range referenced {
			if err := bk.Put(d[:], nil); err != nil {
				return err
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, gen)
		return tx.Bucket(bucketMeta).Put(keyGeneration, buf)
	})
	if err != nil {
		return errs.Wrap(errs.KindIO, "chunkcache.Rebuild", "rebuild cache", err)
	}
	return nil
}

// IsReferenced reports whether d was present in the cache as of the last
// Rebuild. Callers must treat the cache as advisory whenever its generation
// predates the manifest set they're scanning against.
func (c *Cache) IsReferenced(d digest.Digest) bool {
	var found bool
	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketReferenced).Get(d[:])
		found = v != nil
		return nil
	})
	return found
}

// Count returns how many digests the cache currently holds.
func (c *Cache) Count() (int, error) {
	var n int
	err := c.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketReferenced).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, "chunkcache.Count", "read stats", err)
	}
	return n, nil
}
