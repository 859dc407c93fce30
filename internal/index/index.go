// Package index persists ImageRecord metadata in a bbolt database beside
// the blob cache. The blob files themselves stay under the cache store's
// root; the index only remembers which ids map to which cached paths and
// in what gallery order records were seen.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pixgrid/internal/core/types"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketOrder   = []byte("order") // gallery position -> record id
)

// Index stores gallery metadata. Reads self-heal: a record claiming a
// cached blob whose backing file is gone has its cache fields cleared
// before it is returned, so a dangling path never escapes.
type Index struct {
	db *bolt.DB
}

func Open(path string) (*Index, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, types.CacheFailure("open index db", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketOrder} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, types.CacheFailure("create index buckets", err)
	}

	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

func orderKey(position int) []byte {
	return []byte(fmt.Sprintf("%010d", position))
}

// Put stores a record by id.
func (ix *Index) Put(rec types.ImageRecord) error {
	return ix.update(func(tx *bolt.Tx) error {
		return putRecord(tx, rec)
	})
}

// PutPage stores the records of one fetched page and their gallery
// positions, starting at offset.
func (ix *Index) PutPage(offset int, recs []types.ImageRecord) error {
	return ix.update(func(tx *bolt.Tx) error {
		order := tx.Bucket(bucketOrder)
		for i, rec := range recs {
			if err := putRecord(tx, rec); err != nil {
				return err
			}
			if err := order.Put(orderKey(offset+i), []byte(rec.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func putRecord(tx *bolt.Tx, rec types.ImageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRecords).Put([]byte(rec.ID), data)
}

// Get returns a record by id, healing stale cache metadata against the
// filesystem before returning it.
func (ix *Index) Get(id string) (types.ImageRecord, bool, error) {
	var rec types.ImageRecord
	found := false

	err := ix.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return types.ImageRecord{}, false, types.CacheFailure("read index record", err)
	}
	if !found {
		return types.ImageRecord{}, false, nil
	}

	healed, err := ix.heal(&rec)
	if err != nil {
		return types.ImageRecord{}, false, err
	}
	if healed {
		if err := ix.Put(rec); err != nil {
			return types.ImageRecord{}, false, err
		}
	}

	return rec, true, nil
}

// heal clears the cache fields of a record whose backing file no longer
// exists. Returns true when the record was modified.
func (ix *Index) heal(rec *types.ImageRecord) (bool, error) {
	if !rec.Cached() {
		return false, nil
	}
	_, err := os.Stat(rec.CachedPath)
	if err == nil {
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, types.CacheFailure("stat cached blob", err)
	}
	rec.MarkUncached()
	return true, nil
}

// Range returns the limit records stored contiguously at offset. ok is
// false when any position in the span is missing, when any record lacks a
// cached blob, or when a claimed blob turns out to be gone (the stale
// entries are healed as a side effect).
func (ix *Index) Range(offset, limit int) ([]types.ImageRecord, bool, error) {
	recs := make([]types.ImageRecord, 0, limit)

	err := ix.db.View(func(tx *bolt.Tx) error {
		order := tx.Bucket(bucketOrder)
		records := tx.Bucket(bucketRecords)
		for i := range limit {
			id := order.Get(orderKey(offset + i))
			if id == nil {
				return nil
			}
			data := records.Get(id)
			if data == nil {
				return nil
			}
			var rec types.ImageRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, false, types.CacheFailure("read index range", err)
	}
	if len(recs) < limit {
		return nil, false, nil
	}

	// The span is only servable from cache if every blob is still on disk
	for i := range recs {
		healed, err := ix.heal(&recs[i])
		if err != nil {
			return nil, false, err
		}
		if healed {
			if err := ix.Put(recs[i]); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		if !recs[i].Cached() {
			return nil, false, nil
		}
	}

	return recs, true, nil
}

// MarkCached updates the cache fields of a record after its blob landed on
// disk.
func (ix *Index) MarkCached(id, path string, size types.Bytes, at time.Time) error {
	return ix.update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		data := records.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record %s not found", id)
		}
		var rec types.ImageRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.MarkCached(path, size, at)
		return putRecord(tx, rec)
	})
}

// Clear wipes all metadata. Used alongside a cache clear so the index
// never outlives the blobs it describes.
func (ix *Index) Clear() error {
	return ix.update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketOrder} {
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ix *Index) update(fn func(*bolt.Tx) error) error {
	if err := ix.db.Update(fn); err != nil {
		return types.CacheFailure("update index", err)
	}
	return nil
}
