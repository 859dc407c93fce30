package cache

import (
	"os"
	"sort"
	"sync/atomic"

	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/types"
)

// Cleaner evicts the oldest blobs until the cache fits a byte budget.
//
// Runs are self-exclusive: a Cleanup arriving while one is in flight is
// dropped rather than queued. The next trigger re-runs it if the cache is
// still over budget, so nothing is lost by dropping.
type Cleaner struct {
	store  *Store
	logger *logger.Logger
	busy   atomic.Bool
}

// CleanupResult reports what a cleanup run did.
type CleanupResult struct {
	Skipped bool        // another run was already in flight
	Removed int         // entries deleted
	Total   types.Bytes // aggregate size when the run stopped
}

func NewCleaner(store *Store, log *logger.Logger) *Cleaner {
	if log == nil {
		log = logger.NewLogger(logger.WithName("cleaner"))
	}
	return &Cleaner{store: store, logger: log}
}

// Cleanup deletes entries oldest-first until the aggregate size is within
// budget. The total is recomputed by full scan after every deletion rather
// than by subtraction, so concurrent external mutation of the cache
// directory cannot skew the accounting. Entries that vanish mid-run are
// skipped, not treated as errors.
func (c *Cleaner) Cleanup(budget types.Bytes) (CleanupResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		c.logger.Debug("cleanup already in flight, dropping request")
		return CleanupResult{Skipped: true}, nil
	}
	defer c.busy.Store(false)

	entries, err := c.store.Entries()
	if err != nil {
		return CleanupResult{}, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	result := CleanupResult{}
	next := 0
	for {
		total, err := c.store.SizeBytes()
		if err != nil {
			return result, err
		}
		result.Total = total

		if total <= budget {
			break
		}
		if next >= len(entries) {
			// Over budget but nothing left we can delete; foreign files
			// may account for the remainder
			c.logger.Warn("cleanup exhausted entries while over budget",
				"total", total, "budget", budget)
			break
		}

		entry := entries[next]
		next++

		if err := os.Remove(entry.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return result, types.CacheFailure("evict blob", err)
		}
		result.Removed++
		c.logger.Debug("evicted blob", "key", entry.Key, "size", entry.Size, "mtime", entry.ModTime)
	}

	return result, nil
}

// Busy reports whether a cleanup run is currently in flight.
func (c *Cleaner) Busy() bool {
	return c.busy.Load()
}
