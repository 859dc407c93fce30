package cache

import (
	"os"
	"sync"
	"testing"
	"time"

	"pixgrid/internal/core/types"
)

// putAged writes a blob and backdates its mtime so eviction order is
// deterministic in tests.
func putAged(t *testing.T, store *Store, key string, size int, age time.Duration) {
	t.Helper()
	path, err := store.Put(key, createTestData(size))
	if err != nil {
		t.Fatalf("Failed to put blob %s: %v", key, err)
	}
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("Failed to age blob %s: %v", key, err)
	}
}

func TestCleanerEvictsOldestFirst(t *testing.T) {
	store := createTestStore(t)
	cleaner := NewCleaner(store, nil)

	putAged(t, store, "oldest", 400, 3*time.Hour)
	putAged(t, store, "middle", 400, 2*time.Hour)
	putAged(t, store, "newest", 400, 1*time.Hour)

	result, err := cleaner.Cleanup(types.Bytes(900))
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Skipped {
		t.Fatalf("Cleanup should not have been skipped")
	}
	if result.Removed != 1 {
		t.Fatalf("Expected 1 eviction, got %d", result.Removed)
	}
	if result.Total > types.Bytes(900) {
		t.Fatalf("Cleanup left cache over budget: %d", result.Total)
	}

	if store.Contains("oldest") {
		t.Fatalf("Oldest blob should have been evicted")
	}
	if !store.Contains("middle") || !store.Contains("newest") {
		t.Fatalf("Newer blobs should have survived")
	}
}

func TestCleanerBudgetProperty(t *testing.T) {
	store := createTestStore(t)
	cleaner := NewCleaner(store, nil)

	// Cumulative size 1500 with budget 700: cleanup must bring the
	// aggregate under budget, removing exactly the oldest entries
	sizes := []int{300, 300, 300, 300, 300}
	for i, size := range sizes {
		putAged(t, store, Key(string(rune('a'+i))), size, time.Duration(len(sizes)-i)*time.Hour)
	}

	budget := types.Bytes(700)
	result, err := cleaner.Cleanup(budget)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	total, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("Failed to compute size: %v", err)
	}
	if total > budget {
		t.Fatalf("Aggregate %d exceeds budget %d after cleanup", total, budget)
	}
	if result.Removed != 3 {
		t.Fatalf("Expected exactly 3 evictions, got %d", result.Removed)
	}
}

func TestCleanerJustOverBudget(t *testing.T) {
	store := createTestStore(t)
	cleaner := NewCleaner(store, nil)

	// Budget 1024, cache at 1024+100: deleting the single oldest entry
	// is sufficient
	putAged(t, store, "old", 200, 2*time.Hour)
	putAged(t, store, "new", 924, 1*time.Hour)

	result, err := cleaner.Cleanup(types.Bytes(1024))
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("Expected the single oldest entry removed, got %d", result.Removed)
	}
	if store.Contains("old") {
		t.Fatalf("Oldest entry should be gone")
	}
	if !store.Contains("new") {
		t.Fatalf("Newest entry should remain")
	}
}

func TestCleanerSkipsVanishedEntries(t *testing.T) {
	store := createTestStore(t)
	cleaner := NewCleaner(store, nil)

	putAged(t, store, "ghost", 500, 3*time.Hour)
	putAged(t, store, "second", 500, 2*time.Hour)
	putAged(t, store, "third", 500, 1*time.Hour)

	// Simulate a concurrent deletion between listing and eviction by
	// removing the oldest out from under the cleaner
	if err := os.Remove(store.Path("ghost")); err != nil {
		t.Fatalf("Failed to remove ghost: %v", err)
	}

	result, err := cleaner.Cleanup(types.Bytes(600))
	if err != nil {
		t.Fatalf("Cleanup should skip vanished entries: %v", err)
	}
	if result.Total > types.Bytes(600) {
		t.Fatalf("Cleanup left cache over budget: %d", result.Total)
	}
	if store.Contains("second") {
		t.Fatalf("Second-oldest should have been evicted after the ghost was skipped")
	}
}

func TestCleanerZeroBudgetEmptiesCache(t *testing.T) {
	store := createTestStore(t)
	cleaner := NewCleaner(store, nil)

	putAged(t, store, "a", 100, 2*time.Hour)
	putAged(t, store, "b", 100, time.Hour)

	result, err := cleaner.Cleanup(0)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("Expected empty cache, got %d bytes", result.Total)
	}
}

func TestCleanerDropsOverlappingRuns(t *testing.T) {
	store := createTestStore(t)
	cleaner := NewCleaner(store, nil)

	putAged(t, store, "a", 100, time.Hour)

	// Hold the in-progress flag to emulate a run in flight
	if !cleaner.busy.CompareAndSwap(false, true) {
		t.Fatalf("Failed to take busy flag")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := cleaner.Cleanup(0)
		if err != nil {
			t.Errorf("Overlapping cleanup errored: %v", err)
		}
		if !result.Skipped {
			t.Errorf("Overlapping cleanup should have been dropped")
		}
	}()
	wg.Wait()

	cleaner.busy.Store(false)

	// The blob survives the dropped run; the next trigger still works
	if !store.Contains("a") {
		t.Fatalf("Dropped cleanup should not have evicted anything")
	}
	if _, err := cleaner.Cleanup(0); err != nil {
		t.Fatalf("Follow-up cleanup failed: %v", err)
	}
	if store.Contains("a") {
		t.Fatalf("Follow-up cleanup should have evicted the blob")
	}
}
