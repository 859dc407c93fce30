package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pixgrid/internal/core/types"
)

// Helper function to create a test store with a temporary cache root
func createTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "pixgrid-store-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

// Helper function to create test data of specified size
func createTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestStorePutGet(t *testing.T) {
	store := createTestStore(t)

	data := createTestData(512)
	key := Key("https://img.example.com/photos/1.jpg")

	path, err := store.Put(key, data)
	if err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}
	if filepath.Dir(path) != store.Root() {
		t.Fatalf("Blob written outside cache root: %s", path)
	}

	got, ok, err := store.Read(key)
	if err != nil {
		t.Fatalf("Failed to read blob: %v", err)
	}
	if !ok {
		t.Fatalf("Blob should be present after put")
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Blob data mismatch: expected %d bytes, got %d", len(data), len(got))
	}
}

func TestStoreGetAbsent(t *testing.T) {
	store := createTestStore(t)

	_, ok, err := store.Get(Key("https://img.example.com/missing.jpg"))
	if err != nil {
		t.Fatalf("Absent blob should not be an error: %v", err)
	}
	if ok {
		t.Fatalf("Absent blob reported as present")
	}
}

func TestStoreGetRefreshesModTime(t *testing.T) {
	store := createTestStore(t)

	key := Key("https://img.example.com/photos/2.jpg")
	path, err := store.Put(key, createTestData(64))
	if err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	// Age the blob, then confirm Get moves the mtime forward
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Failed to age blob: %v", err)
	}

	if _, _, err := store.Get(key); err != nil {
		t.Fatalf("Failed to get blob: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat blob: %v", err)
	}
	if !info.ModTime().After(old.Add(30 * time.Minute)) {
		t.Fatalf("Get did not refresh mtime: %v", info.ModTime())
	}
}

func TestStoreRemoveTolerant(t *testing.T) {
	store := createTestStore(t)

	key := Key("https://img.example.com/photos/3.jpg")
	if _, err := store.Put(key, createTestData(32)); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	if err := store.Remove(key); err != nil {
		t.Fatalf("Failed to remove blob: %v", err)
	}

	// Removing again is a no-op, not an error
	if err := store.Remove(key); err != nil {
		t.Fatalf("Removing absent blob should succeed: %v", err)
	}
}

func TestStoreSizeBytesIdempotent(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.Put(Key("u1"), createTestData(100)); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}
	if _, err := store.Put(Key("u2"), createTestData(250)); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	first, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("Failed to compute size: %v", err)
	}
	second, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("Failed to compute size: %v", err)
	}

	if first != second {
		t.Fatalf("SizeBytes not idempotent: %d vs %d", first, second)
	}
	if first != types.Bytes(350) {
		t.Fatalf("Expected 350 bytes, got %d", first)
	}
}

func TestStoreSizeBytesCountsForeignFiles(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.Put(Key("u1"), createTestData(100)); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	// A foreign file dropped into the cache root counts in the sum
	foreign := filepath.Join(store.Root(), "stray.dat")
	if err := os.WriteFile(foreign, createTestData(40), 0o644); err != nil {
		t.Fatalf("Failed to write foreign file: %v", err)
	}

	total, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("Failed to compute size: %v", err)
	}
	if total != types.Bytes(140) {
		t.Fatalf("Expected foreign file in sum, got %d", total)
	}

	// But entry listings skip nothing except temp files, so the foreign
	// file is eligible for eviction like any blob
	entries, err := store.Entries()
	if err != nil {
		t.Fatalf("Failed to list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
}

func TestStoreConcurrentPutsSameKey(t *testing.T) {
	store := createTestStore(t)

	key := Key("https://img.example.com/contended.jpg")
	payloads := [][]byte{createTestData(100), createTestData(200), createTestData(300)}

	var wg sync.WaitGroup
	for _, p := range payloads {
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			if _, err := store.Put(key, data); err != nil {
				t.Errorf("Concurrent put failed: %v", err)
			}
		}(p)
	}
	wg.Wait()

	// Last writer wins: the surviving blob must be exactly one of the
	// payloads, never a torn mix
	got, ok, err := store.Read(key)
	if err != nil || !ok {
		t.Fatalf("Failed to read contended blob: ok=%v err=%v", ok, err)
	}
	valid := false
	for _, p := range payloads {
		if bytes.Equal(got, p) {
			valid = true
			break
		}
	}
	if !valid {
		t.Fatalf("Contended blob is corrupt: %d bytes", len(got))
	}
}

func TestStoreClear(t *testing.T) {
	store := createTestStore(t)

	for _, u := range []string{"a", "b", "c"} {
		if _, err := store.Put(Key(u), createTestData(64)); err != nil {
			t.Fatalf("Failed to put blob: %v", err)
		}
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Failed to clear store: %v", err)
	}

	total, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("Failed to compute size: %v", err)
	}
	if total != 0 {
		t.Fatalf("Expected empty cache after clear, got %d bytes", total)
	}
}
