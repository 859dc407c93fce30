package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pixgrid/internal/cache"
	"pixgrid/internal/core/types"
	"pixgrid/internal/index"
	"pixgrid/internal/runner"
)

// fakeSource serves canned pages and blobs while recording every remote
// call, so tests can assert exactly how often the network was touched.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[string][]types.ImageRecord
	blobs     map[string][]byte
	pageCalls []string
	downloads []string
	pageErr   error
	dlErr     error

	// When set, Download blocks until the channel closes.
	dlGate chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[string][]types.ImageRecord),
		blobs: make(map[string][]byte),
	}
}

func (f *fakeSource) ID() string   { return "fake" }
func (f *fakeSource) Name() string { return "fake source" }

func (f *fakeSource) FetchPage(ctx context.Context, page, limit int) ([]types.ImageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, fmt.Sprintf("%d/%d", page, limit))
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return f.pages[fmt.Sprintf("%d/%d", page, limit)], nil
}

func (f *fakeSource) Download(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	gate := f.dlGate
	f.downloads = append(f.downloads, url)
	if f.dlErr != nil {
		f.mu.Unlock()
		return nil, f.dlErr
	}
	data := f.blobs[url]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return data, nil
}

func (f *fakeSource) pageCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pageCalls)
}

func (f *fakeSource) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.downloads)
}

func testRecord(i int) types.ImageRecord {
	return types.ImageRecord{
		ID:    fmt.Sprintf("img-%04d", i),
		URL:   fmt.Sprintf("http://images.test/img-%04d.jpg", i),
		Title: fmt.Sprintf("image %d", i),
	}
}

func createTestRepo(t *testing.T, src *fakeSource, pool *runner.Pool) (*Repository, *cache.Store, *index.Index) {
	t.Helper()

	dir, err := os.MkdirTemp("", "repo-test-")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := cache.NewStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ix, err := index.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("failed to open index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })

	repo, err := New(Deps{
		Store:         store,
		Index:         ix,
		Source:        src,
		Pool:          pool,
		BulkThreshold: 30,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repo, store, ix
}

// seedCachedPage populates the index with a fully cached contiguous page:
// metadata plus a real blob on disk for every record.
func seedCachedPage(t *testing.T, store *cache.Store, ix *index.Index, offset int, recs []types.ImageRecord) {
	t.Helper()
	if err := ix.PutPage(offset, recs); err != nil {
		t.Fatalf("failed to put page: %v", err)
	}
	for _, rec := range recs {
		data := []byte("blob for " + rec.ID)
		path, err := store.Put(cache.Key(rec.URL), data)
		if err != nil {
			t.Fatalf("failed to put blob: %v", err)
		}
		if err := ix.MarkCached(rec.ID, path, types.Bytes(len(data)), time.Now()); err != nil {
			t.Fatalf("failed to mark cached: %v", err)
		}
	}
}

func TestBulkPageEmptyCacheFetchesOnceWithoutCaching(t *testing.T) {
	src := newFakeSource()
	recs := make([]types.ImageRecord, 30)
	for i := range recs {
		recs[i] = testRecord(i)
	}
	src.pages["1/30"] = recs

	repo, store, _ := createTestRepo(t, src, nil)

	got, err := repo.FetchPage(context.Background(), 1, 30)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("expected 30 records, got %d", len(got))
	}
	if n := src.pageCallCount(); n != 1 {
		t.Fatalf("expected exactly 1 remote page call, got %d", n)
	}
	if n := src.downloadCount(); n != 0 {
		t.Fatalf("bulk listing must not download blobs, got %d downloads", n)
	}

	// No blob may exist before anything is rendered
	size, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("SizeBytes failed: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected empty blob store after bulk listing, got %s", size)
	}
}

func TestBulkPageFullyCachedServesWithoutRemoteCalls(t *testing.T) {
	src := newFakeSource()
	recs := make([]types.ImageRecord, 30)
	for i := range recs {
		recs[i] = testRecord(i)
	}

	repo, store, ix := createTestRepo(t, src, nil)
	seedCachedPage(t, store, ix, 0, recs)

	got, err := repo.FetchPage(context.Background(), 1, 30)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("expected 30 records, got %d", len(got))
	}
	if got[0].ID != "img-0000" || got[29].ID != "img-0029" {
		t.Fatalf("unexpected record order: %s .. %s", got[0].ID, got[29].ID)
	}
	if n := src.pageCallCount(); n != 0 {
		t.Fatalf("fully cached page must make 0 remote calls, got %d", n)
	}
	if n := src.downloadCount(); n != 0 {
		t.Fatalf("fully cached page must make 0 downloads, got %d", n)
	}
}

func TestBulkPagePartiallyCachedFallsThroughToRemote(t *testing.T) {
	src := newFakeSource()
	recs := make([]types.ImageRecord, 30)
	for i := range recs {
		recs[i] = testRecord(i)
	}
	src.pages["1/30"] = recs

	repo, store, ix := createTestRepo(t, src, nil)
	// Only the first 29 cached: the span is incomplete
	seedCachedPage(t, store, ix, 0, recs[:29])

	got, err := repo.FetchPage(context.Background(), 1, 30)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("expected 30 records, got %d", len(got))
	}
	if n := src.pageCallCount(); n != 1 {
		t.Fatalf("partial page must hit remote once, got %d calls", n)
	}
	if n := src.downloadCount(); n != 0 {
		t.Fatalf("bulk fallback must not download blobs, got %d", n)
	}
}

func TestGetImageCachesLazilyOnFirstRender(t *testing.T) {
	src := newFakeSource()
	rec := testRecord(1)
	src.pages["1/30"] = []types.ImageRecord{rec}
	src.blobs[rec.URL] = []byte("jpeg bytes")

	repo, store, _ := createTestRepo(t, src, nil)

	if _, err := repo.FetchPage(context.Background(), 1, 30); err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	got, data, err := repo.GetImage(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if string(data) != "jpeg bytes" {
		t.Fatalf("unexpected blob data: %q", data)
	}
	if !got.Cached() {
		t.Fatalf("record not marked cached after render")
	}
	if !store.Contains(cache.Key(rec.URL)) {
		t.Fatalf("blob missing from store after render")
	}

	// Second render is served from cache
	if _, _, err := repo.GetImage(context.Background(), rec.ID); err != nil {
		t.Fatalf("second GetImage failed: %v", err)
	}
	if n := src.downloadCount(); n != 1 {
		t.Fatalf("expected exactly 1 download across two renders, got %d", n)
	}
}

func TestGetImageCollapsesConcurrentDownloads(t *testing.T) {
	src := newFakeSource()
	rec := testRecord(1)
	src.pages["1/30"] = []types.ImageRecord{rec}
	src.blobs[rec.URL] = []byte("jpeg bytes")
	src.dlGate = make(chan struct{})

	repo, _, _ := createTestRepo(t, src, nil)
	if _, err := repo.FetchPage(context.Background(), 1, 30); err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = repo.GetImage(context.Background(), rec.ID)
		}(i)
	}

	// The gate keeps the first download in flight until both goroutines
	// had time to reach the guard
	time.Sleep(50 * time.Millisecond)
	close(src.dlGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("GetImage %d failed: %v", i, err)
		}
	}
	if n := src.downloadCount(); n != 1 {
		t.Fatalf("concurrent renders must collapse into 1 download, got %d", n)
	}
}

func TestPaginatedPageSchedulesBackgroundCaching(t *testing.T) {
	src := newFakeSource()
	recs := make([]types.ImageRecord, 5)
	for i := range recs {
		recs[i] = testRecord(i)
		src.blobs[recs[i].URL] = []byte("blob " + recs[i].ID)
	}
	src.pages["1/5"] = recs

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := runner.NewPool(ctx, "test", runner.WithPoolWorkers(1))

	repo, store, _ := createTestRepo(t, src, pool)

	got, err := repo.FetchPage(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}

	// Drain one completion per scheduled record
	for i := 0; i < 5; i++ {
		if _, err := pool.Wait(); err != nil {
			t.Fatalf("pool wait failed: %v", err)
		}
	}
	for _, rec := range recs {
		if !store.Contains(cache.Key(rec.URL)) {
			t.Fatalf("blob for %s not cached in background", rec.ID)
		}
	}
	if n := src.downloadCount(); n != 5 {
		t.Fatalf("expected 5 background downloads, got %d", n)
	}
}

func TestPaginatedCacheHitSkipsRemoteListing(t *testing.T) {
	src := newFakeSource()
	recs := make([]types.ImageRecord, 5)
	for i := range recs {
		recs[i] = testRecord(i)
		src.blobs[recs[i].URL] = []byte("blob " + recs[i].ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := runner.NewPool(ctx, "test", runner.WithPoolWorkers(1))

	repo, store, ix := createTestRepo(t, src, pool)
	seedCachedPage(t, store, ix, 0, recs)

	got, err := repo.FetchPage(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}
	if n := src.pageCallCount(); n != 0 {
		t.Fatalf("cached paginated page must skip the remote listing, got %d calls", n)
	}

	// The hit still fires refresh jobs to keep entries warm
	for i := 0; i < 5; i++ {
		if _, err := pool.Wait(); err != nil {
			t.Fatalf("pool wait failed: %v", err)
		}
	}
	if n := src.downloadCount(); n != 5 {
		t.Fatalf("expected 5 refresh downloads, got %d", n)
	}
}

func TestFetchPageFailureKindPreserved(t *testing.T) {
	src := newFakeSource()
	src.pageErr = types.NetworkFailure("connection reset", nil)

	repo, _, _ := createTestRepo(t, src, nil)

	_, err := repo.FetchPage(context.Background(), 1, 30)
	if err == nil {
		t.Fatalf("expected error")
	}
	if kind := types.KindOf(err); kind != types.FailureNetwork {
		t.Fatalf("expected network failure kind, got %s", kind)
	}
}

func TestCachedImageAbsenceIsNotAnError(t *testing.T) {
	src := newFakeSource()
	repo, _, _ := createTestRepo(t, src, nil)

	_, found, err := repo.CachedImage("img-9999")
	if err != nil {
		t.Fatalf("absence must not be an error, got: %v", err)
	}
	if found {
		t.Fatalf("expected absence for unknown image")
	}
}

func TestClearCacheRemovesBlobsAndMetadata(t *testing.T) {
	src := newFakeSource()
	recs := []types.ImageRecord{testRecord(1), testRecord(2)}

	repo, store, ix := createTestRepo(t, src, nil)
	seedCachedPage(t, store, ix, 0, recs)

	if err := repo.ClearCache(); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}

	size, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("SizeBytes failed: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected empty store after clear, got %s", size)
	}
	_, found, err := ix.Get(recs[0].ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Fatalf("metadata survived ClearCache")
	}
}
