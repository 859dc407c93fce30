// Package repo coordinates the blob cache, the metadata index, and the
// remote source behind one repository the gallery talks to. It decides,
// per request, whether a page is served from cache or fetched remotely,
// and whether caching happens eagerly in the background or lazily at
// render time.
package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pixgrid/internal/cache"
	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/types"
	"pixgrid/internal/index"
	"pixgrid/internal/runner"
	"pixgrid/internal/source"

	"golang.org/x/time/rate"
)

// Deps carries everything the repository needs. It is constructed once at
// startup and passed down explicitly; nothing is looked up ambiently.
type Deps struct {
	Store   *cache.Store
	Index   *index.Index
	Source  source.Source
	Pool    *runner.Pool
	Monitor *cache.Monitor
	Cleaner *cache.Cleaner
	Limiter *rate.Limiter
	Logger  *logger.Logger

	// Budget is the eviction target enforced after cache writes.
	Budget types.Bytes

	// BulkThreshold separates the two request modes: requested limits at
	// or above it use bulk mode with lazy render-time caching, smaller
	// limits use paginated mode with eager background caching.
	BulkThreshold int
}

// Repository serves gallery pages and individual images.
//
// Bulk mode never downloads blobs as a side effect of listing: a page is
// either served wholly from cache or fetched remotely and returned as-is,
// with blobs cached only when a specific image is rendered. Paginated mode
// caches eagerly: every record returned from the remote is scheduled for
// background caching, and cache hits fire a background refresh to stay
// warm.
type Repository struct {
	deps   Deps
	logger *logger.Logger

	// In-flight download guard: two concurrent fetches of the same key
	// collapse into one download
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

func New(deps Deps) (*Repository, error) {
	if deps.Store == nil || deps.Index == nil || deps.Source == nil {
		return nil, fmt.Errorf("repository requires a store, an index, and a source")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewLogger(logger.WithName("repo"))
	}
	if deps.Limiter == nil {
		deps.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if deps.BulkThreshold <= 0 {
		deps.BulkThreshold = types.DefaultGalleryConfig().BulkThreshold
	}
	return &Repository{
		deps:     deps,
		logger:   log,
		inflight: make(map[string]chan struct{}),
	}, nil
}

// FetchPage returns one 1-indexed page of image records, dispatching on
// the requested limit: bulk mode at or above the threshold, paginated mode
// below it.
func (r *Repository) FetchPage(ctx context.Context, page, limit int) ([]types.ImageRecord, error) {
	if page < 1 || limit < 1 {
		return nil, fmt.Errorf("invalid page request: page=%d limit=%d", page, limit)
	}
	if limit >= r.deps.BulkThreshold {
		return r.bulkPage(ctx, page, limit)
	}
	return r.paginatedPage(ctx, page, limit)
}

// bulkPage serves infinite-scroll requests. When the index holds a fully
// cached contiguous span at the offset, the page is served with zero
// remote calls. Otherwise the remote page is returned without any blob
// download: caching happens later, lazily, when an image is rendered.
// Only metadata is recorded so the render path can find the records.
func (r *Repository) bulkPage(ctx context.Context, page, limit int) ([]types.ImageRecord, error) {
	offset := (page - 1) * limit

	recs, ok, err := r.deps.Index.Range(offset, limit)
	if err != nil {
		// A broken cache layer is surfaced, never reinterpreted as a
		// reason to fall back to the network
		return nil, err
	}
	if ok {
		r.logger.Debug("bulk page served from cache", "page", page, "limit", limit)
		return recs, nil
	}

	recs, err = r.deps.Source.FetchPage(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	if err := r.deps.Index.PutPage(offset, recs); err != nil {
		return nil, err
	}

	r.logger.Debug("bulk page fetched remotely", "page", page, "count", len(recs))
	return recs, nil
}

// paginatedPage serves small-page requests with eager caching. A fully
// cached span is returned immediately while background refresh jobs keep
// the entries warm; a miss fetches remotely and schedules background
// caching for every returned record without blocking the response.
func (r *Repository) paginatedPage(ctx context.Context, page, limit int) ([]types.ImageRecord, error) {
	offset := (page - 1) * limit

	recs, ok, err := r.deps.Index.Range(offset, limit)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, rec := range recs {
			r.scheduleCache(rec, true)
		}
		r.logger.Debug("paginated page served from cache", "page", page, "limit", limit)
		return recs, nil
	}

	recs, err = r.deps.Source.FetchPage(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	if err := r.deps.Index.PutPage(offset, recs); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		r.scheduleCache(rec, false)
	}

	r.logger.Debug("paginated page fetched remotely", "page", page, "count", len(recs))
	return recs, nil
}

// GetImage returns the blob for an image, caching it on first render.
// This is the lazy leg of bulk mode: nothing is downloaded until the UI
// actually asks for the bytes.
func (r *Repository) GetImage(ctx context.Context, id string) (types.ImageRecord, []byte, error) {
	rec, found, err := r.deps.Index.Get(id)
	if err != nil {
		return types.ImageRecord{}, nil, err
	}
	if !found {
		return types.ImageRecord{}, nil, fmt.Errorf("unknown image: %s", id)
	}

	key := cache.Key(rec.URL)
	if rec.Cached() {
		data, ok, err := r.deps.Store.Read(key)
		if err != nil {
			return types.ImageRecord{}, nil, err
		}
		if ok {
			return rec, data, nil
		}
		// Metadata claimed a blob that is gone; fall through and fetch
	}

	if err := r.fetchAndStore(ctx, &rec); err != nil {
		return types.ImageRecord{}, nil, err
	}

	data, ok, err := r.deps.Store.Read(key)
	if err != nil {
		return types.ImageRecord{}, nil, err
	}
	if !ok {
		return types.ImageRecord{}, nil, types.CacheFailure("blob missing right after store", nil)
	}
	return rec, data, nil
}

// CachedImage reports whether an image is currently cached, healing stale
// metadata on the way. Absence is a value, not an error.
func (r *Repository) CachedImage(id string) (types.ImageRecord, bool, error) {
	rec, found, err := r.deps.Index.Get(id)
	if err != nil {
		return types.ImageRecord{}, false, err
	}
	if !found || !rec.Cached() {
		return types.ImageRecord{}, false, nil
	}
	return rec, true, nil
}

// ClearCache removes every blob and all metadata.
func (r *Repository) ClearCache() error {
	if err := r.deps.Store.Clear(); err != nil {
		return err
	}
	if err := r.deps.Index.Clear(); err != nil {
		return err
	}
	if r.deps.Monitor != nil {
		r.deps.Monitor.SetTotal(0, "clear")
	}
	return nil
}

// Cleanup runs the eviction policy against the configured budget.
func (r *Repository) Cleanup() (cache.CleanupResult, error) {
	if r.deps.Cleaner == nil {
		return cache.CleanupResult{}, nil
	}
	return r.deps.Cleaner.Cleanup(r.deps.Budget)
}

// scheduleCache submits a fire-and-forget caching job for a record. A
// refresh re-downloads even when the blob exists; a plain warmup skips
// already cached blobs. Failures are logged by the job and never reach
// the foreground: caching is advisory.
func (r *Repository) scheduleCache(rec types.ImageRecord, refresh bool) {
	if r.deps.Pool == nil {
		return
	}

	key := cache.Key(rec.URL)
	job := runner.NewJob("cache-"+rec.ID, func(ctx context.Context, job *runner.Job) error {
		if !refresh && r.deps.Store.Contains(key) {
			return nil
		}
		if err := r.fetchAndStore(ctx, &rec); err != nil {
			job.Logger().Warn("background caching failed", "image", rec.ID, "error", err)
			return err
		}
		return nil
	})

	if err := r.deps.Pool.Submit(job); err != nil {
		// Queue pressure drops advisory work on the floor
		r.logger.Debug("dropped background caching job", "image", rec.ID, "error", err)
	}
}

// fetchAndStore downloads a blob, writes it through the store, updates the
// record metadata, and nudges the monitor and the eviction policy. The
// in-flight guard collapses concurrent downloads of one key; losers wait
// for the winner and return without downloading again.
func (r *Repository) fetchAndStore(ctx context.Context, rec *types.ImageRecord) error {
	key := cache.Key(rec.URL)

	for {
		r.mu.Lock()
		waiting, inFlight := r.inflight[key]
		if !inFlight {
			done := make(chan struct{})
			r.inflight[key] = done
			r.mu.Unlock()

			err := r.download(ctx, rec, key)

			r.mu.Lock()
			delete(r.inflight, key)
			close(done)
			r.mu.Unlock()
			return err
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waiting:
		}

		// The winner populated the cache; refresh our view of the record
		if r.deps.Store.Contains(key) {
			updated, found, err := r.deps.Index.Get(rec.ID)
			if err != nil {
				return err
			}
			if found {
				*rec = updated
			}
			return nil
		}
		// The other download failed; take our own turn
	}
}

func (r *Repository) download(ctx context.Context, rec *types.ImageRecord, key string) error {
	data, err := r.deps.Source.Download(ctx, rec.URL)
	if err != nil {
		return err
	}

	// Throttle aggregate caching throughput
	if err := waitN(ctx, r.deps.Limiter, len(data)); err != nil {
		return err
	}

	path, err := r.deps.Store.Put(key, data)
	if err != nil {
		return err
	}

	now := time.Now()
	rec.MarkCached(path, types.Bytes(len(data)), now)
	if err := r.deps.Index.MarkCached(rec.ID, path, types.Bytes(len(data)), now); err != nil {
		return err
	}

	if r.deps.Monitor != nil {
		r.deps.Monitor.Trigger("put")
	}
	if r.deps.Cleaner != nil && r.deps.Budget > 0 {
		result, err := r.deps.Cleaner.Cleanup(r.deps.Budget)
		if err != nil {
			// Eviction problems are logged, not propagated: the blob the
			// caller asked for is already safely stored
			r.logger.Warn("post-write cleanup failed", "error", err)
		} else if result.Removed > 0 && r.deps.Monitor != nil {
			r.deps.Monitor.Trigger("evict")
		}
	}

	return nil
}

// waitN reserves n bytes from the limiter, splitting oversized requests
// into burst-sized chunks.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter.Limit() == rate.Inf {
		return nil
	}
	burst := limiter.Burst()
	for n > 0 {
		chunk := n
		if burst > 0 && chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
