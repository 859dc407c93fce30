package gallery

import (
	"context"

	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/types"
	"pixgrid/internal/repo"
)

// FillResult summarizes one cache-fill run.
type FillResult struct {
	Pages  int
	Images int
	Failed int
	Bytes  types.Bytes
}

// FillOption configures a Filler.
type FillOption func(*Filler)

// WithPageHook observes every listed page with its image count, before any
// of its images are cached.
func WithPageHook(hook func(count int)) FillOption {
	return func(f *Filler) {
		f.onPage = hook
	}
}

// WithImageHook observes every image as its caching attempt finishes.
func WithImageHook(hook func(rec types.ImageRecord, err error)) FillOption {
	return func(f *Filler) {
		f.onImage = hook
	}
}

// Filler warms the blob cache by walking the whole remote listing and
// rendering every image. It exists for the fill command, not the browsing
// path: eviction may immediately reclaim what it writes.
type Filler struct {
	repo    *repo.Repository
	limit   int
	logger  *logger.Logger
	onPage  func(count int)
	onImage func(rec types.ImageRecord, err error)
}

func NewFiller(r *repo.Repository, limit int, opts ...FillOption) *Filler {
	if limit < 1 {
		limit = types.DefaultGalleryConfig().BulkThreshold
	}
	f := &Filler{
		repo:   r,
		limit:  limit,
		logger: logger.NewLogger(logger.WithName("fill")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run walks pages until the listing is exhausted, caching each image in
// turn. Per-image failures are counted and walked past; listing failures
// abort the run.
func (f *Filler) Run(ctx context.Context) (FillResult, error) {
	var result FillResult

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		recs, err := f.repo.FetchPage(ctx, page, f.limit)
		if err != nil {
			return result, err
		}
		if len(recs) == 0 {
			break
		}
		result.Pages++
		if f.onPage != nil {
			f.onPage(len(recs))
		}

		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			_, data, err := f.repo.GetImage(ctx, rec.ID)
			if f.onImage != nil {
				f.onImage(rec, err)
			}
			if err != nil {
				f.logger.Warn("fill skipped image", "image", rec.ID, "kind", types.KindOf(err), "error", err)
				result.Failed++
				continue
			}
			result.Images++
			result.Bytes += types.Bytes(len(data))
		}

		if len(recs) < f.limit {
			break
		}
	}

	return result, nil
}
