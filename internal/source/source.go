// Package source implements remote image sources. A source serves the
// paged listing the gallery walks and downloads individual blobs for the
// cache. Pages are 1-indexed; a short or empty page signals exhaustion.
package source

import (
	"context"
	"fmt"

	"pixgrid/internal/core/types"
)

// Source defines the interface for all remote image sources.
type Source interface {
	ID() string
	Name() string

	// FetchPage returns one 1-indexed page of image records. Fewer than
	// limit results, or none, means the listing is exhausted.
	FetchPage(ctx context.Context, page, limit int) ([]types.ImageRecord, error)

	// Download fetches the blob behind an image URL.
	Download(ctx context.Context, url string) ([]byte, error)
}

// Factory functions for creating source instances by type. Factories run
// once at startup; the constructed source is passed down explicitly, there
// is no ambient registry consulted at call sites.
var factories = make(map[string]func(types.SourceConfig) (Source, error))

// RegisterFactory registers a source factory function by type.
func RegisterFactory(sourceType string, factory func(types.SourceConfig) (Source, error)) {
	factories[sourceType] = factory
}

// New constructs a source from its configuration.
func New(cfg types.SourceConfig) (Source, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %s for source %s", cfg.Type, cfg.ID)
	}
	return factory(cfg)
}
