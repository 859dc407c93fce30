package types

import "time"

// ImageRecord describes one remotely hosted image known to the gallery.
// CachedPath is set only while a backing file exists on disk; readers that
// find the file gone must treat the record as uncached and clear the cache
// fields rather than hand out a dangling path.
type ImageRecord struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Title        string `json:"title"`

	// Cache state, present only while the blob is on disk
	CachedPath string     `json:"cached_path,omitempty"`
	CachedAt   *time.Time `json:"cached_at,omitempty"`
	FileSize   Bytes      `json:"file_size,omitempty"`
}

// Cached reports whether the record claims a backing file. Callers still
// need to verify the file exists before trusting the path.
func (r ImageRecord) Cached() bool {
	return r.CachedPath != ""
}

// MarkCached records the on-disk location of the blob.
func (r *ImageRecord) MarkCached(path string, size Bytes, at time.Time) {
	r.CachedPath = path
	r.CachedAt = &at
	r.FileSize = size
}

// MarkUncached clears the cache fields, healing a record whose backing
// file has been removed externally.
func (r *ImageRecord) MarkUncached() {
	r.CachedPath = ""
	r.CachedAt = nil
	r.FileSize = 0
}
