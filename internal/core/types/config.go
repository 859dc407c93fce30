package types

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the top-level configuration structure
type Config struct {
	Debug   bool                    `yaml:"debug"`
	Source  string                  `yaml:"source"` // ID of the source to use
	Sources map[string]SourceConfig `yaml:"sources"`

	Cache   CacheConfig   `yaml:"cache"`
	Gallery GalleryConfig `yaml:"gallery"`
}

// CacheConfig holds blob cache and size monitoring settings
type CacheConfig struct {
	Dir              string   `yaml:"dir"`               // Cache root directory
	MaxBytes         Bytes    `yaml:"max_bytes"`         // Eviction budget
	DebounceInterval Duration `yaml:"debounce_interval"` // Size recompute coalescing window
	StalenessCeiling Duration `yaml:"staleness_ceiling"` // Max age before a size publish is forced
	HistoryCapacity  int      `yaml:"history_capacity"`  // Size sample ring buffer length
}

// GalleryConfig holds pagination settings
type GalleryConfig struct {
	PageSize      int `yaml:"page_size"`      // Bulk page length requested by the gallery
	BulkThreshold int `yaml:"bulk_threshold"` // Requested limits at or above this use bulk mode
}

// SourceConfig holds connection configuration for a remote image source
type SourceConfig struct {
	ID   string `yaml:"id" json:"id"`     // Unique identifier for this source instance
	Type string `yaml:"type" json:"type"` // Source type (http, s3)
	Name string `yaml:"name" json:"name"` // Human-readable name

	// HTTP settings
	BaseURL string            `yaml:"base_url" json:"base_url"`
	Token   string            `yaml:"token" json:"token"`
	Headers map[string]string `yaml:"headers" json:"headers"`

	// S3 settings
	Bucket  string `yaml:"bucket" json:"bucket"`
	Prefix  string `yaml:"prefix" json:"prefix"`
	Region  string `yaml:"region" json:"region"`
	Profile string `yaml:"profile" json:"profile"`

	// Transfer settings for background caching downloads
	Transfer *TransferConfig `yaml:"transfer" json:"transfer"`
}

// TransferConfig holds download rate limiting and worker settings
type TransferConfig struct {
	RateLimit Bytes `yaml:"rate_limit" json:"rate_limit"` // Bytes per second (0 = unlimited)
	RateBurst Bytes `yaml:"rate_burst" json:"rate_burst"` // Burst size
	Workers   int   `yaml:"workers" json:"workers"`       // Background caching workers
	QueueSize int   `yaml:"queue_size" json:"queue_size"` // Background caching queue length
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Dir:              "cache",
		MaxBytes:         Bytes(1 * humanize.GiByte),
		DebounceInterval: Duration(100 * time.Millisecond),
		StalenessCeiling: Duration(2 * time.Second),
		HistoryCapacity:  50,
	}
}

func DefaultGalleryConfig() GalleryConfig {
	return GalleryConfig{
		PageSize:      30,
		BulkThreshold: 30,
	}
}

func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		RateLimit: 0, // unlimited
		RateBurst: Bytes(1 * humanize.MiByte),
		Workers:   4,
		QueueSize: 256,
	}
}
