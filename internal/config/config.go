package config

import (
	"fmt"
	"os"
	"path/filepath"

	"pixgrid/internal/core/types"

	"github.com/goccy/go-yaml"
)

// LoadConfig loads configuration from a YAML file and applies defaults
func LoadConfig(configFile string) (*types.Config, error) {
	config := &types.Config{
		Debug:   false,
		Sources: make(map[string]types.SourceConfig),
	}

	if configFile != "" && fileExists(configFile) {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	config.Cache = mergeCacheConfig(config.Cache, types.DefaultCacheConfig())
	config.Gallery = mergeGalleryConfig(config.Gallery, types.DefaultGalleryConfig())

	if err := ValidateSources(config.Sources); err != nil {
		return nil, err
	}

	return config, nil
}

// mergeCacheConfig merges loaded config with defaults, with loaded values taking precedence
func mergeCacheConfig(loaded, defaults types.CacheConfig) types.CacheConfig {
	return types.CacheConfig{
		Dir:              coalesce(loaded.Dir, defaults.Dir),
		MaxBytes:         coalesce(loaded.MaxBytes, defaults.MaxBytes),
		DebounceInterval: coalesce(loaded.DebounceInterval, defaults.DebounceInterval),
		StalenessCeiling: coalesce(loaded.StalenessCeiling, defaults.StalenessCeiling),
		HistoryCapacity:  coalesce(loaded.HistoryCapacity, defaults.HistoryCapacity),
	}
}

// mergeGalleryConfig merges loaded config with defaults
func mergeGalleryConfig(loaded, defaults types.GalleryConfig) types.GalleryConfig {
	return types.GalleryConfig{
		PageSize:      coalesce(loaded.PageSize, defaults.PageSize),
		BulkThreshold: coalesce(loaded.BulkThreshold, defaults.BulkThreshold),
	}
}

// coalesce returns loaded unless it is the zero value
func coalesce[T comparable](loaded, defaultVal T) T {
	var zero T
	if loaded != zero {
		return loaded
	}
	return defaultVal
}

// fileExists checks if a file exists
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}

// ValidateSources validates source configurations
func ValidateSources(sources map[string]types.SourceConfig) error {
	supportedTypes := map[string]bool{
		"http": true,
		"s3":   true,
	}

	for id, cfg := range sources {
		if !supportedTypes[cfg.Type] {
			return fmt.Errorf("unsupported source type '%s' for source '%s'", cfg.Type, id)
		}

		if cfg.ID != "" && cfg.ID != id {
			return fmt.Errorf("source ID '%s' doesn't match key '%s'", cfg.ID, id)
		}
		if cfg.ID == "" {
			cfg.ID = id
		}

		if cfg.Transfer == nil {
			defaultTransfer := types.DefaultTransferConfig()
			cfg.Transfer = &defaultTransfer
		}

		sources[id] = cfg
	}

	return nil
}

// ResolveConfigPath resolves a config file path, checking common locations
func ResolveConfigPath(configFile string) string {
	if configFile != "" {
		if filepath.IsAbs(configFile) || fileExists(configFile) {
			return configFile
		}
	}

	commonPaths := []string{
		"pixgrid.yaml",
		"pixgrid.yml",
		"/etc/pixgrid/config.yaml",
		"/etc/pixgrid/config.yml",
	}

	for _, path := range commonPaths {
		if fileExists(path) {
			return path
		}
	}

	return configFile
}
