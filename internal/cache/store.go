package cache

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pixgrid/internal/core/types"
)

const tmpSuffix = ".tmp"

// Store is a disk-backed key to blob store under a single cache root.
// Recency is tracked through file modification times: Put stamps the blob
// with the current time and Get refreshes the stamp before returning, so
// the eviction policy can order entries oldest-first by mtime alone.
//
// The store owns the cache directory but tolerates foreign files inside
// it: they count toward SizeBytes and are removed by Clear, while entry
// listings skip anything still carrying the temp suffix.
type Store struct {
	mu   sync.RWMutex
	root string
}

// Entry describes one blob on disk, as seen by the eviction policy.
type Entry struct {
	Key     string
	Path    string
	Size    types.Bytes
	ModTime time.Time
}

// NewStore creates the cache root if needed and returns a store over it.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, types.CacheFailure("cache root cannot be empty", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, types.CacheFailure("create cache root", err)
	}
	return &Store{root: root}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the on-disk location a key maps to, whether or not a blob
// currently exists there.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, key)
}

// Put writes a blob atomically: the data lands in a unique temp file which
// is then renamed over the final path. Concurrent puts to the same key are
// last-writer-wins; a reader never observes a partial blob. The file mtime
// is set to now, marking the entry most recently used.
func (s *Store) Put(key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.root, key+".*"+tmpSuffix)
	if err != nil {
		return "", types.CacheFailure("create temp blob", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", types.CacheFailure("write blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", types.CacheFailure("close temp blob", err)
	}

	dest := s.Path(key)
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", types.CacheFailure("rename temp blob", err)
	}

	now := time.Now()
	if err := os.Chtimes(dest, now, now); err != nil {
		return "", types.CacheFailure("stamp blob mtime", err)
	}

	return dest, nil
}

// Get returns the blob path for a key if a backing file exists. On a hit
// the mtime is refreshed before returning, so the entry counts as recently
// used. Absence is not an error.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.Path(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, types.CacheFailure("stat blob", err)
	}

	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		// The file may have vanished between stat and touch
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, types.CacheFailure("refresh blob mtime", err)
	}

	return path, true, nil
}

// Read returns the blob contents for a key, refreshing recency like Get.
func (s *Store) Read(key string) ([]byte, bool, error) {
	path, ok, err := s.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, types.CacheFailure("read blob", err)
	}
	return data, true, nil
}

// Contains reports whether a backing file exists for the key without
// refreshing its recency.
func (s *Store) Contains(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// Remove deletes the blob for a key. A blob that is already gone counts as
// success, since eviction and background writers may race.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return types.CacheFailure("remove blob", err)
	}
	return nil
}

// SizeBytes returns the aggregate size of everything under the cache root.
// This is always a full recursive scan, never a maintained counter, so the
// result is authoritative even when foreign processes mutate the
// directory. Foreign files are counted in the sum.
func (s *Store) SizeBytes() (types.Bytes, error) {
	var total types.Bytes

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk; keep scanning
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += types.Bytes(info.Size())
		return nil
	})
	if err != nil {
		return 0, types.CacheFailure("scan cache root", err)
	}

	return total, nil
}

// Entries lists the blobs under the cache root with their sizes and
// modification times. In-progress temp files are skipped.
func (s *Store) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, types.CacheFailure("list cache root", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || strings.HasSuffix(d.Name(), tmpSuffix) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, types.CacheFailure("stat cache entry", err)
		}
		entries = append(entries, Entry{
			Key:     d.Name(),
			Path:    filepath.Join(s.root, d.Name()),
			Size:    types.Bytes(info.Size()),
			ModTime: info.ModTime(),
		})
	}

	return entries, nil
}

// Clear deletes every file under the cache root, foreign files included.
// Files that disappear concurrently are not errors.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return types.CacheFailure("clear cache root", err)
	}
	return nil
}
