package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key derives the stable cache key for a source URL. Identical URLs always
// map to the same on-disk file name, so retries and concurrent fetches of
// one image converge on a single blob.
func Key(rawURL string) string {
	normalized := strings.TrimRight(rawURL, "/")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
