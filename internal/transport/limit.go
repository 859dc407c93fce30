package transport

import (
	"pixgrid/internal/core/types"

	"golang.org/x/time/rate"
)

// NewRateLimiter builds a byte-rate limiter for background blob downloads.
// A zero rate means unlimited: advisory caching should never be able to
// saturate the link just because no limit was configured low enough.
func NewRateLimiter(rateLimit, rateBurst types.Bytes) *rate.Limiter {
	if rateLimit == 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	burst := int(rateBurst.Uint64())
	// Keep the burst sane relative to the rate
	if ceiling := int(rateLimit.Uint64() / 10); burst > ceiling && ceiling > 0 {
		burst = ceiling
	}
	if burst < 1 {
		burst = 1
	}

	return rate.NewLimiter(rate.Limit(rateLimit.Uint64()), burst)
}
