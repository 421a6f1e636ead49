package network

import (
	"time"

	"golang.org/x/time/rate"
)

// Guilded does not publish rate limits for its web API.  The safe
// cadence, established empirically, is one request per 500ms, i.e. 120
// events per minute.  CDN downloads are throttled separately and far
// more leniently.
const (
	// APIPerMin is the base API request rate, events per minute.
	APIPerMin = 120
	// CDNPerMin is the base attachment download rate, events per minute.
	CDNPerMin = 600
)

// NewLimiter returns a throttler with perMin requests per minute.
// Optionally the caller may specify a boost, added to the base rate.
func NewLimiter(perMin int, burst uint, boost int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(every(perMin, boost)), int(burst))
}

func every(perMin int, boost int) time.Duration {
	return time.Minute / time.Duration(perMin+boost)
}
