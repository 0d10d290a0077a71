package ingest

import (
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
)

// Backoff curves. Capacity errors back off harder because the extractor
// needs time to drain.
const (
	transientBase = 2 * time.Second
	transientCap  = 5 * time.Minute
	capacityBase  = 15 * time.Second
	capacityCap   = 20 * time.Minute
)

// Backoff returns the delay before the attempt following a failed attempt
// of the given kind. attempt is 1-based.
func Backoff(kind error, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base, factor, limit := transientBase, int64(2), transientCap
	if kind == media.ErrCapacity {
		base, factor, limit = capacityBase, 3, capacityCap
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= time.Duration(factor)
		if d >= limit {
			return limit
		}
	}
	return d
}
