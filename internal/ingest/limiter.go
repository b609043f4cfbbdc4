package ingest

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// deviceLimiter throttles each collector independently so one bouncing
// antenna cannot starve the rest of the field.
type deviceLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newDeviceLimiter(perSecond float64, burst int) *deviceLimiter {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &deviceLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (dl *deviceLimiter) allow(deviceID uuid.UUID) bool {
	dl.mu.Lock()
	limiter, ok := dl.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(dl.limit, dl.burst)
		dl.limiters[deviceID] = limiter
	}
	dl.mu.Unlock()

	return limiter.Allow()
}
