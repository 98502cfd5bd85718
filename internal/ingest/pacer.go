package ingest

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer hands out one token bucket per channel so backfills on different
// channels never wait on each other.
type pacer struct {
	every time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPacer(every time.Duration) *pacer {
	return &pacer{every: every, limiters: make(map[string]*rate.Limiter)}
}

// limiter returns the bucket for channelID, creating it on first use. A
// non-positive interval disables pacing.
func (p *pacer) limiter(channelID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[channelID]
	if !ok {
		limit := rate.Inf
		if p.every > 0 {
			limit = rate.Every(p.every)
		}
		l = rate.NewLimiter(limit, 1)
		p.limiters[channelID] = l
	}
	return l
}
