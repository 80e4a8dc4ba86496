package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket in front of the completion endpoint. The
// classifier and the chat path share one bucket per client.
type RateLimiter struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	perSec float64
	last   time.Time
	now    func() time.Time
}

// NewRateLimiter allows ratePerMinute calls with bursts of up to a tenth of
// a minute's budget (at least one).
func NewRateLimiter(ratePerMinute float64) *RateLimiter {
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	burst := float64(int(ratePerMinute/10) + 1)
	return &RateLimiter{
		tokens: burst,
		burst:  burst,
		perSec: ratePerMinute / 60,
		last:   time.Now(),
		now:    time.Now,
	}
}

// reserve takes a token if one is available, otherwise reports how long until
// the next one.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.burst, rl.tokens+now.Sub(rl.last).Seconds()*rl.perSec)
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.perSec * float64(time.Second))
}

// Wait blocks until a token is available and returns the time spent waiting.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		d := rl.reserve()
		if d == 0 {
			return waited, nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += d
		}
	}
}
