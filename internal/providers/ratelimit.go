package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket keyed to a requests-per-minute budget.
// One limiter is shared per provider so concurrent sub-batches never
// exceed the upstream quota in aggregate.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int

	tokens     float64
	lastUpdate time.Time

	totalConsumed int64
	totalWaited   time.Duration
	lastThrottle  time.Time
}

// RateLimiterStatus is a point-in-time snapshot of limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	LastThrottle    time.Time     `json:"last_throttle,omitempty"`
}

const defaultRequestsPerMinute = 150

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		tokens:            float64(requestsPerMinute),
		lastUpdate:        time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1.0 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}

		wait := r.timeUntilToken()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume consumes a token without blocking. It returns false when
// the bucket is empty.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1.0 {
		r.tokens--
		r.totalConsumed++
		return true
	}
	return false
}

// RecordThrottle notes an upstream 429. When the server asked us to
// back off it also drains the bucket so the next Wait pays the full
// refill delay.
func (r *RateLimiter) RecordThrottle(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastThrottle = time.Now()
	if retryAfter > 0 {
		r.tokens = 0
	}
}

// Status reports current limiter state for safety and progress views.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	utilization := 1.0 - (r.tokens / float64(r.requestsPerMinute))
	if utilization < 0 {
		utilization = 0
	}

	var untilToken time.Duration
	if r.tokens < 1.0 {
		untilToken = r.timeUntilToken()
	}

	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.requestsPerMinute,
		Utilization:     utilization,
		TimeUntilToken:  untilToken,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		LastThrottle:    r.lastThrottle,
	}
}

// timeUntilToken estimates the wait for the next token. Lock held.
func (r *RateLimiter) timeUntilToken() time.Duration {
	needed := 1.0 - r.tokens
	rate := float64(r.requestsPerMinute) / 60.0
	return time.Duration(needed/rate*1000) * time.Millisecond
}

// refill adds tokens for the elapsed interval. Lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * float64(r.requestsPerMinute) / 60.0
	if r.tokens > float64(r.requestsPerMinute) {
		r.tokens = float64(r.requestsPerMinute)
	}
}
