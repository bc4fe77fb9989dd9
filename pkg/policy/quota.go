package policy

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// QuotaLimiter enforces EGRESS_MAX_REQUESTS_PER_HOUR per principal using an
// in-process token bucket per principal id. A process restart resets quotas;
// this is acceptable because the egress quota is a throttling control, not
// a durability-sensitive ledger (sec_egress_requests rows remain the
// durable audit trail regardless of limiter state).
type QuotaLimiter struct {
	mu           sync.Mutex
	limiters     map[uuid.UUID]*rate.Limiter
	perHour      int
}

// NewQuotaLimiter builds a limiter allowing perHour egress requests per
// principal, refilled continuously (perHour / 3600 tokens per second) with
// a burst equal to the full hourly allotment.
func NewQuotaLimiter(perHour int) *QuotaLimiter {
	return &QuotaLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		perHour:  perHour,
	}
}

// Allow reports whether principalID has quota remaining, consuming one
// token if so.
func (q *QuotaLimiter) Allow(principalID uuid.UUID) bool {
	q.mu.Lock()
	limiter, ok := q.limiters[principalID]
	if !ok {
		ratePerSec := rate.Limit(float64(q.perHour) / 3600.0)
		limiter = rate.NewLimiter(ratePerSec, q.perHour)
		q.limiters[principalID] = limiter
	}
	q.mu.Unlock()

	return limiter.Allow()
}
