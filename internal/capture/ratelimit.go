package capture

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies three tiers of limiting to outbound fetches: one global
// bucket protecting this process, one per target domain respecting the site,
// and one per owner for fair usage.
type RateLimiter struct {
	globalLimiter     *rate.Limiter
	perDomainLimiters sync.Map // map[string]*rate.Limiter
	perOwnerLimiters  sync.Map // map[string]*rate.Limiter
	perOwnerRate      float64
}

// NewRateLimiter creates a three-tier rate limiter
func NewRateLimiter(globalRate, perOwnerRate float64) *RateLimiter {
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRate), int(globalRate*2)),
		perOwnerRate:  perOwnerRate,
	}
}

// Wait blocks until all three tiers admit one request, honoring the domain's
// robots.txt crawl delay
func (rl *RateLimiter) Wait(ctx context.Context, ownerID, domain string, crawlDelay time.Duration) error {
	if err := rl.globalLimiter.Wait(ctx); err != nil {
		return err
	}

	domainLimiter := rl.domainLimiter(domain, crawlDelay)
	if err := domainLimiter.Wait(ctx); err != nil {
		return err
	}

	ownerLimiter := rl.ownerLimiter(ownerID)
	return ownerLimiter.Wait(ctx)
}

// domainLimiter gets or creates the limiter for a domain, sized from the
// crawl delay and clamped to [0.2, 5] requests per second
func (rl *RateLimiter) domainLimiter(domain string, crawlDelay time.Duration) *rate.Limiter {
	if limiter, ok := rl.perDomainLimiters.Load(domain); ok {
		return limiter.(*rate.Limiter)
	}

	requestsPerSecond := 2.0
	if crawlDelay > 0 {
		requestsPerSecond = 1.0 / crawlDelay.Seconds()
	}
	if requestsPerSecond > 5.0 {
		requestsPerSecond = 5.0
	}
	if requestsPerSecond < 0.2 {
		requestsPerSecond = 0.2
	}

	newLimiter := rate.NewLimiter(rate.Limit(requestsPerSecond), 1)

	// Another goroutine may have created one in the meantime; use whichever won
	actual, _ := rl.perDomainLimiters.LoadOrStore(domain, newLimiter)
	return actual.(*rate.Limiter)
}

// ownerLimiter gets or creates the limiter for an owner
func (rl *RateLimiter) ownerLimiter(ownerID string) *rate.Limiter {
	if limiter, ok := rl.perOwnerLimiters.Load(ownerID); ok {
		return limiter.(*rate.Limiter)
	}

	newLimiter := rate.NewLimiter(rate.Limit(rl.perOwnerRate), int(rl.perOwnerRate*2))

	actual, _ := rl.perOwnerLimiters.LoadOrStore(ownerID, newLimiter)
	return actual.(*rate.Limiter)
}
