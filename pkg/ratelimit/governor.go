package ratelimit

import (
	"context"
	"sync"
	"time"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/retry"
	"github.com/SoCaTel/data-handlers/pkg/twitter"
)

// QuotaReader reports the current rate-limit state for resource families
type QuotaReader interface {
	RateLimitStatus(ctx context.Context, resources ...string) (*twitter.RateLimitStatus, error)
}

// Governor enforces quota backoff for one endpoint under one credential set.
// After the API signals exhaustion it reads the reported reset timestamp and
// suspends the caller until quota is restored.
type Governor struct {
	api      QuotaReader
	resource string
	endpoint string

	// maxWait caps the cumulative wait across quota windows; 0 = unlimited
	maxWait time.Duration
	waited  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	logger logger.Logger
}

// NewGovernor creates a governor for the given rate-limit resource/endpoint pair
func NewGovernor(api QuotaReader, resource, endpoint string, maxWait time.Duration, log logger.Logger) *Governor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Governor{
		api:      api,
		resource: resource,
		endpoint: endpoint,
		maxWait:  maxWait,
		now:      time.Now,
		sleep:    retry.Wait,
		logger:   log,
	}
}

// AwaitQuota reads the endpoint's limit state and suspends the caller until
// the reported reset time. Only the calling task blocks. An unreadable limit
// state fails the current subject; an exceeded wait budget does the same.
func (g *Governor) AwaitQuota(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	status, err := g.api.RateLimitStatus(ctx, g.resource)
	if err != nil {
		return errs.Newf(errs.ErrorTypeTransport, "rate limit state unreadable: %v", err)
	}

	limit, ok := status.Endpoint(g.resource, g.endpoint)
	if !ok {
		return errs.Newf(errs.ErrorTypeTransport,
			"rate limit state missing endpoint %s/%s", g.resource, g.endpoint)
	}

	wait := time.Unix(limit.Reset, 0).Sub(g.now())
	if wait <= 0 {
		return nil
	}

	if g.maxWait > 0 && g.waited+wait > g.maxWait {
		g.logger.ErrorWithFields("quota wait budget exceeded", map[string]interface{}{
			"endpoint":  g.endpoint,
			"waited":    g.waited,
			"next_wait": wait,
			"max_wait":  g.maxWait,
		})
		return errs.Newf(errs.ErrorTypeTransport,
			"quota wait budget of %s exceeded for %s", g.maxWait, g.endpoint)
	}
	g.waited += wait

	g.logger.InfoWithFields("quota exhausted, sleeping until reset", map[string]interface{}{
		"endpoint":  g.endpoint,
		"remaining": limit.Remaining,
		"reset":     time.Unix(limit.Reset, 0),
		"wait":      wait,
	})

	return g.sleep(ctx, wait)
}

// ResetBudget clears the cumulative wait accounting, called per subject
func (g *Governor) ResetBudget() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waited = 0
}

// Registry hands out one governor and one scan slot per credential
// fingerprint, so concurrent subjects sharing credentials share quota state
// and never fetch in parallel against the same window.
type Registry struct {
	mu        sync.Mutex
	governors map[string]*Governor
	slots     map[string]*sync.Mutex
}

// NewRegistry creates an empty governor registry
func NewRegistry() *Registry {
	return &Registry{
		governors: make(map[string]*Governor),
		slots:     make(map[string]*sync.Mutex),
	}
}

// Governor returns the shared governor for a credential fingerprint,
// creating it with newFn on first use.
func (r *Registry) Governor(fingerprint string, newFn func() *Governor) *Governor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.governors[fingerprint]; ok {
		return g
	}
	g := newFn()
	r.governors[fingerprint] = g
	return g
}

// Acquire takes the scan slot for a credential fingerprint and returns its
// release function. Subjects with distinct credentials proceed in parallel.
func (r *Registry) Acquire(fingerprint string) func() {
	r.mu.Lock()
	slot, ok := r.slots[fingerprint]
	if !ok {
		slot = &sync.Mutex{}
		r.slots[fingerprint] = slot
	}
	r.mu.Unlock()

	slot.Lock()
	return slot.Unlock
}
