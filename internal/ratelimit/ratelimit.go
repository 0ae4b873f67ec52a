// Package ratelimit bounds how fast the batch worker dials out for
// verification: a global limiter plus lazily-created per-domain
// limiters.
package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Manager enforces a global rate limit across all domains plus a
// per-domain limit, defaulting unconfigured domains to the default rate
// given to NewManager.
type Manager struct {
	global *rate.Limiter

	mu          sync.RWMutex
	perDomain   map[string]*rate.Limiter
	overrides   map[string]rate.Limit
	defaultRate rate.Limit
}

// NewManager builds a Manager. globalRate bounds total verifications
// per second across all domains; defaultRate bounds any domain not
// named in overrides; overrides maps lowercased domain to its own
// rate (e.g. conservative limits for large mailbox providers).
func NewManager(globalRate, defaultRate rate.Limit, overrides map[string]rate.Limit) *Manager {
	normalized := make(map[string]rate.Limit, len(overrides))
	for domain, r := range overrides {
		normalized[strings.ToLower(domain)] = r
	}
	return &Manager{
		global:      rate.NewLimiter(globalRate, burstFor(globalRate)),
		perDomain:   make(map[string]*rate.Limiter),
		overrides:   normalized,
		defaultRate: defaultRate,
	}
}

func burstFor(r rate.Limit) int {
	if r < 1 {
		return 1
	}
	return int(r)
}

// Wait blocks until both the global and the domain-specific limiter
// admit one more verification, or returns ctx's error if it is
// cancelled first.
func (m *Manager) Wait(ctx context.Context, domain string) error {
	domain = strings.ToLower(domain)

	if err := m.global.Wait(ctx); err != nil {
		return err
	}

	limiter := m.limiterFor(domain)
	return limiter.Wait(ctx)
}

func (m *Manager) limiterFor(domain string) *rate.Limiter {
	m.mu.RLock()
	limiter, ok := m.perDomain[domain]
	m.mu.RUnlock()
	if ok {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, ok = m.perDomain[domain]; ok {
		return limiter
	}
	r := m.defaultRate
	if override, ok := m.overrides[domain]; ok {
		r = override
	}
	limiter = rate.NewLimiter(r, burstFor(r))
	m.perDomain[domain] = limiter
	return limiter
}
