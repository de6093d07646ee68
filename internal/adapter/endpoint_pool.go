package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lead-scanner/internal/logging"
)

// EndpointPool rotates requests across redundant mirrors of one service.
// Callers pick an endpoint per attempt; endpoints that fail are cooled down
// and skipped until their cooldown expires.
type EndpointPool struct {
	endpoints    []string
	limiters     []*rate.Limiter
	mu           sync.Mutex
	next         int
	cooldowns    map[int]time.Time
	cooldownTime time.Duration
	now          func() time.Time
}

// EndpointPoolConfig holds configuration for creating an endpoint pool
type EndpointPoolConfig struct {
	Endpoints []string
	// CooldownTime is how long a failed endpoint is skipped. Default: 30s
	CooldownTime time.Duration
	// RequestsPerSec paces each endpoint individually. Zero disables pacing.
	RequestsPerSec float64
	Now            func() time.Time
}

// NewEndpointPool creates a pool over the given endpoints
func NewEndpointPool(cfg EndpointPoolConfig) (*EndpointPool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}
	cooldown := cfg.CooldownTime
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	limiters := make([]*rate.Limiter, len(cfg.Endpoints))
	for i := range limiters {
		if cfg.RequestsPerSec > 0 {
			limiters[i] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
		} else {
			limiters[i] = rate.NewLimiter(rate.Inf, 1)
		}
	}

	return &EndpointPool{
		endpoints:    append([]string(nil), cfg.Endpoints...),
		limiters:     limiters,
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldown,
		now:          now,
	}, nil
}

// Len returns the number of endpoints
func (p *EndpointPool) Len() int { return len(p.endpoints) }

// Pick returns the next endpoint in round-robin order, skipping cooled-down
// ones. When every endpoint is cooling down, the plain round-robin choice is
// returned anyway so callers always make progress.
func (p *EndpointPool) Pick() (index int, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	start := p.next
	p.next = (p.next + 1) % n

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if until, ok := p.cooldowns[idx]; ok {
			if p.now().Sub(until) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, idx)
		}
		return idx, p.endpoints[idx]
	}
	return start, p.endpoints[start]
}

// Wait blocks until the endpoint's pacing limiter allows a request
func (p *EndpointPool) Wait(ctx context.Context, index int) error {
	return p.limiters[index].Wait(ctx)
}

// MarkFailed puts an endpoint in cooldown
func (p *EndpointPool) MarkFailed(index int, err error) {
	p.mu.Lock()
	p.cooldowns[index] = p.now()
	p.mu.Unlock()

	logging.WithFields(map[string]interface{}{
		"endpoint": p.endpoints[index],
		"cooldown": p.cooldownTime,
	}).WithError(err).Warn("Endpoint failed, cooling down")
}

// MarkHealthy clears an endpoint's cooldown
func (p *EndpointPool) MarkHealthy(index int) {
	p.mu.Lock()
	delete(p.cooldowns, index)
	p.mu.Unlock()
}

// EndpointStatus represents the status of a single endpoint
type EndpointStatus struct {
	URL               string        `json:"url"`
	InCooldown        bool          `json:"inCooldown"`
	CooldownRemaining time.Duration `json:"cooldownRemaining,omitempty"`
}

// Status returns the current status of every endpoint
func (p *EndpointPool) Status() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]EndpointStatus, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = EndpointStatus{URL: ep}
		if since, ok := p.cooldowns[i]; ok {
			if remaining := p.cooldownTime - p.now().Sub(since); remaining > 0 {
				out[i].InCooldown = true
				out[i].CooldownRemaining = remaining
			}
		}
	}
	return out
}
