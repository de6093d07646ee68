package api

import (
	"math"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lead-scanner/internal/config"
	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/types"
)

// RateLimiter manages per-account request limits by plan
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	// requests per second per plan
	limits map[types.Plan]rate.Limit
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limits: map[types.Plan]rate.Limit{
			types.PlanFree:       rate.Limit(cfg.FreeRPS),
			types.PlanStarter:    rate.Limit(cfg.StarterRPS),
			types.PlanPro:        rate.Limit(cfg.ProRPS),
			types.PlanEnterprise: rate.Limit(cfg.EnterpriseRPS),
		},
	}
}

// getLimiter returns the limiter for an account on a plan. A plan change
// gets a fresh limiter.
func (rl *RateLimiter) getLimiter(accountID string, plan types.Plan) *rate.Limiter {
	limit, ok := rl.limits[plan]
	if !ok {
		plan, limit = types.PlanFree, rl.limits[types.PlanFree]
	}
	key := string(plan) + ":" + accountID

	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	if limit <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		// bursts of two seconds' worth of requests
		burst := int(math.Max(1, float64(limit)*2))
		limiter = rate.NewLimiter(limit, burst)
	}
	rl.limiters[key] = limiter
	return limiter
}

// RateLimitMiddleware rejects requests over the account's plan rate.
// The plan comes from X-User-Plan, set by the gateway; free is assumed.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := r.Header.Get(headerUserID)
			if accountID == "" {
				accountID = clientIP(r)
			}
			plan := types.Plan(r.Header.Get(headerUserPlan))
			if plan == "" {
				plan = types.PlanFree
			}

			limiter := rl.getLimiter(accountID, plan)
			if !limiter.Allow() {
				retry := 1
				if l := limiter.Limit(); l > 0 && l < 1 {
					retry = int(math.Ceil(1 / float64(l)))
				}
				respondError(w, r, apperrors.NewRateLimitError(retry))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
