// Package ratelimit coordinates listings-provider call budgets across
// processes through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultCallsPerWindow = 120
	DefaultReservedShare  = 0.6
	DefaultWindowSize     = time.Minute
)

// Redis key prefixes for provider budget tracking.
const (
	KeyPrefixTotal    = "budget:total:"
	KeyPrefixReserved = "budget:reserved:"
	KeyPrefixShared   = "budget:shared:"
)

// Priority selects the pool a call is charged to.
type Priority int

const (
	// PriorityPaid is for scrape jobs whose credits are already reserved.
	PriorityPaid Priority = iota
	// PriorityBestEffort is for zone retrieval and other unpaid lookups.
	PriorityBestEffort
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityPaid:
		return "paid"
	case PriorityBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// ErrBudgetExhausted is returned by Wait when the context ends before budget frees up
var ErrBudgetExhausted = errors.New("provider call budget exhausted")

// consumeScript atomically checks both the total and the pool counters
// before incrementing them.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local n = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + n > totalBudget or poolUsed + n > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, n)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, n)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + n, poolUsed + n}
`)

// ProviderBudget is a fixed-window call budget for one provider, split into a
// reserved pool for paid jobs and a shared pool for best-effort work.
type ProviderBudget struct {
	redis          redis.Cmdable
	provider       string
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	now            func() time.Time
}

// ProviderBudgetConfig holds configuration for the budget.
type ProviderBudgetConfig struct {
	Redis          redis.Cmdable
	Provider       string
	CallsPerWindow int
	ReservedShare  float64
	WindowSize     time.Duration
	Now            func() time.Time
}

// NewProviderBudget creates a budget with defaults applied
func NewProviderBudget(cfg *ProviderBudgetConfig) (*ProviderBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Provider == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.CallsPerWindow < 0 {
		return nil, errors.New("calls per window cannot be negative")
	}
	if cfg.ReservedShare < 0 || cfg.ReservedShare > 1 {
		return nil, fmt.Errorf("reserved share %.2f must be within [0,1]", cfg.ReservedShare)
	}

	total := cfg.CallsPerWindow
	if total == 0 {
		total = DefaultCallsPerWindow
	}
	share := cfg.ReservedShare
	if share == 0 {
		share = DefaultReservedShare
	}
	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	reserved := int(float64(total) * share)
	return &ProviderBudget{
		redis:          cfg.Redis,
		provider:       cfg.Provider,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     window,
		now:            now,
	}, nil
}

func (b *ProviderBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *ProviderBudget) keys(start time.Time) (totalKey, reservedKey, sharedKey string) {
	suffix := b.provider + ":" + strconv.FormatInt(start.UnixMilli(), 10)
	return KeyPrefixTotal + suffix, KeyPrefixReserved + suffix, KeyPrefixShared + suffix
}

// TryConsume charges n calls to the pool for priority. When refused, it
// returns the time until the next window. Redis errors are returned so
// callers can decide whether to fail open.
func (b *ProviderBudget) TryConsume(ctx context.Context, n int, priority Priority) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)
	poolKey, poolBudget := sharedKey, b.sharedBudget
	if priority == PriorityPaid {
		poolKey, poolBudget = reservedKey, b.reservedBudget
	}

	ttl := int((2 * b.windowSize).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	res, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		n, b.totalBudget, poolBudget, ttl).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("provider budget script failed: %w", err)
	}
	if res[0] == 1 {
		return true, 0, nil
	}

	wait := start.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return false, wait + time.Millisecond, nil
}

// Wait blocks until n calls are granted or ctx ends
func (b *ProviderBudget) Wait(ctx context.Context, n int, priority Priority) error {
	for {
		ok, wait, err := b.TryConsume(ctx, n, priority)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrBudgetExhausted, ctx.Err())
		case <-timer.C:
		}
	}
}

// Usage is a snapshot of the current window
type Usage struct {
	Provider       string    `json:"provider"`
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// GetUsage returns current window counters
func (b *ProviderBudget) GetUsage(ctx context.Context) (*Usage, error) {
	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read provider budget: %w", err)
	}

	return &Usage{
		Provider:       b.provider,
		TotalUsed:      parseIntOrZero(totalCmd),
		ReservedUsed:   parseIntOrZero(reservedCmd),
		SharedUsed:     parseIntOrZero(sharedCmd),
		TotalBudget:    b.totalBudget,
		ReservedBudget: b.reservedBudget,
		SharedBudget:   b.sharedBudget,
		WindowStart:    start,
	}, nil
}

// parseIntOrZero parses a Redis string command result as int, returning 0 on error.
func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}
