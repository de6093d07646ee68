package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/geo"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/telemetry"
	"github.com/lead-scanner/internal/types"
)

// BusinessStore reads the shared business cache
type BusinessStore interface {
	Stats(ctx context.Context, q models.BusinessQuery, now time.Time) (models.CacheStats, error)
	Find(ctx context.Context, q models.BusinessQuery) ([]*models.CachedBusiness, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.CachedBusiness, error)
}

// Memo is a short-lived JSON cache in front of the resolver
type Memo interface {
	GenerateCacheKey(keyType storage.CacheKeyType, params ...string) string
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Resolution is the freshness verdict for an area
type Resolution struct {
	Status            types.CacheStatus        `json:"status"`
	Count             int                      `json:"count"`
	AvgFreshnessHours float64                  `json:"avgFreshnessHours"`
	Businesses        []*models.CachedBusiness `json:"businesses,omitempty"`
}

// CacheResolver classifies cached rows for an area as fresh, stale or none
type CacheResolver struct {
	store BusinessStore
	memo  Memo
	cfg   config.FreshnessConfig
	now   types.Clock
}

// NewCacheResolver creates a resolver. memo may be nil.
func NewCacheResolver(store BusinessStore, memo Memo, cfg config.FreshnessConfig, now types.Clock) *CacheResolver {
	if now == nil {
		now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &CacheResolver{store: store, memo: memo, cfg: cfg, now: now}
}

// Classify maps a row count and mean age to a cache status
func Classify(count int, avgAge time.Duration, cfg config.FreshnessConfig) types.CacheStatus {
	switch {
	case count == 0:
		return types.CacheNone
	case avgAge < cfg.FreshAge:
		return types.CacheFresh
	case avgAge < cfg.StaleAge:
		return types.CacheStale
	default:
		return types.CacheNone
	}
}

// BuildQuery turns search parameters into a cache query over the bounding box
func BuildQuery(params types.SearchParams, cat category.Category, limit int) models.BusinessQuery {
	return models.BusinessQuery{
		Bounds:        geo.BoundingBox(params.Location, params.RadiusKm),
		Category:      string(cat),
		ProviderTypes: category.ProviderTypes(cat),
		Keyword:       params.Keywords,
		Limit:         limit,
	}
}

// areaKey identifies the cache area of a search independent of the account
func areaKey(params types.SearchParams, cat category.Category) string {
	raw := fmt.Sprintf("%.5f|%.5f|%.3f|%s|%s",
		params.Location.Lat, params.Location.Lon, params.RadiusKm, cat, category.Fold(params.Keywords))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:12])
}

// Resolve returns the cache status for params. Rows are only loaded and
// returned when the status is fresh.
func (r *CacheResolver) Resolve(ctx context.Context, params types.SearchParams, cat category.Category) (*Resolution, error) {
	logger := logging.FromContext(ctx).WithComponent("cache_resolver")

	var key string
	if r.memo != nil {
		key = r.memo.GenerateCacheKey(storage.CacheKeyCacheCheck, areaKey(params, cat))
		var cached Resolution
		found, err := r.memo.Get(ctx, key, &cached)
		if err != nil {
			logger.WithError(err).Warn("Cache-check memo read failed")
		} else if found {
			telemetry.RecordCacheCheck(string(cached.Status))
			return &cached, nil
		}
	}

	q := BuildQuery(params, cat, r.cfg.PageSize)
	stats, err := r.store.Stats(ctx, q, r.now())
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Status:            Classify(stats.Count, stats.AvgAge, r.cfg),
		Count:             stats.Count,
		AvgFreshnessHours: stats.AvgAge.Hours(),
	}
	if res.Status == types.CacheFresh {
		res.Businesses, err = r.store.Find(ctx, q)
		if err != nil {
			return nil, err
		}
	}

	if r.memo != nil {
		if err := r.memo.Set(ctx, key, res); err != nil {
			logger.WithError(err).Warn("Cache-check memo write failed")
		}
	}

	telemetry.RecordCacheCheck(string(res.Status))
	logger.WithFields(map[string]interface{}{
		"status":   res.Status,
		"count":    res.Count,
		"avgHours": res.AvgFreshnessHours,
	}).Debug("Resolved cache status")
	return res, nil
}

// Invalidate drops the memoized verdict for an area after new rows land
func (r *CacheResolver) Invalidate(ctx context.Context, params types.SearchParams) error {
	if r.memo == nil {
		return nil
	}
	cat, _ := category.Resolve(params.BusinessType)
	return r.memo.Invalidate(ctx, r.memo.GenerateCacheKey(storage.CacheKeyCacheCheck, areaKey(params, cat)))
}
