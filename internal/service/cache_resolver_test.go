package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

var paris = types.Coordinates{Lat: 48.8566, Lon: 2.3522}

func bakeryAt(id string, at types.Coordinates, updated time.Time) *models.CachedBusiness {
	return &models.CachedBusiness{
		PlaceID:       id,
		Name:          "Boulangerie " + id,
		Address:       id + " rue de Rivoli",
		Lat:           at.Lat,
		Lon:           at.Lon,
		Category:      string(category.Bakery),
		Types:         []string{"bakery"},
		LastUpdatedAt: updated,
	}
}

func bakerySearchParams() types.SearchParams {
	return types.SearchParams{City: "Paris", BusinessType: "boulangerie", Location: paris, RadiusKm: 2}
}

func TestClassify(t *testing.T) {
	cfg := testFreshness()
	day := 24 * time.Hour
	tests := []struct {
		name  string
		count int
		age   time.Duration
		want  types.CacheStatus
	}{
		{"five days", 10, 5 * day, types.CacheFresh},
		{"ten days", 10, 10 * day, types.CacheStale},
		{"forty days", 10, 40 * day, types.CacheNone},
		{"empty", 0, 0, types.CacheNone},
		{"exactly seven days", 3, 7 * day, types.CacheStale},
		{"exactly thirty days", 3, 30 * day, types.CacheNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.count, tt.age, cfg))
		})
	}
}

func TestClassifyProperties(t *testing.T) {
	cfg := testFreshness()
	properties := gopter.NewProperties(nil)

	properties.Property("no rows is always none", prop.ForAll(
		func(hours int64) bool {
			return Classify(0, time.Duration(hours)*time.Hour, cfg) == types.CacheNone
		},
		gen.Int64Range(0, 24*365),
	))
	properties.Property("older never classifies fresher", prop.ForAll(
		func(a, b int64) bool {
			rank := map[types.CacheStatus]int{types.CacheFresh: 2, types.CacheStale: 1, types.CacheNone: 0}
			young, old := a, b
			if young > old {
				young, old = old, young
			}
			return rank[Classify(5, time.Duration(young)*time.Hour, cfg)] >= rank[Classify(5, time.Duration(old)*time.Hour, cfg)]
		},
		gen.Int64Range(0, 24*60),
		gen.Int64Range(0, 24*60),
	))

	properties.TestingRun(t)
}

func TestCacheResolver_Resolve(t *testing.T) {
	clock := newTestClock()
	day := 24 * time.Hour
	near := types.Coordinates{Lat: paris.Lat + 0.001, Lon: paris.Lon + 0.001}

	t.Run("fresh rows are returned", func(t *testing.T) {
		store := &fakeBusinessStore{rows: []*models.CachedBusiness{
			bakeryAt("a", near, clock.Now().Add(-4*day)),
			bakeryAt("b", near, clock.Now().Add(-6*day)),
		}}
		r := NewCacheResolver(store, nil, testFreshness(), clock.Now)

		res, err := r.Resolve(context.Background(), bakerySearchParams(), category.Bakery)
		require.NoError(t, err)
		assert.Equal(t, types.CacheFresh, res.Status)
		assert.Equal(t, 2, res.Count)
		assert.InDelta(t, 120, res.AvgFreshnessHours, 0.001)
		assert.Len(t, res.Businesses, 2)
	})

	t.Run("stale returns counts only", func(t *testing.T) {
		store := &fakeBusinessStore{rows: []*models.CachedBusiness{bakeryAt("a", near, clock.Now().Add(-10*day))}}
		r := NewCacheResolver(store, nil, testFreshness(), clock.Now)

		res, err := r.Resolve(context.Background(), bakerySearchParams(), category.Bakery)
		require.NoError(t, err)
		assert.Equal(t, types.CacheStale, res.Status)
		assert.Equal(t, 1, res.Count)
		assert.Empty(t, res.Businesses)
	})

	t.Run("rows outside the box are ignored", func(t *testing.T) {
		lyon := types.Coordinates{Lat: 45.764, Lon: 4.8357}
		store := &fakeBusinessStore{rows: []*models.CachedBusiness{bakeryAt("a", lyon, clock.Now())}}
		r := NewCacheResolver(store, nil, testFreshness(), clock.Now)

		res, err := r.Resolve(context.Background(), bakerySearchParams(), category.Bakery)
		require.NoError(t, err)
		assert.Equal(t, types.CacheNone, res.Status)
		assert.Zero(t, res.Count)
	})

	t.Run("keyword narrows", func(t *testing.T) {
		store := &fakeBusinessStore{rows: []*models.CachedBusiness{
			bakeryAt("a", near, clock.Now()),
			bakeryAt("b", near, clock.Now()),
		}}
		r := NewCacheResolver(store, nil, testFreshness(), clock.Now)
		params := bakerySearchParams()
		params.Keywords = "boulangerie a"

		res, err := r.Resolve(context.Background(), params, category.Bakery)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count)
	})
}

func TestCacheResolver_MemoizesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	memo := storage.NewCacheService(storage.NewRedisCacheFromClient(client), 30*time.Second)

	clock := newTestClock()
	store := &fakeBusinessStore{rows: []*models.CachedBusiness{bakeryAt("a", paris, clock.Now())}}
	r := NewCacheResolver(store, memo, testFreshness(), clock.Now)
	ctx := context.Background()

	first, err := r.Resolve(ctx, bakerySearchParams(), category.Bakery)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, bakerySearchParams(), category.Bakery)
	require.NoError(t, err)

	assert.Equal(t, 1, store.statsCalls)
	assert.Equal(t, first.Status, second.Status)
	require.Len(t, second.Businesses, 1)
	assert.Equal(t, "a", second.Businesses[0].PlaceID)

	require.NoError(t, r.Invalidate(ctx, bakerySearchParams()))
	_, err = r.Resolve(ctx, bakerySearchParams(), category.Bakery)
	require.NoError(t, err)
	assert.Equal(t, 2, store.statsCalls)

	mr.FastForward(time.Minute)
	_, err = r.Resolve(ctx, bakerySearchParams(), category.Bakery)
	require.NoError(t, err)
	assert.Equal(t, 3, store.statsCalls)
}
