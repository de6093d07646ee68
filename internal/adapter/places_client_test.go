package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/ratelimit"
	"github.com/lead-scanner/internal/types"
)

func place(id, name string) map[string]interface{} {
	return map[string]interface{}{
		"place_id":          id,
		"name":              name,
		"formatted_address": name + " street",
		"geometry":          map[string]interface{}{"location": map[string]float64{"lat": 48.85, "lng": 2.35}},
		"types":             []string{"bakery"},
	}
}

func newTestPlacesClient(t *testing.T, srv *httptest.Server, maxResults int) *PlacesClient {
	t.Helper()
	c, err := NewPlacesClient(PlacesClientConfig{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		MaxResults:     maxResults,
		RequestsPerSec: 1000,
		HTTPClient:     srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func bakerySearch() SearchRequest {
	return SearchRequest{
		Params: types.SearchParams{
			City:         "Paris",
			BusinessType: "boulangerie",
			Location:     types.Coordinates{Lat: 48.85, Lon: 2.35},
			RadiusKm:     2,
		},
		Category:      category.Bakery,
		ProviderTypes: category.ProviderTypes(category.Bakery),
	}
}

func TestPlacesClient_SearchFollowsPageTokens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/textsearch/json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var resp map[string]interface{}
		switch r.URL.Query().Get("pagetoken") {
		case "":
			assert.Equal(t, "bakery Paris", r.URL.Query().Get("query"))
			assert.Equal(t, "2000", r.URL.Query().Get("radius"))
			resp = map[string]interface{}{
				"status":          "OK",
				"results":         []interface{}{place("p1", "A"), place("p2", "B")},
				"next_page_token": "page2",
			}
		case "page2":
			resp = map[string]interface{}{
				"status":  "OK",
				"results": []interface{}{place("p2", "B"), place("p3", "C")},
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestPlacesClient(t, srv, 60)
	got, err := c.Search(context.Background(), bakerySearch())
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].PlaceID)
	assert.Equal(t, "p3", got[2].PlaceID)
	assert.Equal(t, "Paris", got[0].City)
	assert.Equal(t, string(category.Bakery), got[0].Category)
	assert.InDelta(t, 2.35, got[0].Lon, 1e-9)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPlacesClient_SearchRespectsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "OK",
			"results":         []interface{}{place("p1", "A"), place("p2", "B"), place("p3", "C")},
			"next_page_token": "more",
		})
	}))
	defer srv.Close()

	c := newTestPlacesClient(t, srv, 2)
	got, err := c.Search(context.Background(), bakerySearch())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPlacesClient_WithContactFetchesDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/textsearch/json":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "OK",
				"results": []interface{}{place("p1", "A"), place("p2", "B")},
			})
		case "/details/json":
			if r.URL.Query().Get("place_id") == "p2" {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "NOT_FOUND"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "OK",
				"result": map[string]interface{}{
					"formatted_phone_number": "01 23 45 67 89",
					"website":                "https://a.example",
					"opening_hours":          map[string]interface{}{"weekday_text": []string{"Monday: 7-19"}},
				},
			})
		}
	}))
	defer srv.Close()

	c := newTestPlacesClient(t, srv, 60)
	req := bakerySearch()
	req.Params.WithContact = true

	got, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "01 23 45 67 89", got[0].Phone)
	assert.Equal(t, "https://a.example", got[0].Website)
	assert.Equal(t, []string{"Monday: 7-19"}, got[0].OpeningHours)
	assert.Empty(t, got[1].Phone)
}

func TestPlacesClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"http 429", http.StatusTooManyRequests, `{}`, KindQuota},
		{"http 503", http.StatusServiceUnavailable, `oops`, KindUnavailable},
		{"http 504", http.StatusGatewayTimeout, `slow`, KindTimeout},
		{"http 400", http.StatusBadRequest, `bad`, KindBadRequest},
		{"body quota", http.StatusOK, `{"status":"OVER_QUERY_LIMIT"}`, KindQuota},
		{"body denied", http.StatusOK, `{"status":"REQUEST_DENIED","error_message":"key"}`, KindBadRequest},
		{"malformed", http.StatusOK, `{not json`, KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestPlacesClient(t, srv, 20)
			_, err := c.Search(context.Background(), bakerySearch())
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

type deniedBudget struct{}

func (deniedBudget) Wait(ctx context.Context, n int, priority ratelimit.Priority) error {
	return ratelimit.ErrBudgetExhausted
}

func TestPlacesClient_BudgetExhaustedIsQuota(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c, err := NewPlacesClient(PlacesClientConfig{BaseURL: srv.URL, HTTPClient: srv.Client(), Budget: deniedBudget{}})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), bakerySearch())
	require.Error(t, err)
	assert.Equal(t, KindQuota, KindOf(err))
	assert.True(t, errors.Is(err, ratelimit.ErrBudgetExhausted))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&ProviderError{Kind: KindNetwork}))
	assert.True(t, IsTransient(&ProviderError{Kind: KindQuota}))
	assert.False(t, IsTransient(&ProviderError{Kind: KindTimeout}))
	assert.False(t, IsTransient(&ProviderError{Kind: KindBadRequest}))
	assert.False(t, IsTransient(errors.New("plain")))
}
