package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/geo"
)

var parisTile = geo.Bounds{South: 48.85, West: 2.33, North: 48.868, East: 2.348}

func TestOverpassClient_BuildQuery(t *testing.T) {
	c := NewOverpassClient(nil, 25*time.Second)
	q := c.BuildQuery(parisTile, []category.OSMTag{{Key: "shop", Value: "bakery"}})

	assert.Contains(t, q, "[out:json][timeout:25];")
	assert.Contains(t, q, `node["shop"="bakery"](48.850000,2.330000,48.868000,2.348000);`)
	assert.Contains(t, q, `way["shop"="bakery"]`)
	assert.Contains(t, q, "out center tags;")
}

func TestOverpassClient_FetchParsesNodesAndWays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("data"), `"shop"="bakery"`)
		_, _ = w.Write([]byte(`{"elements":[
			{"type":"node","id":1,"lat":48.86,"lon":2.34,"tags":{"name":"Du Pain"}},
			{"type":"way","id":2,"center":{"lat":48.861,"lon":2.341},"tags":{"name":"Le Fournil"}}
		]}`))
	}))
	defer srv.Close()

	c := NewOverpassClient(srv.Client(), 0)
	els, err := c.Fetch(context.Background(), srv.URL, parisTile, category.OSMTags(category.Bakery))
	require.NoError(t, err)
	require.Len(t, els, 2)

	assert.Equal(t, "node/1", els[0].Key())
	assert.Equal(t, "Du Pain", els[0].Name())
	assert.Equal(t, "way/2", els[1].Key())
	assert.InDelta(t, 48.861, els[1].Lat, 1e-9)
	assert.InDelta(t, 2.341, els[1].Lon, 1e-9)
}

func TestOverpassClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"too many requests", http.StatusTooManyRequests, "rate", KindQuota},
		{"gateway timeout", http.StatusGatewayTimeout, "slow", KindTimeout},
		{"server error", http.StatusInternalServerError, "boom", KindUnavailable},
		{"remark timeout", http.StatusOK, `{"elements":[],"remark":"runtime error: Query timed out"}`, KindTimeout},
		{"malformed", http.StatusOK, `<html>`, KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOverpassClient(srv.Client(), 0).Fetch(context.Background(), srv.URL, parisTile, category.OSMTags(category.Cafe))
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestOverpassClient_ContextDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewOverpassClient(srv.Client(), 0).Fetch(ctx, srv.URL, parisTile, category.OSMTags(category.Cafe))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}
