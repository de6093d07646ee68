package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/geo"
)

// Element is one open geo-data feature
type Element struct {
	Type string            `json:"type"`
	ID   int64             `json:"id"`
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags,omitempty"`
}

// Key is the element identity used for deduplication across tiles
func (e Element) Key() string {
	return fmt.Sprintf("%s/%d", e.Type, e.ID)
}

// Name returns the element's name tag
func (e Element) Name() string {
	return e.Tags["name"]
}

// OverpassClient queries an Overpass-compatible endpoint for tagged features
// in a bounding box
type OverpassClient struct {
	client        *http.Client
	serverTimeout time.Duration
}

// NewOverpassClient creates a client; httpClient may be nil
func NewOverpassClient(httpClient *http.Client, serverTimeout time.Duration) *OverpassClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if serverTimeout <= 0 {
		serverTimeout = 25 * time.Second
	}
	return &OverpassClient{client: httpClient, serverTimeout: serverTimeout}
}

type overpassResponse struct {
	Elements []struct {
		Type   string  `json:"type"`
		ID     int64   `json:"id"`
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
		Center *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"center"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
	Remark string `json:"remark"`
}

// BuildQuery renders the Overpass QL for tags inside b
func (c *OverpassClient) BuildQuery(b geo.Bounds, tags []category.OSMTag) string {
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.South, b.West, b.North, b.East)
	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];(", int(c.serverTimeout.Seconds()))
	for _, t := range tags {
		for _, kind := range []string{"node", "way"} {
			fmt.Fprintf(&sb, `%s["%s"="%s"](%s);`, kind, t.Key, t.Value, bbox)
		}
	}
	sb.WriteString(");out center tags;")
	return sb.String()
}

// Fetch runs the query against endpoint. The caller's context bounds the attempt.
func (c *OverpassClient) Fetch(ctx context.Context, endpoint string, b geo.Bounds, tags []category.OSMTag) ([]Element, error) {
	form := url.Values{"data": {c.BuildQuery(b, tags)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, classifyTransportError(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, classifyTransportError(endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(endpoint, resp.StatusCode, truncate(string(body), 200))
	}

	var parsed overpassResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{Provider: endpoint, Kind: KindMalformed, Err: err}
	}
	if strings.Contains(parsed.Remark, "timed out") || strings.Contains(parsed.Remark, "runtime error") {
		return nil, &ProviderError{Provider: endpoint, Kind: KindTimeout, Err: errors.New(parsed.Remark)}
	}

	out := make([]Element, 0, len(parsed.Elements))
	for _, el := range parsed.Elements {
		e := Element{Type: el.Type, ID: el.ID, Lat: el.Lat, Lon: el.Lon, Tags: el.Tags}
		if el.Center != nil {
			e.Lat, e.Lon = el.Center.Lat, el.Center.Lon
		}
		out = append(out, e)
	}
	return out, nil
}
