package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lead-scanner/internal/circuitbreaker"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/ratelimit"
	"github.com/lead-scanner/internal/telemetry"
)

// CallBudget is the shared cross-process call budget
type CallBudget interface {
	Wait(ctx context.Context, n int, priority ratelimit.Priority) error
}

// PlacesClient is a text-search listings client with page-token pagination
// and optional per-place contact details
type PlacesClient struct {
	name           string
	apiKey         string
	baseURL        string
	client         *http.Client
	limiter        *rate.Limiter
	breaker        *circuitbreaker.CircuitBreaker
	budget         CallBudget
	maxResults     int
	pageTokenDelay time.Duration
}

// PlacesClientConfig holds configuration for the places client
type PlacesClientConfig struct {
	Name           string
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	MaxResults     int
	RequestsPerSec float64
	Breaker        *circuitbreaker.CircuitBreaker
	Budget         CallBudget
	// PageTokenDelay is how long a fresh next_page_token takes to become valid
	PageTokenDelay time.Duration
	HTTPClient     *http.Client
}

// NewPlacesClient creates a places client
func NewPlacesClient(cfg PlacesClientConfig) (*PlacesClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("places base URL is required")
	}
	name := cfg.Name
	if name == "" {
		name = "places"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 60
	}
	breaker := cfg.Breaker
	if breaker == nil {
		bc := circuitbreaker.DefaultConfig(name)
		bc.IsFailure = func(err error) bool { return KindOf(err) != KindBadRequest }
		breaker = circuitbreaker.NewCircuitBreaker(bc)
	}

	return &PlacesClient{
		name:           name,
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         httpClient,
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		breaker:        breaker,
		budget:         cfg.Budget,
		maxResults:     maxResults,
		pageTokenDelay: cfg.PageTokenDelay,
	}, nil
}

// Name returns the provider name
func (c *PlacesClient) Name() string { return c.name }

type placesLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type placeResult struct {
	PlaceID          string `json:"place_id"`
	Name             string `json:"name"`
	FormattedAddress string `json:"formatted_address"`
	Vicinity         string `json:"vicinity"`
	Geometry         struct {
		Location placesLocation `json:"location"`
	} `json:"geometry"`
	Rating           *float64 `json:"rating"`
	UserRatingsTotal *int     `json:"user_ratings_total"`
	Types            []string `json:"types"`
	Photos           []struct {
		PhotoReference string `json:"photo_reference"`
	} `json:"photos"`
	FormattedPhoneNumber string `json:"formatted_phone_number"`
	InternationalPhone   string `json:"international_phone_number"`
	Website              string `json:"website"`
	OpeningHours         *struct {
		WeekdayText []string `json:"weekday_text"`
	} `json:"opening_hours"`
}

type searchResponse struct {
	Status        string        `json:"status"`
	ErrorMessage  string        `json:"error_message"`
	Results       []placeResult `json:"results"`
	NextPageToken string        `json:"next_page_token"`
}

type detailsResponse struct {
	Status       string      `json:"status"`
	ErrorMessage string      `json:"error_message"`
	Result       placeResult `json:"result"`
}

// Search runs a text search, following page tokens up to the result cap.
// With WithContact set, each result is completed with a details lookup.
func (c *PlacesClient) Search(ctx context.Context, req SearchRequest) ([]*models.CachedBusiness, error) {
	logger := logging.FromContext(ctx).WithComponent("places")
	limit := c.maxResults
	if req.MaxResults > 0 && req.MaxResults < limit {
		limit = req.MaxResults
	}

	query := url.Values{}
	query.Set("query", buildTextQuery(req))
	query.Set("location", fmt.Sprintf("%f,%f", req.Params.Location.Lat, req.Params.Location.Lon))
	if req.Params.RadiusKm > 0 {
		query.Set("radius", strconv.Itoa(int(req.Params.RadiusKm*1000)))
	}
	if len(req.ProviderTypes) > 0 {
		query.Set("type", req.ProviderTypes[0])
	}

	var out []*models.CachedBusiness
	seen := make(map[string]bool)
	pageToken := ""
	for page := 0; len(out) < limit; page++ {
		if pageToken != "" {
			query = url.Values{"pagetoken": {pageToken}}
			if c.pageTokenDelay > 0 {
				if err := sleepCtx(ctx, c.pageTokenDelay); err != nil {
					return out, err
				}
			}
		}

		var resp searchResponse
		if err := c.call(ctx, "/textsearch/json", query, &resp); err != nil {
			return out, err
		}
		if err := c.checkStatus(resp.Status, resp.ErrorMessage); err != nil {
			return out, err
		}

		for _, r := range resp.Results {
			if r.PlaceID == "" || seen[r.PlaceID] || len(out) >= limit {
				continue
			}
			seen[r.PlaceID] = true
			out = append(out, toBusiness(r, req))
		}

		logger.WithFields(map[string]interface{}{
			"page":    page,
			"results": len(resp.Results),
			"total":   len(out),
		}).Debug("Fetched places page")

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if req.Params.WithContact {
		for _, b := range out {
			if err := c.enrichContact(ctx, b); err != nil {
				if ctx.Err() != nil {
					return out, err
				}
				// contact details are best effort per place
				logger.WithError(err).WithField("placeId", b.PlaceID).Warn("Place details lookup failed")
			}
		}
	}

	return out, nil
}

func (c *PlacesClient) enrichContact(ctx context.Context, b *models.CachedBusiness) error {
	query := url.Values{}
	query.Set("place_id", b.PlaceID)
	query.Set("fields", "formatted_phone_number,international_phone_number,website,opening_hours")

	var resp detailsResponse
	if err := c.call(ctx, "/details/json", query, &resp); err != nil {
		return err
	}
	if err := c.checkStatus(resp.Status, resp.ErrorMessage); err != nil {
		return err
	}

	phone := resp.Result.FormattedPhoneNumber
	if phone == "" {
		phone = resp.Result.InternationalPhone
	}
	if phone != "" {
		b.Phone = phone
	}
	if resp.Result.Website != "" {
		b.Website = resp.Result.Website
	}
	if resp.Result.OpeningHours != nil {
		b.OpeningHours = resp.Result.OpeningHours.WeekdayText
	}
	return nil
}

// call performs one GET guarded by the breaker, the shared budget and the local limiter
func (c *PlacesClient) call(ctx context.Context, path string, query url.Values, dest interface{}) error {
	if c.budget != nil {
		if err := c.budget.Wait(ctx, 1, ratelimit.PriorityPaid); err != nil {
			return &ProviderError{Provider: c.name, Kind: KindQuota, Err: err}
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doGet(ctx, path, query, dest)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		err = &ProviderError{Provider: c.name, Kind: KindUnavailable, Err: err}
	}

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	telemetry.RecordProviderCall(c.name, outcome)
	return err
}

func (c *PlacesClient) doGet(ctx context.Context, path string, query url.Values, dest interface{}) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return classifyTransportError(c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return classifyTransportError(c.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(c.name, resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &ProviderError{Provider: c.name, Kind: KindMalformed, Err: err}
	}
	return nil
}

// checkStatus maps the in-body status field
func (c *PlacesClient) checkStatus(status, message string) error {
	switch status {
	case "OK", "ZERO_RESULTS", "":
		return nil
	case "OVER_QUERY_LIMIT":
		return &ProviderError{Provider: c.name, Kind: KindQuota, Err: errors.New(firstNonEmpty(message, status))}
	case "INVALID_REQUEST", "REQUEST_DENIED", "NOT_FOUND":
		return &ProviderError{Provider: c.name, Kind: KindBadRequest, Err: errors.New(firstNonEmpty(message, status))}
	default:
		return &ProviderError{Provider: c.name, Kind: KindUnavailable, Err: errors.New(firstNonEmpty(message, status))}
	}
}

func buildTextQuery(req SearchRequest) string {
	parts := []string{}
	if req.Category != "" {
		parts = append(parts, strings.ReplaceAll(string(req.Category), "_", " "))
	} else if req.Params.BusinessType != "" {
		parts = append(parts, req.Params.BusinessType)
	}
	if req.Params.Keywords != "" {
		parts = append(parts, req.Params.Keywords)
	}
	if req.Params.City != "" {
		parts = append(parts, req.Params.City)
	}
	return strings.Join(parts, " ")
}

func toBusiness(r placeResult, req SearchRequest) *models.CachedBusiness {
	address := r.FormattedAddress
	if address == "" {
		address = r.Vicinity
	}
	b := &models.CachedBusiness{
		PlaceID:     r.PlaceID,
		Name:        r.Name,
		Address:     address,
		City:        req.Params.City,
		Lat:         r.Geometry.Location.Lat,
		Lon:         r.Geometry.Location.Lng,
		Rating:      r.Rating,
		ReviewCount: r.UserRatingsTotal,
		Category:    string(req.Category),
		Types:       r.Types,
	}
	for _, p := range r.Photos {
		if p.PhotoReference != "" {
			b.PhotoRefs = append(b.PhotoRefs, p.PhotoReference)
		}
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
