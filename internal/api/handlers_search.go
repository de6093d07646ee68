package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/service"
	"github.com/lead-scanner/internal/types"
)

// searchRequest is the body of cache-check and start-search. radius is
// accepted as an alias of radiusKm.
type searchRequest struct {
	City         string            `json:"city"`
	BusinessType string            `json:"businessType"`
	Location     types.Coordinates `json:"location"`
	RadiusKm     float64           `json:"radiusKm"`
	Radius       float64           `json:"radius"`
	Keywords     string            `json:"keywords"`
	WithContact  bool              `json:"withContact"`
	MaxResults   int               `json:"maxResults"`
	UseCache     *bool             `json:"useCache"`
}

func (req searchRequest) params() types.SearchParams {
	radius := req.RadiusKm
	if radius == 0 {
		radius = req.Radius
	}
	return types.SearchParams{
		City:         req.City,
		BusinessType: req.BusinessType,
		Location:     req.Location,
		RadiusKm:     radius,
		Keywords:     req.Keywords,
		WithContact:  req.WithContact,
		MaxResults:   req.MaxResults,
	}
}

// handleCacheCheck handles POST /api/searches/cache-check
func (s *Server) handleCacheCheck(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.searchService.CacheCheck(r.Context(), req.params())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleStartSearch handles POST /api/searches. A fresh cache hit answers
// 200 with results; a scrape job answers 202 with its id.
func (s *Server) handleStartSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	result, err := s.searchService.StartSearch(r.Context(), service.StartSearchInput{
		AccountID: accountID(r),
		Params:    req.params(),
		UseCache:  useCache,
		Meta:      requestMeta(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.JobID != nil {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// handleSearchHistory handles GET /api/searches?limit=&offset=
func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r, 20)
	if err != nil {
		respondError(w, r, err)
		return
	}

	records, err := s.searchService.History(r.Context(), accountID(r), limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"searches": records,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleGetSearch handles GET /api/searches/{id}
func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	view, err := s.searchService.GetSearch(r.Context(), accountID(r), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func parsePagination(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit, offset = defaultLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 100 {
			return 0, 0, apperrors.NewInvalidParameterError("limit", "must be between 1 and 100")
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, apperrors.NewInvalidParameterError("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
