package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lead-scanner/internal/category"
	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/geo"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

const maxRadiusKm = 50

// JobCreator persists a new pending job
type JobCreator interface {
	Create(ctx context.Context, job *models.ScrapeJob) error
}

// JobTrigger hands a persisted job to the workers
type JobTrigger interface {
	Enqueue(ctx context.Context, jobID string) error
}

// SearchStore persists search history
type SearchStore interface {
	Create(ctx context.Context, s *models.SearchRecord) error
	Get(ctx context.Context, searchID string) (*models.SearchRecord, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.SearchRecord, error)
}

// SearchService accepts searches: it serves fresh cache hits synchronously
// and turns everything else into a paid scrape job
type SearchService struct {
	resolver   *CacheResolver
	ledger     *CreditLedger
	guard      *DuplicateGuard
	pricing    *Pricing
	jobs       JobCreator
	trigger    JobTrigger
	searches   SearchStore
	businesses BusinessStore
	now        types.Clock
}

// SearchServiceDeps groups the collaborators of SearchService
type SearchServiceDeps struct {
	Resolver   *CacheResolver
	Ledger     *CreditLedger
	Guard      *DuplicateGuard
	Pricing    *Pricing
	Jobs       JobCreator
	Trigger    JobTrigger
	Searches   SearchStore
	Businesses BusinessStore
	Now        types.Clock
}

// NewSearchService creates a search service
func NewSearchService(deps SearchServiceDeps) *SearchService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &SearchService{
		resolver:   deps.Resolver,
		ledger:     deps.Ledger,
		guard:      deps.Guard,
		pricing:    deps.Pricing,
		jobs:       deps.Jobs,
		trigger:    deps.Trigger,
		searches:   deps.Searches,
		businesses: deps.Businesses,
		now:        now,
	}
}

// CacheCheckResult answers whether a search can be served from cache
type CacheCheckResult struct {
	CacheStatus       types.CacheStatus        `json:"cacheStatus"`
	CachedCount       int                      `json:"cachedCount"`
	AvgFreshnessHours float64                  `json:"avgFreshnessHours"`
	CreditsNeeded     int                      `json:"creditsNeeded"`
	OperationType     types.OperationType      `json:"operationType"`
	Businesses        []*models.CachedBusiness `json:"businesses"`
}

// StartSearchInput is a request to run a search
type StartSearchInput struct {
	AccountID string
	Params    types.SearchParams
	UseCache  bool
	Meta      types.RequestMeta
}

// StartSearchResult is the immediate answer to a search
type StartSearchResult struct {
	JobID            *string                  `json:"jobId"`
	SearchID         *string                  `json:"searchId,omitempty"`
	Status           string                   `json:"status"`
	WasCached        bool                     `json:"wasCached"`
	Results          []*models.CachedBusiness `json:"results,omitempty"`
	CreditsUsed      int                      `json:"creditsUsed"`
	CreditsRemaining int                      `json:"creditsRemaining"`
}

// SearchView is a history entry with its resolved businesses
type SearchView struct {
	Search     *models.SearchRecord     `json:"search"`
	Businesses []*models.CachedBusiness `json:"businesses"`
}

// NormalizeParams validates params and resolves the category
func NormalizeParams(params types.SearchParams) (types.SearchParams, category.Category, error) {
	params.City = strings.TrimSpace(params.City)
	params.BusinessType = strings.TrimSpace(params.BusinessType)
	params.Keywords = strings.TrimSpace(params.Keywords)

	if params.BusinessType == "" {
		return params, "", apperrors.NewInvalidParameterError("businessType", "is required")
	}
	cat, ok := category.Resolve(params.BusinessType)
	if !ok {
		return params, "", apperrors.NewInvalidParameterError("businessType", fmt.Sprintf("unknown business type %q", params.BusinessType))
	}
	if !geo.ValidCoordinates(params.Location) || (params.Location.Lat == 0 && params.Location.Lon == 0) {
		return params, "", apperrors.NewInvalidAreaError("location is missing or out of range", map[string]interface{}{
			"location": params.Location,
		})
	}
	if params.RadiusKm <= 0 || params.RadiusKm > maxRadiusKm {
		return params, "", apperrors.NewInvalidAreaError(fmt.Sprintf("radius must be in (0, %d] km", maxRadiusKm), map[string]interface{}{
			"radiusKm": params.RadiusKm,
		})
	}
	if params.MaxResults < 0 {
		return params, "", apperrors.NewInvalidParameterError("maxResults", "cannot be negative")
	}
	return params, cat, nil
}

// CacheCheck reports the cache status of a search and what it would cost.
// Businesses are only returned for a fresh cache.
func (s *SearchService) CacheCheck(ctx context.Context, params types.SearchParams) (*CacheCheckResult, error) {
	params, cat, err := NormalizeParams(params)
	if err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, params, cat)
	if err != nil {
		return nil, apperrors.NewDatabaseError("resolve cache", err)
	}

	op, price := s.pricing.PriceForSearch(res.Status, params.WithContact)
	out := &CacheCheckResult{
		CacheStatus:       res.Status,
		CachedCount:       res.Count,
		AvgFreshnessHours: res.AvgFreshnessHours,
		CreditsNeeded:     price,
		OperationType:     op,
		Businesses:        []*models.CachedBusiness{},
	}
	if res.Status == types.CacheFresh {
		out.Businesses = res.Businesses
	}
	return out, nil
}

// StartSearch serves a fresh cache hit immediately or reserves credits and
// creates a pending job. The duplicate guard runs before any deduction for
// a new scrape.
func (s *SearchService) StartSearch(ctx context.Context, in StartSearchInput) (*StartSearchResult, error) {
	logger := logging.FromContext(ctx).WithAccount(in.AccountID).WithComponent("search")

	params, cat, err := NormalizeParams(in.Params)
	if err != nil {
		return nil, err
	}

	status := types.CacheNone
	if in.UseCache {
		res, err := s.resolver.Resolve(ctx, params, cat)
		if err != nil {
			return nil, apperrors.NewDatabaseError("resolve cache", err)
		}
		status = res.Status
		if status == types.CacheFresh {
			return s.serveFromCache(ctx, in, params, res)
		}
	}

	decision, err := s.guard.Check(ctx, in.AccountID, params)
	if err != nil {
		return nil, apperrors.NewDatabaseError("check duplicate search", err)
	}
	if decision.ShouldBlock {
		logger.WithFields(map[string]interface{}{
			"reason":      decision.Reason,
			"waitMinutes": decision.WaitMinutes,
		}).Info("Duplicate search blocked")
		return nil, duplicateError(decision)
	}

	op, price := s.pricing.PriceForSearch(status, params.WithContact)
	jobID := uuid.New().String()

	debit, err := s.ledger.Deduct(ctx, DeductInput{
		AccountID: in.AccountID,
		Amount:    price,
		Type:      op,
		JobID:     &jobID,
		Meta:      in.Meta,
		Details: map[string]interface{}{
			"params":      params,
			"cacheStatus": status,
		},
	})
	if err != nil {
		return nil, err
	}

	job := &models.ScrapeJob{
		ID:              jobID,
		AccountID:       in.AccountID,
		Params:          params,
		QueryHash:       decision.QueryHash,
		CreditsReserved: price,
		OperationType:   op,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		// a concurrent identical request took the active-job slot
		raced := errors.Is(err, storage.ErrActiveJobExists)
		reason := "job creation failed"
		if raced {
			reason = "duplicate active job"
			logger.WithJob(jobID).Info("Identical job created concurrently, refunding")
		} else {
			logger.WithError(err).WithJob(jobID).Error("Job creation failed after deduction, refunding")
		}
		if _, refundErr := s.ledger.Add(ctx, AddInput{
			AccountID: in.AccountID,
			Amount:    price,
			Type:      types.OpRefund,
			Meta:      in.Meta,
			Details:   map[string]interface{}{"reason": reason, "jobId": jobID},
		}); refundErr != nil {
			logger.WithError(refundErr).WithJob(jobID).Error("Compensating refund failed")
		}
		if raced {
			if again, checkErr := s.guard.Check(ctx, in.AccountID, params); checkErr == nil && again.ShouldBlock {
				return nil, duplicateError(again)
			}
			return nil, apperrors.NewDuplicateSearchError(1, "", 0)
		}
		var catErr *apperrors.CategorizedError
		if errors.As(err, &catErr) {
			return nil, err
		}
		return nil, apperrors.NewDatabaseError("create job", err)
	}

	if err := s.trigger.Enqueue(ctx, jobID); err != nil {
		// the stuck-pending sweep re-enqueues it
		logger.WithError(err).WithJob(jobID).Warn("Failed to enqueue job")
	}

	logger.WithJob(jobID).WithFields(map[string]interface{}{
		"operation": op,
		"credits":   price,
	}).Info("Scrape job accepted")

	return &StartSearchResult{
		JobID:            &jobID,
		Status:           string(types.JobPending),
		CreditsUsed:      price,
		CreditsRemaining: debit.CreditsAfter,
	}, nil
}

func (s *SearchService) serveFromCache(ctx context.Context, in StartSearchInput, params types.SearchParams, res *Resolution) (*StartSearchResult, error) {
	price := s.pricing.Price(types.OpCacheFresh)
	ids := make([]string, 0, len(res.Businesses))
	for _, b := range res.Businesses {
		ids = append(ids, b.PlaceID)
	}

	debit, err := s.ledger.Deduct(ctx, DeductInput{
		AccountID: in.AccountID,
		Amount:    price,
		Type:      types.OpCacheFresh,
		Meta:      in.Meta,
		Details: map[string]interface{}{
			"params":      params,
			"resultCount": len(ids),
		},
	})
	if err != nil {
		return nil, err
	}

	record := &models.SearchRecord{
		ID:             uuid.New().String(),
		AccountID:      in.AccountID,
		Params:         params,
		QueryHash:      QueryHash(in.AccountID, params),
		BusinessIDs:    ids,
		ResultCount:    len(ids),
		WasCached:      true,
		CreditsCharged: price,
		CreatedAt:      s.now(),
	}
	if err := s.searches.Create(ctx, record); err != nil {
		// the charge stands: the results are returned below
		logging.FromContext(ctx).WithAccount(in.AccountID).WithError(err).Error("Failed to record cached search")
	}

	return &StartSearchResult{
		SearchID:         &record.ID,
		Status:           string(types.JobCompleted),
		WasCached:        true,
		Results:          res.Businesses,
		CreditsUsed:      price,
		CreditsRemaining: debit.CreditsAfter,
	}, nil
}

// History lists an account's searches, newest first
func (s *SearchService) History(ctx context.Context, accountID string, limit, offset int) ([]*models.SearchRecord, error) {
	if limit > 100 {
		limit = 100
	}
	records, err := s.searches.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list searches", err)
	}
	return records, nil
}

// GetSearch returns one of the account's searches with its businesses
func (s *SearchService) GetSearch(ctx context.Context, accountID, searchID string) (*SearchView, error) {
	if _, err := uuid.Parse(searchID); err != nil {
		return nil, apperrors.NewSearchNotFoundError(searchID)
	}
	record, err := s.searches.Get(ctx, searchID)
	if err != nil {
		if errors.Is(err, storage.ErrSearchNotFound) {
			return nil, apperrors.NewSearchNotFoundError(searchID)
		}
		return nil, apperrors.NewDatabaseError("get search", err)
	}
	if record.AccountID != accountID {
		return nil, apperrors.NewSearchNotFoundError(searchID)
	}

	businesses, err := s.businesses.GetByIDs(ctx, record.BusinessIDs)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load businesses", err)
	}
	return &SearchView{Search: record, Businesses: businesses}, nil
}

func duplicateError(decision *GuardDecision) error {
	lastID := decision.ActiveJobID
	if decision.LastSearch != nil {
		lastID = decision.LastSearch.ID
	}
	return apperrors.NewDuplicateSearchError(decision.WaitMinutes, lastID, decision.LastResultCount)
}
