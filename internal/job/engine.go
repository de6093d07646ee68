package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lead-scanner/internal/adapter"
	"github.com/lead-scanner/internal/category"
	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// Engine stages: fetch, merge, record
const engineStages = 3

// recordTimeout bounds writing a job's outcome
const recordTimeout = 10 * time.Second

// BusinessWriter merges listings into the shared cache. It returns the ids
// that were not cached before.
type BusinessWriter interface {
	Upsert(ctx context.Context, items []*models.CachedBusiness, now time.Time) ([]string, error)
}

// SearchWriter persists search history
type SearchWriter interface {
	Create(ctx context.Context, s *models.SearchRecord) error
}

// CacheInvalidator drops memoized cache-check answers for an area
type CacheInvalidator interface {
	Invalidate(ctx context.Context, params types.SearchParams) error
}

// RunResult is what one fetch-and-merge produced
type RunResult struct {
	NewCount    int
	CachedCount int
	BusinessIDs []string
	SearchID    string
}

// EngineConfig configures the fetch and merge engine
type EngineConfig struct {
	Jobs        *StateMachine
	Provider    adapter.ListingsProvider
	Businesses  BusinessWriter
	Searches    SearchWriter
	Invalidator CacheInvalidator
	MaxResults  int
	JobTimeout  time.Duration
	Now         types.Clock
}

// Engine runs a claimed job against the listings provider and merges the
// results into the cache
type Engine struct {
	jobs        *StateMachine
	provider    adapter.ListingsProvider
	businesses  BusinessWriter
	searches    SearchWriter
	invalidator CacheInvalidator
	maxResults  int
	jobTimeout  time.Duration
	now         types.Clock
}

// NewEngine creates a fetch and merge engine
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job state machine cannot be nil")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("listings provider cannot be nil")
	}
	if cfg.Businesses == nil || cfg.Searches == nil {
		return nil, fmt.Errorf("business and search stores are required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Engine{
		jobs:        cfg.Jobs,
		provider:    cfg.Provider,
		businesses:  cfg.Businesses,
		searches:    cfg.Searches,
		invalidator: cfg.Invalidator,
		maxResults:  cfg.MaxResults,
		jobTimeout:  timeout,
		now:         now,
	}, nil
}

// Process claims and runs a job. A job that is not pending is left alone.
// Run failures end the job as failed and are not returned; only errors
// that prevent recording the outcome are.
func (e *Engine) Process(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	logger := logging.FromContext(ctx).WithJob(jobID).WithAccount(job.AccountID).WithComponent("engine")
	ctx = logging.WithLogger(ctx, logger)

	if job.Status != types.JobPending {
		logger.WithField("status", job.Status).Debug("Job not pending, skipping")
		return nil
	}
	started, err := e.jobs.Start(ctx, jobID)
	if err != nil {
		return err
	}
	if !started {
		logger.Debug("Job claimed by another worker")
		return nil
	}
	logger.Info("Processing scrape job")

	// the worker context only stops dequeueing; a claimed job runs to the end
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.jobTimeout)
	result, runErr := e.Run(runCtx, job)
	cancel()

	recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer recordCancel()

	if runErr != nil {
		logger.WithError(runErr).Error("Scrape job failed")
		return e.fail(recordCtx, jobID, runErr.Error())
	}

	if err := e.jobs.Complete(recordCtx, jobID, models.JobCounts{
		NewCount:    result.NewCount,
		CachedCount: result.CachedCount,
	}, result.SearchID); err != nil {
		if isInvalidTransition(err) {
			logger.WithError(err).Warn("Job finished elsewhere before completion was recorded")
			return nil
		}
		logger.WithError(err).Error("Failed to record job completion")
		if failErr := e.fail(recordCtx, jobID, "recording completion failed: "+err.Error()); failErr != nil {
			logger.WithError(failErr).Error("Failed to mark job failed")
		}
		return err
	}

	if e.invalidator != nil {
		if err := e.invalidator.Invalidate(recordCtx, job.Params); err != nil {
			logger.WithError(err).Warn("Failed to invalidate cache-check memo")
		}
	}

	logger.WithFields(map[string]interface{}{
		"new":    result.NewCount,
		"cached": result.CachedCount,
	}).Info("Scrape job completed")
	return nil
}

// Run fetches listings for job, merges them into the cache and records the
// search. Partial merges are kept when a later step fails.
func (e *Engine) Run(ctx context.Context, job *models.ScrapeJob) (*RunResult, error) {
	cat, ok := category.Resolve(job.Params.BusinessType)
	if !ok {
		return nil, apperrors.NewInvalidParameterError("businessType", fmt.Sprintf("unknown business type %q", job.Params.BusinessType))
	}
	e.progress(ctx, job.ID, 0)

	items, err := e.provider.Search(ctx, adapter.SearchRequest{
		Params:        job.Params,
		Category:      cat,
		ProviderTypes: category.ProviderTypes(cat),
		MaxResults:    e.maxResultsFor(job.Params),
	})
	if err != nil {
		return nil, providerError(e.provider.Name(), err)
	}
	e.progress(ctx, job.ID, 1)

	items = dedupeListings(items, string(cat), e.now())
	ids := make([]string, 0, len(items))
	for _, b := range items {
		ids = append(ids, b.PlaceID)
	}

	inserted, err := e.businesses.Upsert(ctx, items, e.now())
	if err != nil {
		return nil, apperrors.NewDatabaseError("merge businesses", err)
	}
	e.progress(ctx, job.ID, 2)

	jobID := job.ID
	record := &models.SearchRecord{
		ID:             uuid.New().String(),
		AccountID:      job.AccountID,
		Params:         job.Params,
		QueryHash:      job.QueryHash,
		BusinessIDs:    ids,
		ResultCount:    len(ids),
		WasCached:      false,
		CreditsCharged: job.CreditsReserved,
		JobID:          &jobID,
		CreatedAt:      e.now(),
	}
	if err := e.searches.Create(ctx, record); err != nil {
		return nil, apperrors.NewDatabaseError("record search", err)
	}
	e.progress(ctx, job.ID, engineStages)

	return &RunResult{
		NewCount:    len(inserted),
		CachedCount: len(ids) - len(inserted),
		BusinessIDs: ids,
		SearchID:    record.ID,
	}, nil
}

func (e *Engine) maxResultsFor(params types.SearchParams) int {
	if params.MaxResults > 0 && (e.maxResults <= 0 || params.MaxResults < e.maxResults) {
		return params.MaxResults
	}
	return e.maxResults
}

func (e *Engine) progress(ctx context.Context, jobID string, step int) {
	if err := e.jobs.Progress(ctx, jobID, step, engineStages); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to record job progress")
	}
}

// dedupeListings folds repeated place ids into one listing, keeping the
// first-seen order, and fills in the category when the provider left it out
func dedupeListings(items []*models.CachedBusiness, cat string, now time.Time) []*models.CachedBusiness {
	out := make([]*models.CachedBusiness, 0, len(items))
	byID := make(map[string]*models.CachedBusiness, len(items))
	for _, b := range items {
		if b == nil || b.PlaceID == "" {
			continue
		}
		if prev, ok := byID[b.PlaceID]; ok {
			prev.Merge(b, now)
			continue
		}
		if b.Category == "" {
			b.Category = cat
		}
		byID[b.PlaceID] = b
		out = append(out, b)
	}
	return out
}

// fail ends a job as failed. A job some other path already finished is
// left as it is.
func (e *Engine) fail(ctx context.Context, jobID, message string) error {
	if err := e.jobs.Fail(ctx, jobID, message); err != nil && !isInvalidTransition(err) {
		return err
	}
	return nil
}

func isInvalidTransition(err error) bool {
	var catErr *apperrors.CategorizedError
	return errors.As(err, &catErr) && catErr.Code == apperrors.CodeInvalidTransition
}

func providerError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewProviderTimeoutError(provider)
	}
	switch adapter.KindOf(err) {
	case adapter.KindTimeout:
		return apperrors.NewProviderTimeoutError(provider)
	case adapter.KindQuota:
		return apperrors.NewProviderQuotaError(provider, err)
	default:
		return apperrors.NewProviderError(provider, err)
	}
}
