// Package job runs scrape jobs: the durable state machine, the fetch and
// merge engine, the Redis trigger queue and the worker pool consuming it.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/telemetry"
	"github.com/lead-scanner/internal/types"
)

// JobStore persists scrape jobs. Every Mark* call is conditional on the
// expected current status and reports whether it applied.
type JobStore interface {
	Create(ctx context.Context, job *models.ScrapeJob) error
	Get(ctx context.Context, jobID string) (*models.ScrapeJob, error)
	MarkProcessing(ctx context.Context, jobID string, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, jobID string, counts models.JobCounts, searchID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, jobID string, message string, at time.Time) (bool, error)
	UpdateProgress(ctx context.Context, jobID string, current, total int) (bool, error)
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.ScrapeJob, error)
	ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*models.ScrapeJob, error)
}

// SearchReader loads the search record a completed job links to
type SearchReader interface {
	Get(ctx context.Context, searchID string) (*models.SearchRecord, error)
}

// BusinessReader loads cached businesses by id, preserving order
type BusinessReader interface {
	GetByIDs(ctx context.Context, ids []string) ([]*models.CachedBusiness, error)
}

// Refunder returns a job's reserved credits, at most once per job
type Refunder interface {
	RefundJob(ctx context.Context, job *models.ScrapeJob, reason string) error
}

// ResultMemo caches resolved results of completed jobs
type ResultMemo interface {
	GenerateCacheKey(keyType storage.CacheKeyType, params ...string) string
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// StatusView is what a poller sees of a job
type StatusView struct {
	ID                    string                   `json:"id"`
	Status                types.JobStatus          `json:"status"`
	Progress              types.Progress           `json:"progress"`
	NewBusinessesCount    int                      `json:"newBusinessesCount"`
	CachedBusinessesCount int                      `json:"cachedBusinessesCount"`
	CreditsReserved       int                      `json:"creditsReserved"`
	Refunded              bool                     `json:"refunded"`
	ErrorMessage          *string                  `json:"errorMessage"`
	SearchID              *string                  `json:"searchId,omitempty"`
	CreatedAt             time.Time                `json:"createdAt"`
	StartedAt             *time.Time               `json:"startedAt,omitempty"`
	CompletedAt           *time.Time               `json:"completedAt,omitempty"`
	Results               []*models.CachedBusiness `json:"results,omitempty"`
}

// StateMachineConfig configures the state machine
type StateMachineConfig struct {
	Store           JobStore
	Searches        SearchReader
	Businesses      BusinessReader
	Refunder        Refunder
	Memo            ResultMemo
	RefundOnFailure bool
	Now             types.Clock
}

// StateMachine owns every scrape job status change:
// pending → processing → completed | failed. Terminal states never move.
type StateMachine struct {
	store           JobStore
	searches        SearchReader
	businesses      BusinessReader
	refunder        Refunder
	memo            ResultMemo
	refundOnFailure bool
	now             types.Clock
}

// NewStateMachine creates a job state machine
func NewStateMachine(cfg StateMachineConfig) *StateMachine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		store:           cfg.Store,
		searches:        cfg.Searches,
		businesses:      cfg.Businesses,
		refunder:        cfg.Refunder,
		memo:            cfg.Memo,
		refundOnFailure: cfg.RefundOnFailure,
		now:             now,
	}
}

// Create persists a new pending job. It must return before the job is
// handed to a worker.
func (m *StateMachine) Create(ctx context.Context, job *models.ScrapeJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = types.JobPending
	job.ProgressCurrent = 0
	job.ProgressTotal = 0
	job.CreatedAt = m.now()
	if err := m.store.Create(ctx, job); err != nil {
		return apperrors.NewDatabaseError("create job", err)
	}
	return nil
}

// Get returns a job, mapping unknown or malformed ids to JOB_NOT_FOUND
func (m *StateMachine) Get(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperrors.NewJobNotFoundError(jobID)
	}
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			return nil, apperrors.NewJobNotFoundError(jobID)
		}
		return nil, apperrors.NewDatabaseError("get job", err)
	}
	return job, nil
}

// Start claims a pending job. It reports false without error when the job
// is no longer pending, so duplicate triggers are no-ops.
func (m *StateMachine) Start(ctx context.Context, jobID string) (bool, error) {
	ok, err := m.store.MarkProcessing(ctx, jobID, m.now())
	if err != nil {
		return false, apperrors.NewDatabaseError("start job", err)
	}
	return ok, nil
}

// Progress records progress on a processing job. Updates on jobs in any
// other state are ignored.
func (m *StateMachine) Progress(ctx context.Context, jobID string, current, total int) error {
	if _, err := m.store.UpdateProgress(ctx, jobID, current, total); err != nil {
		return apperrors.NewDatabaseError("update job progress", err)
	}
	return nil
}

// Complete moves a processing job to completed
func (m *StateMachine) Complete(ctx context.Context, jobID string, counts models.JobCounts, searchID string) error {
	ok, err := m.store.MarkCompleted(ctx, jobID, counts, searchID, m.now())
	if err != nil {
		return apperrors.NewDatabaseError("complete job", err)
	}
	if !ok {
		return m.transitionError(ctx, jobID, types.JobCompleted)
	}
	m.recordFinished(ctx, jobID, types.JobCompleted)
	return nil
}

// Fail moves a processing job to failed, keeping message for display.
// Reserved credits are refunded only when the refund policy is on.
func (m *StateMachine) Fail(ctx context.Context, jobID, message string) error {
	ok, err := m.store.MarkFailed(ctx, jobID, message, m.now())
	if err != nil {
		return apperrors.NewDatabaseError("fail job", err)
	}
	if !ok {
		return m.transitionError(ctx, jobID, types.JobFailed)
	}
	job := m.recordFinished(ctx, jobID, types.JobFailed)

	if !m.refundOnFailure || m.refunder == nil || job == nil {
		return nil
	}
	if err := m.refunder.RefundJob(ctx, job, message); err != nil {
		logging.FromContext(ctx).WithJob(jobID).WithError(err).Error("Refund of failed job did not go through")
		return err
	}
	return nil
}

func (m *StateMachine) recordFinished(ctx context.Context, jobID string, status types.JobStatus) *models.ScrapeJob {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		logging.FromContext(ctx).WithJob(jobID).WithError(err).Warn("Could not reload finished job")
		telemetry.RecordJobFinished(string(status), 0)
		return nil
	}
	var elapsed time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		elapsed = job.CompletedAt.Sub(*job.StartedAt)
	}
	telemetry.RecordJobFinished(string(status), elapsed)
	return job
}

func (m *StateMachine) transitionError(ctx context.Context, jobID string, to types.JobStatus) error {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return apperrors.NewInvalidTransitionError(jobID, job.Status, to)
}

// GetStatus returns the job as seen by accountID. A completed job also
// carries its businesses. Jobs of other accounts are reported as unknown.
func (m *StateMachine) GetStatus(ctx context.Context, accountID, jobID string) (*StatusView, error) {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if accountID != "" && job.AccountID != accountID {
		return nil, apperrors.NewJobNotFoundError(jobID)
	}

	view := &StatusView{
		ID:                    job.ID,
		Status:                job.Status,
		Progress:              job.Progress(),
		NewBusinessesCount:    job.NewBusinessesCount,
		CachedBusinessesCount: job.CachedBusinessesCount,
		CreditsReserved:       job.CreditsReserved,
		Refunded:              job.Refunded,
		ErrorMessage:          job.ErrorMessage,
		SearchID:              job.SearchID,
		CreatedAt:             job.CreatedAt,
		StartedAt:             job.StartedAt,
		CompletedAt:           job.CompletedAt,
	}
	if job.Status != types.JobCompleted || job.SearchID == nil {
		return view, nil
	}

	results, err := m.results(ctx, job)
	if err != nil {
		return nil, err
	}
	view.Results = results
	return view, nil
}

func (m *StateMachine) results(ctx context.Context, job *models.ScrapeJob) ([]*models.CachedBusiness, error) {
	logger := logging.FromContext(ctx).WithJob(job.ID)

	var key string
	if m.memo != nil {
		key = m.memo.GenerateCacheKey(storage.CacheKeyJobResults, job.ID)
		var cached []*models.CachedBusiness
		found, err := m.memo.Get(ctx, key, &cached)
		if err != nil {
			logger.WithError(err).Warn("Job results cache read failed")
		} else if found {
			return cached, nil
		}
	}

	search, err := m.searches.Get(ctx, *job.SearchID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load job search", err)
	}
	businesses, err := m.businesses.GetByIDs(ctx, search.BusinessIDs)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load job results", err)
	}
	if businesses == nil {
		businesses = []*models.CachedBusiness{}
	}

	if m.memo != nil {
		if err := m.memo.Set(ctx, key, businesses); err != nil {
			logger.WithError(err).Warn("Job results cache write failed")
		}
	}
	return businesses, nil
}

// Stuck returns pending jobs older than age
func (m *StateMachine) Stuck(ctx context.Context, age time.Duration, limit int) ([]*models.ScrapeJob, error) {
	jobs, err := m.store.ListStuckPending(ctx, m.now().Add(-age), limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list stuck jobs", err)
	}
	return jobs, nil
}

// Abandoned returns processing jobs started longer than age ago
func (m *StateMachine) Abandoned(ctx context.Context, age time.Duration, limit int) ([]*models.ScrapeJob, error) {
	jobs, err := m.store.ListStuckProcessing(ctx, m.now().Add(-age), limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list abandoned jobs", err)
	}
	return jobs, nil
}
