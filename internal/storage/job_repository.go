package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// ErrJobNotFound is returned when no scrape job exists for an id
var ErrJobNotFound = errors.New("scrape job not found")

// ErrActiveJobExists is returned by Create when the account already has a
// pending or processing job for the same query hash
var ErrActiveJobExists = errors.New("an active scrape job exists for this query")

// JobRepository persists scrape jobs. Every status change is a conditional
// UPDATE on the expected current status, so concurrent triggers cannot both win.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id::text, account_id, params, query_hash, status, progress_current, progress_total,
	new_businesses_count, cached_businesses_count, credits_reserved, operation_type,
	refunded, search_id::text, error_message, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*models.ScrapeJob, error) {
	var j models.ScrapeJob
	var params []byte
	err := row.Scan(
		&j.ID, &j.AccountID, &params, &j.QueryHash, &j.Status, &j.ProgressCurrent, &j.ProgressTotal,
		&j.NewBusinessesCount, &j.CachedBusinessesCount, &j.CreditsReserved, &j.OperationType,
		&j.Refunded, &j.SearchID, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to scan scrape job: %w", err)
	}
	if err := json.Unmarshal(params, &j.Params); err != nil {
		return nil, fmt.Errorf("failed to decode job params: %w", err)
	}
	return &j, nil
}

// Create inserts a new job
func (r *JobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal job params: %w", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO scrape_jobs (
			id, account_id, params, query_hash, status, progress_current, progress_total,
			credits_reserved, operation_type, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		job.ID, job.AccountID, params, job.QueryHash, job.Status,
		job.ProgressCurrent, job.ProgressTotal, job.CreditsReserved, job.OperationType, job.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, activeJobIndex) {
			return ErrActiveJobExists
		}
		return fmt.Errorf("failed to create scrape job: %w", err)
	}
	return nil
}

// Get returns a job by id
func (r *JobRepository) Get(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM scrape_jobs WHERE id = $1`, jobColumns)
	return scanJob(r.db.Pool().QueryRow(ctx, query, jobID))
}

// MarkProcessing moves a pending job to processing. It reports false when the
// job was not pending.
func (r *JobRepository) MarkProcessing(ctx context.Context, jobID string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE scrape_jobs SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4
	`, jobID, types.JobProcessing, at, types.JobPending)
}

// MarkCompleted moves a processing job to completed with final counters
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string, counts models.JobCounts, searchID string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE scrape_jobs
		SET status = $2, completed_at = $3, new_businesses_count = $4,
			cached_businesses_count = $5, search_id = $6,
			progress_current = GREATEST(progress_total, 1), progress_total = GREATEST(progress_total, 1)
		WHERE id = $1 AND status = $7
	`, jobID, types.JobCompleted, at, counts.NewCount, counts.CachedCount, searchID, types.JobProcessing)
}

// MarkFailed moves a processing job to failed, keeping the error message
func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, message string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE scrape_jobs SET status = $2, completed_at = $3, error_message = $4
		WHERE id = $1 AND status = $5
	`, jobID, types.JobFailed, at, message, types.JobProcessing)
}

// UpdateProgress sets progress counters on a processing job
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, current, total int) (bool, error) {
	return r.exec(ctx, `
		UPDATE scrape_jobs SET progress_current = $2, progress_total = $3
		WHERE id = $1 AND status = $4
	`, jobID, current, total, types.JobProcessing)
}

func (r *JobRepository) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update scrape job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStuckPending returns pending jobs created before olderThan, oldest first
func (r *JobRepository) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.ScrapeJob, error) {
	return r.list(ctx, `WHERE status = $1 AND created_at < $2 ORDER BY created_at`, types.JobPending, olderThan, limit)
}

// ListStuckProcessing returns processing jobs started before startedBefore,
// oldest first
func (r *JobRepository) ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*models.ScrapeJob, error) {
	return r.list(ctx, `WHERE status = $1 AND started_at < $2 ORDER BY started_at`, types.JobProcessing, startedBefore, limit)
}

func (r *JobRepository) list(ctx context.Context, where string, status types.JobStatus, before time.Time, limit int) ([]*models.ScrapeJob, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM scrape_jobs %s LIMIT $3`, jobColumns, where)
	rows, err := r.db.Pool().Query(ctx, query, status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s jobs: %w", status, err)
	}
	defer rows.Close()

	var out []*models.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s jobs: %w", status, err)
	}
	return out, nil
}

// LatestActiveByHash returns the newest pending or processing job for the
// account with the given query hash created at or after since, or nil
func (r *JobRepository) LatestActiveByHash(ctx context.Context, accountID, queryHash string, since time.Time) (*models.ScrapeJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scrape_jobs
		WHERE account_id = $1 AND query_hash = $2 AND created_at >= $3
			AND status IN ($4, $5)
		ORDER BY created_at DESC
		LIMIT 1
	`, jobColumns)
	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, accountID, queryHash, since, types.JobPending, types.JobProcessing))
	if errors.Is(err, ErrJobNotFound) {
		return nil, nil
	}
	return job, err
}
