package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lead-scanner/internal/models"
)

// ErrSearchNotFound is returned when no search record exists for an id
var ErrSearchNotFound = errors.New("search record not found")

// SearchRepository persists immutable search history
type SearchRepository struct {
	db *PostgresDB
}

// NewSearchRepository creates a new search repository
func NewSearchRepository(db *PostgresDB) *SearchRepository {
	return &SearchRepository{db: db}
}

const searchColumns = `
	id::text, account_id, params, query_hash, business_ids, result_count,
	was_cached, credits_charged, job_id::text, created_at`

func scanSearch(row pgx.Row) (*models.SearchRecord, error) {
	var s models.SearchRecord
	var params []byte
	err := row.Scan(
		&s.ID, &s.AccountID, &params, &s.QueryHash, &s.BusinessIDs, &s.ResultCount,
		&s.WasCached, &s.CreditsCharged, &s.JobID, &s.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrSearchNotFound
		}
		return nil, fmt.Errorf("failed to scan search record: %w", err)
	}
	if err := json.Unmarshal(params, &s.Params); err != nil {
		return nil, fmt.Errorf("failed to decode search params: %w", err)
	}
	return &s, nil
}

// Create inserts a search record
func (r *SearchRepository) Create(ctx context.Context, s *models.SearchRecord) error {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal search params: %w", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO search_records (
			id, account_id, params, query_hash, business_ids, result_count,
			was_cached, credits_charged, job_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		s.ID, s.AccountID, params, s.QueryHash, nonNil(s.BusinessIDs), s.ResultCount,
		s.WasCached, s.CreditsCharged, s.JobID, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create search record: %w", err)
	}
	return nil
}

// Get returns a search record by id
func (r *SearchRepository) Get(ctx context.Context, searchID string) (*models.SearchRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM search_records WHERE id = $1`, searchColumns)
	return scanSearch(r.db.Pool().QueryRow(ctx, query, searchID))
}

// LatestByHash returns the newest record for the account and hash created at
// or after since, or nil when there is none
func (r *SearchRepository) LatestByHash(ctx context.Context, accountID, queryHash string, since time.Time) (*models.SearchRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM search_records
		WHERE account_id = $1 AND query_hash = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`, searchColumns)
	rec, err := scanSearch(r.db.Pool().QueryRow(ctx, query, accountID, queryHash, since))
	if errors.Is(err, ErrSearchNotFound) {
		return nil, nil
	}
	return rec, err
}

// ListByAccount returns an account's history, newest first
func (r *SearchRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.SearchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT %s FROM search_records
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, searchColumns)
	rows, err := r.db.Pool().Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query search history: %w", err)
	}
	defer rows.Close()

	var out []*models.SearchRecord
	for rows.Next() {
		rec, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search history: %w", err)
	}
	return out, nil
}
