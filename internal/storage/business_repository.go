package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lead-scanner/internal/models"
)

// BusinessRepository persists the shared business cache
type BusinessRepository struct {
	db *PostgresDB
}

// NewBusinessRepository creates a new business repository
func NewBusinessRepository(db *PostgresDB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

const businessColumns = `
	place_id, name, COALESCE(address, ''), COALESCE(city, ''), COALESCE(phone, ''),
	COALESCE(website, ''), COALESCE(email, ''), lat, lon, rating, review_count,
	COALESCE(category, ''), types, opening_hours, photo_refs,
	email_enriched, ai_enriched, created_at, last_updated_at`

// whereBounds builds the shared filter; args start at $1
func whereBounds(q models.BusinessQuery) (string, []interface{}) {
	clauses := []string{"lat BETWEEN $1 AND $2", "lon BETWEEN $3 AND $4"}
	args := []interface{}{q.Bounds.South, q.Bounds.North, q.Bounds.West, q.Bounds.East}

	if q.Category != "" {
		args = append(args, q.Category)
		catArg := len(args)
		if len(q.ProviderTypes) > 0 {
			args = append(args, q.ProviderTypes)
			clauses = append(clauses, fmt.Sprintf("(category = $%d OR types && $%d)", catArg, len(args)))
		} else {
			clauses = append(clauses, fmt.Sprintf("category = $%d", catArg))
		}
	}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		args = append(args, "%"+escapeLike(kw)+"%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR address ILIKE $%d)", len(args), len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Stats returns the match count and mean age of every row matched by q
func (r *BusinessRepository) Stats(ctx context.Context, q models.BusinessQuery, now time.Time) (models.CacheStats, error) {
	where, args := whereBounds(q)
	args = append(args, now)
	query := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(AVG(EXTRACT(EPOCH FROM ($%d - last_updated_at))), 0)
		FROM cached_businesses
		WHERE %s
	`, len(args), where)

	var stats models.CacheStats
	var avgSeconds float64
	if err := r.db.Pool().QueryRow(ctx, query, args...).Scan(&stats.Count, &avgSeconds); err != nil {
		return models.CacheStats{}, fmt.Errorf("failed to aggregate cached businesses: %w", err)
	}
	stats.AvgAge = time.Duration(avgSeconds * float64(time.Second))
	return stats, nil
}

// Find returns up to q.Limit rows matched by q, most recently refreshed first
func (r *BusinessRepository) Find(ctx context.Context, q models.BusinessQuery) ([]*models.CachedBusiness, error) {
	where, args := whereBounds(q)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s
		FROM cached_businesses
		WHERE %s
		ORDER BY last_updated_at DESC, place_id
		LIMIT $%d
	`, businessColumns, where, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached businesses: %w", err)
	}
	return collectBusinesses(rows)
}

// GetByIDs returns the rows for ids, in the order given; unknown ids are skipped
func (r *BusinessRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.CachedBusiness, error) {
	if len(ids) == 0 {
		return []*models.CachedBusiness{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM cached_businesses WHERE place_id = ANY($1)`, businessColumns)
	rows, err := r.db.Pool().Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load businesses: %w", err)
	}
	found, err := collectBusinesses(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.CachedBusiness, len(found))
	for _, b := range found {
		byID[b.PlaceID] = b
	}
	ordered := make([]*models.CachedBusiness, 0, len(found))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			ordered = append(ordered, b)
		}
	}
	return ordered, nil
}

// Upsert inserts new rows and merges existing ones. Empty incoming values
// never overwrite stored ones. It returns the ids that did not exist before.
func (r *BusinessRepository) Upsert(ctx context.Context, items []*models.CachedBusiness, now time.Time) (inserted []string, err error) {
	if len(items) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO cached_businesses (
			place_id, name, address, city, phone, website, email, lat, lon,
			rating, review_count, category, types, opening_hours, photo_refs,
			email_enriched, ai_enriched, created_at, last_updated_at
		)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			$8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15, $16, $17, $18, $18)
		ON CONFLICT (place_id) DO UPDATE SET
			name            = COALESCE(NULLIF(EXCLUDED.name, ''), cached_businesses.name),
			address         = COALESCE(EXCLUDED.address, cached_businesses.address),
			city            = COALESCE(EXCLUDED.city, cached_businesses.city),
			phone           = COALESCE(EXCLUDED.phone, cached_businesses.phone),
			website         = COALESCE(EXCLUDED.website, cached_businesses.website),
			email           = COALESCE(EXCLUDED.email, cached_businesses.email),
			lat             = CASE WHEN EXCLUDED.lat = 0 AND EXCLUDED.lon = 0 THEN cached_businesses.lat ELSE EXCLUDED.lat END,
			lon             = CASE WHEN EXCLUDED.lat = 0 AND EXCLUDED.lon = 0 THEN cached_businesses.lon ELSE EXCLUDED.lon END,
			rating          = COALESCE(EXCLUDED.rating, cached_businesses.rating),
			review_count    = COALESCE(EXCLUDED.review_count, cached_businesses.review_count),
			category        = COALESCE(EXCLUDED.category, cached_businesses.category),
			types           = CASE WHEN cardinality(EXCLUDED.types) > 0 THEN EXCLUDED.types ELSE cached_businesses.types END,
			opening_hours   = CASE WHEN cardinality(EXCLUDED.opening_hours) > 0 THEN EXCLUDED.opening_hours ELSE cached_businesses.opening_hours END,
			photo_refs      = CASE WHEN cardinality(EXCLUDED.photo_refs) > 0 THEN EXCLUDED.photo_refs ELSE cached_businesses.photo_refs END,
			email_enriched  = cached_businesses.email_enriched OR EXCLUDED.email_enriched,
			ai_enriched     = cached_businesses.ai_enriched OR EXCLUDED.ai_enriched,
			last_updated_at = EXCLUDED.last_updated_at
		RETURNING (xmax = 0) AS inserted
	`

	batch := &pgx.Batch{}
	for _, b := range items {
		batch.Queue(query,
			b.PlaceID, b.Name, b.Address, b.City, b.Phone, b.Website, b.Email,
			b.Lat, b.Lon, b.Rating, b.ReviewCount, b.Category,
			nonNil(b.Types), nonNil(b.OpeningHours), nonNil(b.PhotoRefs),
			b.EmailEnriched, b.AIEnriched, now,
		)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer func() {
		_ = results.Close() // nolint:errcheck // errors surface through QueryRow
	}()

	for _, b := range items {
		var isNew bool
		if err := results.QueryRow().Scan(&isNew); err != nil {
			return inserted, fmt.Errorf("failed to upsert business %s: %w", b.PlaceID, err)
		}
		if isNew {
			inserted = append(inserted, b.PlaceID)
		}
	}
	return inserted, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func collectBusinesses(rows pgx.Rows) ([]*models.CachedBusiness, error) {
	defer rows.Close()

	var out []*models.CachedBusiness
	for rows.Next() {
		var b models.CachedBusiness
		if err := rows.Scan(
			&b.PlaceID, &b.Name, &b.Address, &b.City, &b.Phone,
			&b.Website, &b.Email, &b.Lat, &b.Lon, &b.Rating, &b.ReviewCount,
			&b.Category, &b.Types, &b.OpeningHours, &b.PhotoRefs,
			&b.EmailEnriched, &b.AIEnriched, &b.CreatedAt, &b.LastUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating businesses: %w", err)
	}
	return out, nil
}
