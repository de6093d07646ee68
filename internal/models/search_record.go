package models

import (
	"time"

	"github.com/lead-scanner/internal/types"
)

// SearchRecord is the immutable history entry of a completed search
type SearchRecord struct {
	ID             string             `json:"id" db:"id"`
	AccountID      string             `json:"accountId" db:"account_id"`
	Params         types.SearchParams `json:"params" db:"params"`
	QueryHash      string             `json:"queryHash" db:"query_hash"`
	BusinessIDs    []string           `json:"businessIds" db:"business_ids"`
	ResultCount    int                `json:"resultCount" db:"result_count"`
	WasCached      bool               `json:"wasCached" db:"was_cached"`
	CreditsCharged int                `json:"creditsCharged" db:"credits_charged"`
	JobID          *string            `json:"jobId,omitempty" db:"job_id"`
	CreatedAt      time.Time          `json:"createdAt" db:"created_at"`
}
