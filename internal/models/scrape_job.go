package models

import (
	"time"

	"github.com/lead-scanner/internal/types"
)

// ScrapeJob is the durable record of one asynchronous fetch-and-merge run
type ScrapeJob struct {
	ID                    string              `json:"id" db:"id"`
	AccountID             string              `json:"accountId" db:"account_id"`
	Params                types.SearchParams  `json:"params" db:"params"`
	QueryHash             string              `json:"queryHash" db:"query_hash"`
	Status                types.JobStatus     `json:"status" db:"status"`
	ProgressCurrent       int                 `json:"progressCurrent" db:"progress_current"`
	ProgressTotal         int                 `json:"progressTotal" db:"progress_total"`
	NewBusinessesCount    int                 `json:"newBusinessesCount" db:"new_businesses_count"`
	CachedBusinessesCount int                 `json:"cachedBusinessesCount" db:"cached_businesses_count"`
	CreditsReserved       int                 `json:"creditsReserved" db:"credits_reserved"`
	OperationType         types.OperationType `json:"operationType" db:"operation_type"`
	Refunded              bool                `json:"refunded" db:"refunded"`
	SearchID              *string             `json:"searchId,omitempty" db:"search_id"`
	ErrorMessage          *string             `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt             time.Time           `json:"createdAt" db:"created_at"`
	StartedAt             *time.Time          `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt           *time.Time          `json:"completedAt,omitempty" db:"completed_at"`
}

// Progress returns the job's progress counters
func (j *ScrapeJob) Progress() types.Progress {
	return types.Progress{Current: j.ProgressCurrent, Total: j.ProgressTotal}
}

// CanTransition reports whether from → to is a legal job transition
func CanTransition(from, to types.JobStatus) bool {
	switch from {
	case types.JobPending:
		return to == types.JobProcessing
	case types.JobProcessing:
		return to == types.JobCompleted || to == types.JobFailed
	default:
		return false
	}
}

// JobCounts are the final counters written on completion
type JobCounts struct {
	NewCount    int `json:"newCount"`
	CachedCount int `json:"cachedCount"`
}
