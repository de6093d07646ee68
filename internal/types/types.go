// Package types provides common type definitions for the lead scanner system.
package types

import "time"

// CacheStatus is the age-based classification of cached results
type CacheStatus string

const (
	// CacheFresh means cached rows can be served without a provider call
	CacheFresh CacheStatus = "fresh"
	// CacheStale means rows exist but are old enough to warrant a refresh
	CacheStale CacheStatus = "stale"
	// CacheNone means there is nothing usable in the cache
	CacheNone CacheStatus = "none"
)

// JobStatus represents the lifecycle state of a scrape job
type JobStatus string

const (
	// JobPending is the initial state; the job is durable but not started
	JobPending JobStatus = "pending"
	// JobProcessing means a worker has claimed the job
	JobProcessing JobStatus = "processing"
	// JobCompleted is terminal: results are linked through a search record
	JobCompleted JobStatus = "completed"
	// JobFailed is terminal: error_message holds the reason
	JobFailed JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// OperationType is the ledger operation recorded on each credit transaction
type OperationType string

const (
	OpCacheFresh          OperationType = "cache_fresh"
	OpCacheStale          OperationType = "cache_stale"
	OpScrapingNew         OperationType = "scraping_new"
	OpScrapingWithContact OperationType = "scraping_contact"
	OpEnrichment          OperationType = "enrichment"
	OpExportPremium       OperationType = "export_premium"
	OpPurchase            OperationType = "purchase"
	OpRefund              OperationType = "refund"
	OpMonthlyGrant        OperationType = "monthly_grant"
)

// IsCredit reports whether the operation adds credits to an account
func (o OperationType) IsCredit() bool {
	switch o {
	case OpPurchase, OpRefund, OpMonthlyGrant:
		return true
	default:
		return false
	}
}

// Plan is the subscription tier of a credit account
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// SubscriptionStatus mirrors the billing provider's subscription state
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionNone     SubscriptionStatus = "none"
)

// Coordinates is a WGS84 point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SearchParams is the normalized request for a listings search
type SearchParams struct {
	City         string      `json:"city"`
	BusinessType string      `json:"businessType"`
	Location     Coordinates `json:"location"`
	RadiusKm     float64     `json:"radiusKm"`
	Keywords     string      `json:"keywords,omitempty"`
	WithContact  bool        `json:"withContact,omitempty"`
	MaxResults   int         `json:"maxResults,omitempty"`
}

// RequestMeta is the client metadata recorded on ledger rows
type RequestMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Progress reports job progress counters
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Percent returns progress as 0-100
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Current) * 100 / float64(p.Total)
	if pct > 100 {
		return 100
	}
	return pct
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Clock returns the current time; services take one so tests can pin time
type Clock func() time.Time
