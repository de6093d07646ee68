package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/telemetry"
	"github.com/lead-scanner/internal/types"
)

// SearchHistory finds an account's recent searches by query hash
type SearchHistory interface {
	LatestByHash(ctx context.Context, accountID, queryHash string, since time.Time) (*models.SearchRecord, error)
}

// ActiveJobs finds an account's in-flight jobs by query hash
type ActiveJobs interface {
	LatestActiveByHash(ctx context.Context, accountID, queryHash string, since time.Time) (*models.ScrapeJob, error)
}

// GuardDecision is the verdict on a repeated search
type GuardDecision struct {
	ShouldBlock     bool                 `json:"shouldBlock"`
	Reason          string               `json:"reason,omitempty"`
	LastSearch      *models.SearchRecord `json:"lastSearch,omitempty"`
	ActiveJobID     string               `json:"activeJobId,omitempty"`
	WaitMinutes     int                  `json:"waitMinutes,omitempty"`
	QueryHash       string               `json:"queryHash"`
	LastResultCount int                  `json:"lastResultCount,omitempty"`
}

// DuplicateGuard blocks an account from paying twice for the same search
// inside the cooldown window
type DuplicateGuard struct {
	searches SearchHistory
	jobs     ActiveJobs
	cooldown time.Duration
	now      types.Clock
}

// NewDuplicateGuard creates a guard. jobs may be nil.
func NewDuplicateGuard(searches SearchHistory, jobs ActiveJobs, cooldown time.Duration, now types.Clock) *DuplicateGuard {
	if now == nil {
		now = time.Now
	}
	return &DuplicateGuard{searches: searches, jobs: jobs, cooldown: cooldown, now: now}
}

// QueryHash is the stable identity of a search for one account: city,
// category, radius and keywords, case- and accent-folded, keyword order ignored
func QueryHash(accountID string, params types.SearchParams) string {
	cat := category.Fold(params.BusinessType)
	if c, ok := category.Resolve(params.BusinessType); ok {
		cat = string(c)
	}

	keywords := strings.Fields(category.Fold(params.Keywords))
	sort.Strings(keywords)

	raw := strings.Join([]string{
		accountID,
		category.Fold(params.City),
		cat,
		fmt.Sprintf("%.3f", params.RadiusKm),
		strings.Join(keywords, " "),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Check looks for the same search inside the cooldown window
func (g *DuplicateGuard) Check(ctx context.Context, accountID string, params types.SearchParams) (*GuardDecision, error) {
	hash := QueryHash(accountID, params)
	decision := &GuardDecision{QueryHash: hash}
	if g.cooldown <= 0 {
		return decision, nil
	}

	now := g.now()
	since := now.Add(-g.cooldown)

	if g.jobs != nil {
		job, err := g.jobs.LatestActiveByHash(ctx, accountID, hash, since)
		if err != nil {
			return nil, err
		}
		if job != nil {
			decision.ShouldBlock = true
			decision.Reason = "an identical search is already running"
			decision.ActiveJobID = job.ID
			decision.WaitMinutes = g.waitMinutes(job.CreatedAt, now)
			telemetry.RecordDuplicateBlocked()
			return decision, nil
		}
	}

	last, err := g.searches.LatestByHash(ctx, accountID, hash, since)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return decision, nil
	}

	decision.ShouldBlock = true
	decision.Reason = "an identical search was run recently"
	decision.LastSearch = last
	decision.LastResultCount = last.ResultCount
	decision.WaitMinutes = g.waitMinutes(last.CreatedAt, now)
	telemetry.RecordDuplicateBlocked()
	return decision, nil
}

// waitMinutes is the whole minutes until the cooldown ends, at least 1
func (g *DuplicateGuard) waitMinutes(at, now time.Time) int {
	remaining := at.Add(g.cooldown).Sub(now)
	m := int(math.Ceil(remaining.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}
