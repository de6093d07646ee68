package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPricing() *Pricing {
	return NewPricing(config.PricingConfig{
		CacheFresh:          2,
		CacheStale:          15,
		ScrapingBasic:       30,
		ScrapingWithContact: 50,
		EnrichmentPerItem:   1,
		ExportPremium:       10,
	})
}

func testFreshness() config.FreshnessConfig {
	return config.FreshnessConfig{
		FreshAge: 7 * 24 * time.Hour,
		StaleAge: 30 * 24 * time.Hour,
		PageSize: 100,
	}
}

// fakeAccountStore applies the same decision functions as the Postgres
// repository under a mutex
type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.CreditAccount
	txs      []*models.CreditTransaction
	refunded map[string]bool
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{
		accounts: make(map[string]*models.CreditAccount),
		refunded: make(map[string]bool),
	}
}

func (s *fakeAccountStore) put(a *models.CreditAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.AccountID] = &cp
	if a.CreditsRemaining > 0 {
		s.txs = append(s.txs, &models.CreditTransaction{
			AccountID: a.AccountID, Type: types.OpMonthlyGrant, Amount: a.CreditsRemaining,
			CreditsAfter: a.CreditsRemaining, CreatedAt: a.CreatedAt,
		})
	}
}

func (s *fakeAccountStore) Get(ctx context.Context, accountID string) (*models.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAccountStore) Ensure(ctx context.Context, account *models.CreditAccount) (*models.CreditAccount, error) {
	s.mu.Lock()
	_, exists := s.accounts[account.AccountID]
	s.mu.Unlock()
	if !exists {
		s.put(account)
	}
	return s.Get(ctx, account.AccountID)
}

func (s *fakeAccountStore) Debit(ctx context.Context, req storage.DebitRequest, now time.Time) (models.DebitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[req.AccountID]
	if !ok {
		return models.DebitOutcome{}, storage.ErrAccountNotFound
	}
	out := a.ApplyDebit(req.Amount, now)
	if out.Success {
		s.txs = append(s.txs, &models.CreditTransaction{
			AccountID: req.AccountID, Type: req.Type, Amount: -req.Amount,
			CreditsBefore: out.CreditsBefore, CreditsAfter: out.CreditsAfter,
			Details: req.Details, JobID: req.JobID, IP: req.Meta.IP, UserAgent: req.Meta.UserAgent, CreatedAt: now,
		})
	}
	return out, nil
}

func (s *fakeAccountStore) Credit(ctx context.Context, req storage.CreditRequest, now time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Type == types.OpRefund && req.JobID != nil {
		if s.refunded[*req.JobID] {
			return 0, 0, storage.ErrAlreadyRefunded
		}
		s.refunded[*req.JobID] = true
	}
	a, ok := s.accounts[req.AccountID]
	if !ok {
		return 0, 0, storage.ErrAccountNotFound
	}
	before, after := a.ApplyCredit(req.Amount, req.Type, now)
	s.txs = append(s.txs, &models.CreditTransaction{
		AccountID: req.AccountID, Type: req.Type, Amount: req.Amount,
		CreditsBefore: before, CreditsAfter: after, Details: req.Details, JobID: req.JobID, CreatedAt: now,
	})
	return before, after, nil
}

func (s *fakeAccountStore) Transactions(ctx context.Context, accountID string, limit int) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(s.txs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.txs[i].AccountID == accountID {
			out = append(out, s.txs[i])
		}
	}
	return out, nil
}

func (s *fakeAccountStore) LedgerSum(ctx context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, t := range s.txs {
		if t.AccountID == accountID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (s *fakeAccountStore) countType(op types.OperationType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.txs {
		if t.Type == op {
			n++
		}
	}
	return n
}

type fakeBusinessStore struct {
	mu         sync.Mutex
	rows       []*models.CachedBusiness
	statsCalls int
}

func (s *fakeBusinessStore) match(q models.BusinessQuery) []*models.CachedBusiness {
	var out []*models.CachedBusiness
	for _, b := range s.rows {
		if !q.Bounds.Contains(b.Location()) {
			continue
		}
		if q.Category != "" && b.Category != q.Category && !overlaps(b.Types, q.ProviderTypes) {
			continue
		}
		if q.Keyword != "" {
			kw := strings.ToLower(q.Keyword)
			if !strings.Contains(strings.ToLower(b.Name), kw) && !strings.Contains(strings.ToLower(b.Address), kw) {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (s *fakeBusinessStore) Stats(ctx context.Context, q models.BusinessQuery, now time.Time) (models.CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	matched := s.match(q)
	if len(matched) == 0 {
		return models.CacheStats{}, nil
	}
	var total time.Duration
	for _, b := range matched {
		total += now.Sub(b.LastUpdatedAt)
	}
	return models.CacheStats{Count: len(matched), AvgAge: total / time.Duration(len(matched))}, nil
}

func (s *fakeBusinessStore) Find(ctx context.Context, q models.BusinessQuery) ([]*models.CachedBusiness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.match(q)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *fakeBusinessStore) GetByIDs(ctx context.Context, ids []string) ([]*models.CachedBusiness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[string]*models.CachedBusiness)
	for _, b := range s.rows {
		byID[b.PlaceID] = b
	}
	var out []*models.CachedBusiness
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeSearchStore struct {
	mu      sync.Mutex
	records []*models.SearchRecord
}

func (s *fakeSearchStore) Create(ctx context.Context, r *models.SearchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *fakeSearchStore) Get(ctx context.Context, id string) (*models.SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, storage.ErrSearchNotFound
}

func (s *fakeSearchStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SearchRecord
	for _, r := range s.records {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeSearchStore) LatestByHash(ctx context.Context, accountID, hash string, since time.Time) (*models.SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.SearchRecord
	for _, r := range s.records {
		if r.AccountID == accountID && r.QueryHash == hash && !r.CreatedAt.Before(since) {
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
	}
	return latest, nil
}

type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.ScrapeJob
	createErr error
	now       func() time.Time
}

func newFakeJobStore(now func() time.Time) *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.ScrapeJob), now: now}
}

func (s *fakeJobStore) Create(ctx context.Context, job *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	job.Status = types.JobPending
	job.CreatedAt = s.now()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) LatestActiveByHash(ctx context.Context, accountID, hash string, since time.Time) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.AccountID == accountID && j.QueryHash == hash && !j.CreatedAt.Before(since) &&
			!j.Status.IsTerminal() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeJobStore) finish(id string, status types.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = status
}

type fakeTrigger struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (t *fakeTrigger) Enqueue(ctx context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.enqueued = append(t.enqueued, jobID)
	return nil
}

var errStoreDown = errors.New("store down")
