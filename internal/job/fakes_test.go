package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lead-scanner/internal/adapter"
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

// memJobStore applies the same conditional transitions as the Postgres
// repository
type memJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.ScrapeJob
	completeErr error
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.ScrapeJob)}
}

func (s *memJobStore) Create(ctx context.Context, job *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memJobStore) Get(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memJobStore) transition(jobID string, to types.JobStatus, apply func(j *models.ScrapeJob)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || !models.CanTransition(j.Status, to) {
		return false
	}
	j.Status = to
	apply(j)
	return true
}

func (s *memJobStore) MarkProcessing(ctx context.Context, jobID string, at time.Time) (bool, error) {
	return s.transition(jobID, types.JobProcessing, func(j *models.ScrapeJob) { j.StartedAt = &at }), nil
}

func (s *memJobStore) MarkCompleted(ctx context.Context, jobID string, counts models.JobCounts, searchID string, at time.Time) (bool, error) {
	s.mu.Lock()
	err := s.completeErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.transition(jobID, types.JobCompleted, func(j *models.ScrapeJob) {
		j.CompletedAt = &at
		j.NewBusinessesCount = counts.NewCount
		j.CachedBusinessesCount = counts.CachedCount
		j.SearchID = &searchID
		if j.ProgressTotal < 1 {
			j.ProgressTotal = 1
		}
		j.ProgressCurrent = j.ProgressTotal
	}), nil
}

func (s *memJobStore) MarkFailed(ctx context.Context, jobID string, message string, at time.Time) (bool, error) {
	return s.transition(jobID, types.JobFailed, func(j *models.ScrapeJob) {
		j.CompletedAt = &at
		j.ErrorMessage = &message
	}), nil
}

func (s *memJobStore) UpdateProgress(ctx context.Context, jobID string, current, total int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != types.JobProcessing {
		return false, nil
	}
	j.ProgressCurrent, j.ProgressTotal = current, total
	return true, nil
}

func (s *memJobStore) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScrapeJob
	for _, j := range s.jobs {
		if j.Status == types.JobPending && j.CreatedAt.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memJobStore) ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScrapeJob
	for _, j := range s.jobs {
		if j.Status == types.JobProcessing && j.StartedAt != nil && j.StartedAt.Before(startedBefore) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(*out[k].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memJobStore) status(jobID string) types.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status
}

type memSearches struct {
	mu      sync.Mutex
	records map[string]*models.SearchRecord
	err     error
}

func newMemSearches() *memSearches {
	return &memSearches{records: make(map[string]*models.SearchRecord)}
}

func (s *memSearches) Create(ctx context.Context, r *models.SearchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records[r.ID] = r
	return nil
}

func (s *memSearches) Get(ctx context.Context, id string) (*models.SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, storage.ErrSearchNotFound
	}
	return r, nil
}

// memBusinesses merges with models.CachedBusiness.Merge, the in-memory
// twin of the Postgres upsert
type memBusinesses struct {
	mu        sync.Mutex
	rows      map[string]*models.CachedBusiness
	upsertErr error
	getCalls  int
}

func newMemBusinesses() *memBusinesses {
	return &memBusinesses{rows: make(map[string]*models.CachedBusiness)}
}

func (s *memBusinesses) Upsert(ctx context.Context, items []*models.CachedBusiness, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	var inserted []string
	for _, b := range items {
		if existing, ok := s.rows[b.PlaceID]; ok {
			existing.Merge(b, now)
			continue
		}
		cp := *b
		cp.CreatedAt, cp.LastUpdatedAt = now, now
		s.rows[b.PlaceID] = &cp
		inserted = append(inserted, b.PlaceID)
	}
	return inserted, nil
}

func (s *memBusinesses) GetByIDs(ctx context.Context, ids []string) ([]*models.CachedBusiness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	out := make([]*models.CachedBusiness, 0, len(ids))
	for _, id := range ids {
		if b, ok := s.rows[id]; ok {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memBusinesses) get(id string) *models.CachedBusiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

type fakeProvider struct {
	mu       sync.Mutex
	results  []*models.CachedBusiness
	err      error
	block    bool
	release  chan struct{}
	calls    int
	requests []adapter.SearchRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Search(ctx context.Context, req adapter.SearchRequest) ([]*models.CachedBusiness, error) {
	p.mu.Lock()
	p.calls++
	p.requests = append(p.requests, req)
	block, release, err := p.block, p.release, p.err
	out := make([]*models.CachedBusiness, 0, len(p.results))
	for _, b := range p.results {
		cp := *b
		out = append(out, &cp)
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeRefunder struct {
	mu       sync.Mutex
	calls    int
	refunded map[string]int
}

func newFakeRefunder() *fakeRefunder {
	return &fakeRefunder{refunded: make(map[string]int)}
}

func (r *fakeRefunder) RefundJob(ctx context.Context, job *models.ScrapeJob, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if _, done := r.refunded[job.ID]; done {
		return nil
	}
	r.refunded[job.ID] = job.CreditsReserved
	return nil
}

type fakeInvalidator struct {
	mu     sync.Mutex
	params []types.SearchParams
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, params types.SearchParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	return nil
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, jobID)
	return nil
}

var errDiskFull = errors.New("disk full")

func listing(id, phone string) *models.CachedBusiness {
	return &models.CachedBusiness{
		PlaceID: id,
		Name:    "Boulangerie " + id,
		Address: id + " rue de Rivoli",
		Phone:   phone,
		Lat:     48.8566,
		Lon:     2.3522,
		Types:   []string{"bakery"},
	}
}

func bakeryParams() types.SearchParams {
	return types.SearchParams{
		City:         "Paris",
		BusinessType: "boulangerie",
		Location:     types.Coordinates{Lat: 48.8566, Lon: 2.3522},
		RadiusKm:     2,
	}
}
