package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lead-scanner/internal/adapter"
	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

type engineFixture struct {
	*machineFixture
	provider    *fakeProvider
	invalidator *fakeInvalidator
	engine      *Engine
}

func newEngineFixture(t *testing.T, refundOnFailure bool, timeout time.Duration) *engineFixture {
	t.Helper()
	f := &engineFixture{
		machineFixture: newMachineFixture(refundOnFailure, nil),
		provider:       &fakeProvider{},
		invalidator:    &fakeInvalidator{},
	}
	engine, err := NewEngine(EngineConfig{
		Jobs:        f.machine,
		Provider:    f.provider,
		Businesses:  f.businesses,
		Searches:    f.searches,
		Invalidator: f.invalidator,
		MaxResults:  60,
		JobTimeout:  timeout,
		Now:         f.clock.Now,
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func TestEngine_ProcessMergesAndCompletes(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	ctx := context.Background()

	_, err := f.businesses.Upsert(ctx, []*models.CachedBusiness{listing("p1", "+33 1 00 00 00 01")}, f.clock.Now())
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)

	f.provider.results = []*models.CachedBusiness{
		listing("p1", ""),
		listing("p2", ""),
		listing("p2", "+33 1 00 00 00 02"),
	}
	job := f.newJob(t, 30)

	require.NoError(t, f.engine.Process(ctx, job.ID))

	stored, err := f.machine.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, stored.Status)
	assert.Equal(t, 1, stored.NewBusinessesCount)
	assert.Equal(t, 1, stored.CachedBusinessesCount)
	assert.Equal(t, engineStages, stored.ProgressCurrent)
	assert.Equal(t, engineStages, stored.ProgressTotal)
	require.NotNil(t, stored.SearchID)

	record, err := f.searches.Get(ctx, *stored.SearchID)
	require.NoError(t, err)
	assert.False(t, record.WasCached)
	assert.Equal(t, []string{"p1", "p2"}, record.BusinessIDs)
	assert.Equal(t, 30, record.CreditsCharged)
	require.NotNil(t, record.JobID)
	assert.Equal(t, job.ID, *record.JobID)

	p1 := f.businesses.get("p1")
	assert.Equal(t, "+33 1 00 00 00 01", p1.Phone, "empty incoming phone must not erase the stored one")
	assert.Equal(t, f.clock.Now(), p1.LastUpdatedAt)
	assert.Equal(t, "+33 1 00 00 00 02", f.businesses.get("p2").Phone)
	assert.Equal(t, string(category.Bakery), f.businesses.get("p2").Category)

	require.Len(t, f.provider.requests, 1)
	assert.Equal(t, category.Bakery, f.provider.requests[0].Category)
	assert.Equal(t, 60, f.provider.requests[0].MaxResults)
	assert.Len(t, f.invalidator.params, 1)

	view, err := f.machine.GetStatus(ctx, "acct", job.ID)
	require.NoError(t, err)
	assert.Len(t, view.Results, 2)
}

func TestEngine_ProcessSkipsNonPending(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	ctx := context.Background()
	f.provider.results = []*models.CachedBusiness{listing("p1", "")}
	job := f.newJob(t, 30)

	require.NoError(t, f.engine.Process(ctx, job.ID))
	require.NoError(t, f.engine.Process(ctx, job.ID))

	assert.Equal(t, 1, f.provider.calls)
	assert.Equal(t, types.JobCompleted, f.store.status(job.ID))
}

func TestEngine_ProviderFailureKeepsCredits(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	ctx := context.Background()
	f.provider.err = &adapter.ProviderError{
		Provider: "fake", Kind: adapter.KindUnavailable, StatusCode: 503, Err: errors.New("backend overloaded"),
	}
	job := f.newJob(t, 30)

	require.NoError(t, f.engine.Process(ctx, job.ID))

	stored, err := f.machine.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "PROVIDER_ERROR")
	assert.Contains(t, *stored.ErrorMessage, "backend overloaded")
	assert.Equal(t, 30, stored.CreditsReserved)
	assert.Equal(t, 0, f.refunder.calls)
	assert.Empty(t, f.searches.records)
	assert.Empty(t, f.invalidator.params)
}

func TestEngine_ProviderFailureRefundsWhenConfigured(t *testing.T) {
	f := newEngineFixture(t, true, time.Minute)
	f.provider.err = &adapter.ProviderError{Provider: "fake", Kind: adapter.KindQuota, Err: errors.New("OVER_QUERY_LIMIT")}
	job := f.newJob(t, 30)

	require.NoError(t, f.engine.Process(context.Background(), job.ID))

	assert.Equal(t, types.JobFailed, f.store.status(job.ID))
	assert.Equal(t, 30, f.refunder.refunded[job.ID])
}

func TestEngine_ProviderTimeout(t *testing.T) {
	f := newEngineFixture(t, false, 20*time.Millisecond)
	f.provider.block = true
	job := f.newJob(t, 30)

	require.NoError(t, f.engine.Process(context.Background(), job.ID))

	stored, err := f.machine.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "PROVIDER_TIMEOUT")
}

func TestEngine_CancelledWorkerContextLetsJobFinish(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	f.provider.results = []*models.CachedBusiness{listing("p1", "")}
	f.provider.release = make(chan struct{})
	job := f.newJob(t, 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Process(ctx, job.ID) }()

	require.Eventually(t, func() bool { return f.provider.callCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	close(f.provider.release)

	require.NoError(t, <-done)
	assert.Equal(t, types.JobCompleted, f.store.status(job.ID))
	assert.Zero(t, f.refunder.calls)
}

func TestEngine_CompletionWriteFailureFailsJob(t *testing.T) {
	f := newEngineFixture(t, true, time.Minute)
	f.provider.results = []*models.CachedBusiness{listing("p1", "")}
	f.store.completeErr = errDiskFull
	job := f.newJob(t, 30)

	err := f.engine.Process(context.Background(), job.ID)
	require.Error(t, err)

	stored, getErr := f.machine.Get(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, types.JobFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "recording completion failed")
	assert.Equal(t, 30, f.refunder.refunded[job.ID])
}

// providerCallCount sums the provider call counter for provider across
// outcomes
func providerCallCount(t *testing.T, provider string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != "lead_scanner_provider_calls_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "provider" && lp.GetValue() == provider {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestEngine_LeavesProviderCallMetricToClient(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	f.provider.results = []*models.CachedBusiness{listing("p1", "")}
	before := providerCallCount(t, f.provider.Name())

	ok := f.newJob(t, 30)
	require.NoError(t, f.engine.Process(context.Background(), ok.ID))
	f.provider.err = errors.New("boom")
	failed := f.newJob(t, 30)
	require.NoError(t, f.engine.Process(context.Background(), failed.ID))

	assert.Equal(t, before, providerCallCount(t, f.provider.Name()))
}

func TestEngine_PersistenceFailureFailsJob(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	f.provider.results = []*models.CachedBusiness{listing("p1", "")}
	f.businesses.upsertErr = errDiskFull
	job := f.newJob(t, 30)

	require.NoError(t, f.engine.Process(context.Background(), job.ID))

	stored, err := f.machine.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, stored.Status)
	assert.Contains(t, *stored.ErrorMessage, "disk full")
}

func TestEngine_SearchRecordFailureKeepsMergedRows(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	f.provider.results = []*models.CachedBusiness{listing("p1", "")}
	f.searches.err = errDiskFull
	job := f.newJob(t, 30)

	require.NoError(t, f.engine.Process(context.Background(), job.ID))

	assert.Equal(t, types.JobFailed, f.store.status(job.ID))
	assert.NotNil(t, f.businesses.get("p1"))
}

func TestEngine_MergeIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	ctx := context.Background()

	f.provider.results = []*models.CachedBusiness{listing("p1", "+33 1 00 00 00 01")}
	first := f.newJob(t, 30)
	require.NoError(t, f.engine.Process(ctx, first.ID))

	updated := listing("p1", "")
	updated.Website = "https://boulangerie.example"
	f.provider.results = []*models.CachedBusiness{updated}
	second := f.newJob(t, 30)
	require.NoError(t, f.engine.Process(ctx, second.ID))

	stored, err := f.machine.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.NewBusinessesCount)
	assert.Equal(t, 1, stored.CachedBusinessesCount)

	assert.Len(t, f.businesses.rows, 1)
	p1 := f.businesses.get("p1")
	assert.Equal(t, "+33 1 00 00 00 01", p1.Phone)
	assert.Equal(t, "https://boulangerie.example", p1.Website)
}

func TestEngine_MaxResultsCappedByRequest(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	job := &models.ScrapeJob{AccountID: "acct", Params: bakeryParams(), CreditsReserved: 30}
	job.Params.MaxResults = 10
	require.NoError(t, f.machine.Create(context.Background(), job))

	require.NoError(t, f.engine.Process(context.Background(), job.ID))

	require.Len(t, f.provider.requests, 1)
	assert.Equal(t, 10, f.provider.requests[0].MaxResults)
}

func TestEngine_UnknownJob(t *testing.T) {
	f := newEngineFixture(t, false, time.Minute)
	err := f.engine.Process(context.Background(), "3f0f1d1e-8a8e-4d55-9a34-3e5b1c0b9f10")
	require.Error(t, err)
	assert.Equal(t, 0, f.provider.calls)
}
