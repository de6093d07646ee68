// Package app wires configuration into the stores, services and job
// machinery shared by the server and worker binaries.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lead-scanner/internal/adapter"
	"github.com/lead-scanner/internal/api"
	"github.com/lead-scanner/internal/circuitbreaker"
	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/job"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/ratelimit"
	"github.com/lead-scanner/internal/service"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/zone"
)

// App holds every long-lived component
type App struct {
	Config *config.Config

	Postgres *storage.PostgresDB
	Redis    *storage.RedisCache
	Cache    *storage.CacheService

	Accounts   *storage.AccountRepository
	Businesses *storage.BusinessRepository
	Searches   *storage.SearchRepository
	JobRepo    *storage.JobRepository

	Ledger   *service.CreditLedger
	Resolver *service.CacheResolver
	Search   *service.SearchService

	Queue   *job.RedisQueue
	Jobs    *job.StateMachine
	Engine  *job.Engine
	Workers *job.WorkerPool
	Sweeper *job.Sweeper

	Zones *zone.Retriever
}

// New connects to Postgres and Redis and builds the component graph
func New(cfg *config.Config) (*App, error) {
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("Database connections established")

	a := &App{
		Config:     cfg,
		Postgres:   postgres,
		Redis:      redisCache,
		Cache:      storage.NewCacheService(redisCache, cfg.Freshness.CheckCacheTTL),
		Accounts:   storage.NewAccountRepository(postgres),
		Businesses: storage.NewBusinessRepository(postgres),
		Searches:   storage.NewSearchRepository(postgres),
		JobRepo:    storage.NewJobRepository(postgres),
	}

	if err := a.buildServices(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildServices() error {
	cfg := a.Config
	now := time.Now

	a.Ledger = service.NewCreditLedger(a.Accounts, now)
	a.Resolver = service.NewCacheResolver(a.Businesses, a.Cache, cfg.Freshness, now)
	a.Queue = job.NewRedisQueue(a.Redis.Client(), cfg.Jobs.QueueKey)
	a.Jobs = job.NewStateMachine(job.StateMachineConfig{
		Store:           a.JobRepo,
		Searches:        a.Searches,
		Businesses:      a.Businesses,
		Refunder:        a.Ledger,
		Memo:            a.Cache,
		RefundOnFailure: cfg.Jobs.RefundOnFailure,
		Now:             now,
	})

	a.Search = service.NewSearchService(service.SearchServiceDeps{
		Resolver:   a.Resolver,
		Ledger:     a.Ledger,
		Guard:      service.NewDuplicateGuard(a.Searches, a.JobRepo, cfg.Guard.Cooldown, now),
		Pricing:    service.NewPricing(cfg.Pricing),
		Jobs:       a.Jobs,
		Trigger:    a.Queue,
		Searches:   a.Searches,
		Businesses: a.Businesses,
		Now:        now,
	})

	budget, err := ratelimit.NewProviderBudget(&ratelimit.ProviderBudgetConfig{
		Redis:          a.Redis.Client(),
		Provider:       cfg.Provider.Name,
		CallsPerWindow: cfg.Provider.CallsPerMin,
		WindowSize:     time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider budget: %w", err)
	}

	breakerCfg := circuitbreaker.DefaultConfig(cfg.Provider.Name)
	breakerCfg.MaxFailures = cfg.Provider.FailureBudget
	breakerCfg.IsFailure = func(err error) bool { return adapter.KindOf(err) != adapter.KindBadRequest }
	provider, err := adapter.NewPlacesClient(adapter.PlacesClientConfig{
		Name:       cfg.Provider.Name,
		APIKey:     cfg.Provider.APIKey,
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    cfg.Provider.Timeout,
		MaxResults: cfg.Provider.MaxResults,
		Breaker:    circuitbreaker.NewCircuitBreaker(breakerCfg),
		Budget:     budget,
	})
	if err != nil {
		return fmt.Errorf("failed to create listings provider: %w", err)
	}

	a.Engine, err = job.NewEngine(job.EngineConfig{
		Jobs:        a.Jobs,
		Provider:    provider,
		Businesses:  a.Businesses,
		Searches:    a.Searches,
		Invalidator: a.Resolver,
		MaxResults:  cfg.Provider.MaxResults,
		JobTimeout:  cfg.Jobs.JobTimeout,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("failed to create job engine: %w", err)
	}
	a.Workers = job.NewWorkerPool(a.Queue, a.Engine, cfg.Jobs.Workers)
	a.Sweeper = job.NewSweeper(a.Jobs, a.Queue, cfg.Jobs.SweepInterval, cfg.Jobs.StuckAfter, cfg.Jobs.AbandonAfter)

	pool, err := adapter.NewEndpointPool(adapter.EndpointPoolConfig{
		Endpoints:      cfg.Zone.Endpoints,
		RequestsPerSec: cfg.Zone.EndpointRPS,
	})
	if err != nil {
		return fmt.Errorf("failed to create zone endpoint pool: %w", err)
	}
	overpass := adapter.NewOverpassClient(&http.Client{Timeout: cfg.Zone.AttemptTimeout + 5*time.Second}, cfg.Zone.AttemptTimeout)
	a.Zones = zone.NewRetriever(overpass, pool, nil, zone.Config{
		Limits:         a.ZoneLimits(),
		BatchSize:      cfg.Zone.BatchSize,
		MaxAttempts:    cfg.Zone.MaxAttempts,
		AttemptTimeout: cfg.Zone.AttemptTimeout,
		BaseBackoff:    cfg.Zone.BaseBackoff,
	})
	return nil
}

// ZoneLimits are the area limits from configuration
func (a *App) ZoneLimits() zone.Limits {
	return zone.Limits{
		ChunkDegrees:  a.Config.Zone.ChunkDegrees,
		MinSideMetres: a.Config.Zone.MinSideMetres,
		WarnAreaKm2:   a.Config.Zone.WarnAreaKm2,
		MaxAreaKm2:    a.Config.Zone.MaxAreaKm2,
	}
}

// APIServices groups what the HTTP layer calls
func (a *App) APIServices() api.Services {
	return api.Services{
		Search:  a.Search,
		Jobs:    a.Jobs,
		Trigger: a.Queue,
		Credits: a.Ledger,
		Zones:   a.Zones,
		Health: map[string]api.HealthChecker{
			"postgres": a.Postgres,
			"redis":    a.Redis,
		},
	}
}

// StartWorkers starts the worker pool and the stuck-job sweeper. The
// sweeper stops with ctx.
func (a *App) StartWorkers(ctx context.Context) error {
	if err := a.Workers.Start(ctx); err != nil {
		return err
	}
	go a.Sweeper.Run(ctx)
	return nil
}

// Close releases the database connections
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
