// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/geo"
	"github.com/lead-scanner/internal/job"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/service"
	"github.com/lead-scanner/internal/telemetry"
	"github.com/lead-scanner/internal/types"
	"github.com/lead-scanner/internal/zone"
)

// Service interfaces for dependency injection and testing

// SearchServiceInterface defines the search operations
type SearchServiceInterface interface {
	CacheCheck(ctx context.Context, params types.SearchParams) (*service.CacheCheckResult, error)
	StartSearch(ctx context.Context, in service.StartSearchInput) (*service.StartSearchResult, error)
	History(ctx context.Context, accountID string, limit, offset int) ([]*models.SearchRecord, error)
	GetSearch(ctx context.Context, accountID, searchID string) (*service.SearchView, error)
}

// JobServiceInterface defines job status reads
type JobServiceInterface interface {
	GetStatus(ctx context.Context, accountID, jobID string) (*job.StatusView, error)
	Get(ctx context.Context, jobID string) (*models.ScrapeJob, error)
}

// JobTrigger hands a job id to the workers
type JobTrigger interface {
	Enqueue(ctx context.Context, jobID string) error
}

// CreditServiceInterface defines the ledger operations
type CreditServiceInterface interface {
	Balance(ctx context.Context, accountID string) (*models.CreditAccount, error)
	History(ctx context.Context, accountID string, limit int) ([]*models.CreditTransaction, error)
	Add(ctx context.Context, in service.AddInput) (*service.AddResult, error)
	EnsureAccount(ctx context.Context, accountID string, plan types.Plan, timezone string) (*models.CreditAccount, error)
	Reconcile(ctx context.Context, accountID string) (*service.Reconciliation, error)
}

// ZoneRetriever runs chunked open-data retrieval over an area
type ZoneRetriever interface {
	Retrieve(ctx context.Context, b geo.Bounds, cat category.Category, onBatch func(zone.Progress)) (*zone.Result, error)
}

// HealthChecker reports whether a backing store answers
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	searchService SearchServiceInterface
	jobService    JobServiceInterface
	trigger       JobTrigger
	creditService CreditServiceInterface
	zones         ZoneRetriever
	health        map[string]HealthChecker
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	InternalAPIKey  string
	RateLimits      config.RateLimitConfig
	ZoneLimits      zone.Limits
}

// Services groups the collaborators the handlers call
type Services struct {
	Search  SearchServiceInterface
	Jobs    JobServiceInterface
	Trigger JobTrigger
	Credits CreditServiceInterface
	Zones   ZoneRetriever
	Health  map[string]HealthChecker
}

// NewServer creates a new API server instance.
func NewServer(cfg *ServerConfig, services Services) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		searchService: services.Search,
		jobService:    services.Jobs,
		trigger:       services.Trigger,
		creditService: services.Credits,
		zones:         services.Zones,
		health:        services.Health,
		config:        cfg,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimits)

	// order matters: recovery must wrap everything it can catch
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RequestLoggingMiddleware)
	s.router.Use(telemetry.Middleware)
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RequireAccountMiddleware)
	api.Use(RateLimitMiddleware(rateLimiter))

	api.HandleFunc("/searches/cache-check", s.handleCacheCheck).Methods(http.MethodPost)
	api.HandleFunc("/searches", s.handleStartSearch).Methods(http.MethodPost)
	api.HandleFunc("/searches", s.handleSearchHistory).Methods(http.MethodGet)
	api.HandleFunc("/searches/{id}", s.handleGetSearch).Methods(http.MethodGet)

	api.HandleFunc("/jobs/{id}", s.handleJobStatus).Methods(http.MethodGet)

	api.HandleFunc("/credits", s.handleGetCredits).Methods(http.MethodGet)
	api.HandleFunc("/credits/transactions", s.handleGetTransactions).Methods(http.MethodGet)

	api.HandleFunc("/zones/validate", s.handleValidateZone).Methods(http.MethodPost)
	api.HandleFunc("/zones/search", s.handleZoneSearch).Methods(http.MethodPost)

	internal := s.router.PathPrefix("/internal").Subrouter()
	internal.Use(InternalAuthMiddleware(s.config.InternalAPIKey))

	internal.HandleFunc("/jobs/{id}/process", s.handleProcessJob).Methods(http.MethodPost)
	internal.HandleFunc("/credits/{accountId}/add", s.handleAddCredits).Methods(http.MethodPost)
	internal.HandleFunc("/credits/{accountId}/reconcile", s.handleReconcile).Methods(http.MethodGet)
	internal.HandleFunc("/accounts/{accountId}", s.handleEnsureAccount).Methods(http.MethodPut)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports healthy when every backing store answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	status, code := "healthy", http.StatusOK
	for name, checker := range s.health {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "lead-scanner",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
