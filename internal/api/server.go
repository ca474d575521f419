package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/auth"
	"github.com/nerrad567/divert-core/internal/clone"
	"github.com/nerrad567/divert-core/internal/discovery"
	"github.com/nerrad567/divert-core/internal/execution"
	"github.com/nerrad567/divert-core/internal/infrastructure/config"
	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	"github.com/nerrad567/divert-core/internal/infrastructure/logging"
	"github.com/nerrad567/divert-core/internal/integration"
	"github.com/nerrad567/divert-core/internal/registry"
	"github.com/nerrad567/divert-core/internal/vault"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	DB           *database.DB // optional: pool statistics for /admin/metrics
	Auth         *auth.Service
	Registry     registry.Repository
	Instances    *registry.Instances
	Orchestrator *execution.Orchestrator
	Clones       *clone.Service
	Integrations *integration.Manager
	Vault        *vault.Vault
	Coordinator  *discovery.Coordinator
	AuditRepo    audit.Repository
	AuditTrail   *audit.Trail
	ExternalHub  *Hub // If set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server for Divert Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	db           *database.DB
	auth         *auth.Service
	registry     registry.Repository
	instances    *registry.Instances
	orchestrator *execution.Orchestrator
	clones       *clone.Service
	integrations *integration.Manager
	vault        *vault.Vault
	coordinator  *discovery.Coordinator
	auditRepo    audit.Repository
	trail        *audit.Trail
	version      string
	startTime    time.Time
	server       *http.Server
	hub          *Hub
	cancel       context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, auth, registry, orchestrator)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Registry == nil || deps.Instances == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("execution orchestrator is required")
	}
	// Clones, integrations, coordinator and audit are optional; their
	// routes answer 503 when unset.

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		db:           deps.DB,
		auth:         deps.Auth,
		registry:     deps.Registry,
		instances:    deps.Instances,
		orchestrator: deps.Orchestrator,
		clones:       deps.Clones,
		integrations: deps.Integrations,
		vault:        deps.Vault,
		coordinator:  deps.Coordinator,
		auditRepo:    deps.AuditRepo,
		trail:        deps.AuditTrail,
		version:      deps.Version,
		startTime:    time.Now(),
	}

	// Use the externally-provided hub when the event bus already
	// broadcasts through it.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
	}

	return s, nil
}

// Hub returns the server's websocket hub, or nil before Start when none was
// injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub when none was injected,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
