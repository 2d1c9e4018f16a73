package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/internal/assemble"
	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/bridge"
	"github.com/fableforge/fable/internal/config"
	"github.com/fableforge/fable/internal/defra"
	"github.com/fableforge/fable/internal/finalize"
	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/jobs"
	"github.com/fableforge/fable/internal/providers"
	"github.com/fableforge/fable/internal/ranker"
	"github.com/fableforge/fable/internal/schema"
	"github.com/fableforge/fable/internal/server/endpoints"
	"github.com/fableforge/fable/internal/store"
	"github.com/fableforge/fable/internal/svcctx"
)

// Server is the main Fable HTTP server.
// It manages the DefraDB container lifecycle - starting it on server
// start and stopping it on server shutdown.
type Server struct {
	httpServer   *http.Server
	defraManager *defra.DockerManager
	defraClient  *defra.Client
	registry     *providers.Registry
	bridge       *bridge.Bridge
	configMgr    *config.Manager
	logger       *slog.Logger
	assetsPath   string

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// AssetsPath is the default asset storage directory. Storage
	// config's base_path overrides it.
	AssetsPath string
	// DefraDataPath is the path to persist DefraDB data
	DefraDataPath string
	// DefraConfig holds DefraDB container settings
	DefraConfig defra.DockerConfig
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	if cfg.DefraDataPath != "" {
		cfg.DefraConfig.DataPath = cfg.DefraDataPath
	}

	defraManager, err := defra.NewDockerManager(cfg.DefraConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create defra manager: %w", err)
	}

	registry := providers.NewRegistry(cfg.ConfigManager.Get().Providers, cfg.Logger)
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		registry.Reload(c.Providers)
		cfg.Logger.Info("provider registry reloaded from config")
	})

	s := &Server{
		defraManager: defraManager,
		registry:     registry,
		configMgr:    cfg.ConfigManager,
		logger:       cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		DefraManager:    defraManager,
		SwaggerSpecPath: endpoints.GetSwaggerSpecPath(),
	}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.assetsPath = cfg.AssetsPath
	return s, nil
}

// Start starts the server and DefraDB.
// It blocks until the context is cancelled or an error occurs.
// If an existing DefraDB container exists, it validates the
// configuration matches.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.defraManager.ValidateExisting(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("existing DefraDB container incompatible: %w", err)
	}

	s.logger.Info("starting DefraDB")
	if err := s.defraManager.Start(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to start DefraDB: %w", err)
	}

	s.defraClient = defra.NewClient(s.defraManager.URL())
	if err := s.defraClient.HealthCheck(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("DefraDB health check failed: %w", err)
	}
	s.logger.Info("DefraDB is ready", "url", s.defraManager.URL())

	s.logger.Info("initializing schemas")
	if err := schema.Initialize(ctx, s.defraClient, s.logger); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	if err := s.buildServices(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildServices wires the full service graph once DefraDB is reachable.
func (s *Server) buildServices(ctx context.Context) error {
	cfg := s.configMgr.Get()

	db := store.New(s.defraClient, s.logger)

	basePath := cfg.Storage.BasePath
	if basePath == "" {
		basePath = s.assetsPath
	}
	fileStore, err := assets.NewFileStore(assets.FileStoreConfig{
		BasePath:   basePath,
		PublicURL:  cfg.Server.PublicURL,
		Secret:     config.ResolveEnvVars(cfg.Storage.SigningSecret),
		DefaultTTL: cfg.Storage.URLTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create asset store: %w", err)
	}

	s.bridge = bridge.New(cfg.Orchestrator.WaitTimeout, s.logger)
	genManager := generations.NewManager(db, s.logger)
	jobManager := jobs.NewManager(db, fileStore, s.logger)
	finalizer := finalize.New(fileStore, s.registry, s.logger)

	candidateRanker := ranker.New(ranker.Config{
		Enabled: cfg.Ranker.Enabled,
		APIKey:  config.ResolveEnvVars(cfg.Ranker.APIKey),
		Model:   cfg.Ranker.Model,
	}, s.logger)

	assembly := assemble.NewService(assemble.ServiceDeps{
		Store:     db,
		Books:     db,
		Jobs:      jobManager,
		Assets:    fileStore,
		Finalizer: finalizer,
		Logger:    s.logger,
	})

	processor := jobs.NewProcessor(jobs.ProcessorDeps{
		Jobs:        jobManager,
		Generations: genManager,
		Bridge:      s.bridge,
		Providers:   s.registry,
		Finalizer:   finalizer,
		Ranker:      candidateRanker,
		Books:       db,
		WebhookURL:  cfg.Server.PublicURL + "/api/webhooks/generations",
		Logger:      s.logger,
	})

	runner := jobs.NewRunner(jobManager, processor, assembly, cfg.Orchestrator.Concurrency, s.logger)

	if cfg.Orchestrator.RecoveryInterval > 0 {
		sweeper := jobs.NewSweeper(db, jobManager,
			cfg.Orchestrator.RecoveryInterval, cfg.Orchestrator.WaitTimeout, s.logger)
		go sweeper.Run(ctx)
	}

	s.services = &svcctx.Services{
		DefraClient: s.defraClient,
		Books:       db,
		Jobs:        jobManager,
		Runner:      runner,
		Generations: genManager,
		Bridge:      s.bridge,
		Assembly:    assembly,
		Assets:      fileStore,
		Registry:    s.registry,
		Logger:      s.logger,
	}
	return nil
}

// shutdown performs graceful shutdown of the HTTP server, the
// completion bridge, and DefraDB.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.bridge != nil {
		s.bridge.Close()
	}

	s.logger.Info("stopping DefraDB")
	if err := s.defraManager.Stop(shutdownCtx); err != nil {
		s.logger.Error("DefraDB stop error", "error", err)
	}
	if err := s.defraManager.Close(); err != nil {
		s.logger.Error("DefraDB manager close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// DefraClient returns the DefraDB client.
// Returns nil if the server hasn't started yet.
func (s *Server) DefraClient() *defra.Client {
	return s.defraClient
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully
// initialized. Returns 503 Service Unavailable until the service graph
// is built.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.defraClient == nil || s.services == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
