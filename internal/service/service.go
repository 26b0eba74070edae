// Package service provides the daemon that integrates all components: the
// target, its debug session, snapshot persistence and the HTTP API.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mem-analysis/internal/repository"
	"github.com/mem-analysis/internal/session"
	"github.com/mem-analysis/internal/storage"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/internal/target/snapshot"
	"github.com/mem-analysis/internal/webui"
	"github.com/mem-analysis/pkg/compression"
	"github.com/mem-analysis/pkg/config"
	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/telemetry"
	"github.com/mem-analysis/pkg/utils"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Service is the main application service.
type Service struct {
	config  *config.Config
	logger  utils.Logger
	version string

	store   storage.Storage
	archive *storage.Archive
	db      *repository.Repositories
	session *session.Session
	server  *webui.Server

	shutdownTelemetry telemetry.ShutdownFunc

	mu      sync.Mutex
	running bool
}

// New creates a new Service instance.
func New(cfg *config.Config, version string, logger utils.Logger) (*Service, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is required")
	}
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	return &Service{
		config:  cfg,
		logger:  logger,
		version: version,
	}, nil
}

// Initialize initializes all service components.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing service components...")

	if err := s.initTelemetry(ctx); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if s.config.Database.Enabled {
		if err := s.initDatabase(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	if err := s.initSession(ctx); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	s.server = webui.NewServer(s.session, s.config.Server.Port, s.logger)
	if s.db != nil {
		s.server.WithSnapshots(s.db.Snapshot)
	}
	if s.config.Server.Pprof {
		s.server.WithPprof()
	}

	s.logger.Info("Service components initialized successfully")
	return nil
}

func (s *Service) initTelemetry(ctx context.Context) error {
	tc := s.config.Telemetry
	telemetry.Override(telemetry.Overrides{
		Enabled:        tc.Enabled,
		Endpoint:       tc.Endpoint,
		Protocol:       tc.Protocol,
		Insecure:       tc.Insecure,
		ServiceVersion: s.version,
	})
	shutdown, err := telemetry.Init(ctx)
	s.shutdownTelemetry = shutdown
	if err != nil {
		return err
	}
	if telemetry.Enabled() {
		s.logger.Info("Tracing enabled")
	}
	return nil
}

// initStorage initializes the object storage.
func (s *Service) initStorage() error {
	s.logger.Info("Initializing storage (%s)...", s.config.Storage.Type)
	archive, err := NewArchive(&s.config.Storage)
	if err != nil {
		return err
	}
	s.store = archive.Store()
	s.archive = archive
	s.logger.Info("Storage initialized")
	return nil
}

// initDatabase initializes the database connection and repositories.
func (s *Service) initDatabase(ctx context.Context) error {
	s.logger.Info("Connecting to database (%s)...", s.config.Database.Type)
	repos, err := OpenRepositories(ctx, s.config)
	if err != nil {
		return err
	}
	s.db = repos
	s.logger.Info("Database connection established")
	return nil
}

func (s *Service) initSession(ctx context.Context) error {
	t, err := OpenTarget(ctx, &s.config.Target, s.archive)
	if err != nil {
		return err
	}
	sess, err := NewSession(s.config, t, s.logger)
	if err != nil {
		return err
	}
	s.session = sess
	return nil
}

// NewArchive creates the configured storage and wraps it in an Archive
// using the configured codec.
func NewArchive(cfg *config.StorageConfig) (*storage.Archive, error) {
	codec, err := compression.ParseType(cfg.Compression)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid storage compression", err)
	}
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewArchive(store, codec), nil
}

// OpenRepositories connects to the configured database and migrates it.
func OpenRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	return repository.Connect(ctx, &cfg.Database)
}

// OpenTarget loads the configured target: a local snapshot file, or a
// snapshot in object storage when only a storage key is set.
func OpenTarget(ctx context.Context, cfg *config.TargetConfig, archive *storage.Archive) (*snapshot.Snapshot, error) {
	switch {
	case cfg.Snapshot != "":
		return snapshot.LoadFile(cfg.Snapshot)
	case cfg.StorageKey != "":
		if archive == nil {
			return nil, apperrors.New(apperrors.CodeConfigError, "target storage key set without storage")
		}
		return archive.OpenSnapshot(ctx, cfg.StorageKey)
	default:
		return nil, apperrors.New(apperrors.CodeConfigError, "no target configured: set target.snapshot or target.storage_key")
	}
}

// NewSession creates a debug session for t from the configuration.
func NewSession(cfg *config.Config, t target.Target, logger utils.Logger) (*session.Session, error) {
	opts, err := session.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	return session.New(t, opts)
}

// Run serves the API until ctx is canceled or the server fails, then
// shuts the server down.
func (s *Service) Run(ctx context.Context) error {
	if s.server == nil {
		return apperrors.New(apperrors.CodeConfigError, "service is not initialized")
	}
	s.setRunning(true)
	defer s.setRunning(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down API server...")
		return s.server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Stop releases every component.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping service...")

	if s.session != nil {
		s.session.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection: %v", err)
		}
	}
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(ctx); err != nil {
			s.logger.Error("Failed to flush traces: %v", err)
		}
	}

	s.logger.Info("Service stopped")
	return nil
}

func (s *Service) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// IsRunning returns whether the service is serving.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Session returns the debug session, or nil before Initialize.
func (s *Service) Session() *session.Session {
	return s.session
}

// Handler returns the API routes, or nil before Initialize.
func (s *Service) Handler() http.Handler {
	if s.server == nil {
		return nil
	}
	return s.server.Handler()
}

// Stats returns service statistics.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{
		Running:   s.IsRunning(),
		Snapshots: s.db != nil,
	}
	if s.session != nil {
		stats.MapBuilds = s.session.Builds()
		stats.MapBuiltAt = s.session.BuiltAt()
	}
	return stats
}

// HealthCheck performs a health check on the service.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	return nil
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	Running    bool      `json:"running"`
	Snapshots  bool      `json:"snapshots"`
	MapBuilds  int       `json:"map_builds"`
	MapBuiltAt time.Time `json:"map_built_at"`
}
