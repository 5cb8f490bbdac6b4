package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/msslab/testmgr/pkg/api/store"
	"github.com/msslab/testmgr/pkg/config"
	"github.com/msslab/testmgr/pkg/executor"
	"github.com/msslab/testmgr/pkg/run"
)

const shutdownTimeout = 10 * time.Second

// Progress checkpoints reported by the built-in executor before a
// target completes.
var (
	lineStages   = []int{30, 70}
	moduleStages = []int{40, 80}
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log          logrus.FieldLogger
	cfg          *config.Config
	store        store.Store
	state        *run.StateStore
	sessions     *run.SessionStore
	orchestrator run.Orchestrator
	presigner    *s3Presigner
	localServer  *localFileServer
	httpServer   *http.Server
	wg           sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start initializes the store, seeds users, builds the run engine, and
// starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	// Create and start the database store.
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	// Seed users from config.
	if len(s.cfg.Auth.Seed) > 0 {
		if err := s.store.SeedUsers(ctx, s.cfg.Auth.Seed); err != nil {
			return fmt.Errorf("seeding users: %w", err)
		}
	}

	if err := os.MkdirAll(s.cfg.Runner.ResultsDir, 0o755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	// Ephemeral state and the run engine.
	s.state = run.NewStateStore()
	s.sessions = run.NewSessionStore()

	stepDelay := s.cfg.StepDelayDuration()

	s.orchestrator = run.NewOrchestrator(
		s.log,
		&run.Config{RunTimeout: s.cfg.RunTimeoutDuration()},
		s.store,
		s.state,
		executor.NewResultWriter(s.cfg.Runner.ResultsDir),
		map[string]executor.Executor{
			store.KindLine: executor.NewStaged(s.log, &executor.Config{
				ResultsDir: s.cfg.Runner.ResultsDir,
				StepDelay:  stepDelay,
				Stages:     lineStages,
			}),
			store.KindModule: executor.NewStaged(s.log, &executor.Config{
				ResultsDir: s.cfg.Runner.ResultsDir,
				StepDelay:  stepDelay,
				Stages:     moduleStages,
			}),
		},
	)

	if err := s.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	// Initialize S3 presigner if configured.
	if s.cfg.Storage.S3 != nil && s.cfg.Storage.S3.Enabled {
		presigner, err := newS3Presigner(s.log, s.cfg.Storage.S3)
		if err != nil {
			return fmt.Errorf("initializing s3 presigner: %w", err)
		}

		s.presigner = presigner

		s.log.Info("S3 presigned URL generation enabled")
	} else {
		s.localServer = newLocalFileServer(s.log, s.cfg.Runner.ResultsDir)
	}

	// Build router and start HTTP server.
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server, waits for in-flight runs,
// and closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.orchestrator != nil {
		if err := s.orchestrator.Stop(); err != nil {
			s.log.WithError(err).Warn("Orchestrator stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
