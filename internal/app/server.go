// Package app loads configuration and assembles the service: memory store,
// model registry, router, judge, personas, orchestration pipeline, durable
// dispatch, and the HTTP surface on top.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/raeburn-ai/raeburn/internal/agents"
	"github.com/raeburn-ai/raeburn/internal/durable"
	"github.com/raeburn-ai/raeburn/internal/events"
	"github.com/raeburn-ai/raeburn/internal/httpapi"
	"github.com/raeburn-ai/raeburn/internal/injector"
	"github.com/raeburn-ai/raeburn/internal/judge"
	"github.com/raeburn-ai/raeburn/internal/logging"
	"github.com/raeburn-ai/raeburn/internal/memory"
	"github.com/raeburn-ai/raeburn/internal/metrics"
	"github.com/raeburn-ai/raeburn/internal/orchestrator"
	"github.com/raeburn-ai/raeburn/internal/registry"
	"github.com/raeburn-ai/raeburn/internal/router"
	"github.com/raeburn-ai/raeburn/internal/scoring"
	"github.com/raeburn-ai/raeburn/internal/tracing"
)

// Server owns the wired components and the HTTP router.
type Server struct {
	cfg Config

	r   *chi.Mux
	log *slog.Logger

	store     *memory.Store
	scheduler *memory.Scheduler
	registry  *registry.Registry
	watcher   *registry.Watcher
	resolver  *agents.Resolver
	manager   *durable.Manager

	tracingShutdown func(context.Context) error
}

// NewServer assembles the service from cfg.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.TracingEndpoint != "",
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: "raeburnd",
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	bus := events.NewBus()

	store, err := memory.New(memory.Options{
		Dir:             cfg.MemoryDir,
		Sharding:        cfg.MemorySharding,
		DefaultTTL:      cfg.MemoryTTLDefault,
		MaxResults:      cfg.MemoryMaxResults,
		QueryStrict:     cfg.MemoryQueryStrict,
		ImportanceDecay: cfg.MemoryImportanceDecay,
		DecayFactor:     cfg.MemoryDecayFactor,
		Metrics:         m,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("memory store opened", "dir", cfg.MemoryDir, "sharding", cfg.MemorySharding)

	var scheduler *memory.Scheduler
	if cfg.MaintenanceCron != "" {
		scheduler, err = memory.NewScheduler(store, cfg.MaintenanceCron, bus, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		scheduler.Start()
	}

	reg := registry.New(registry.Options{
		Dir:            cfg.ConfigDir,
		AttemptTimeout: cfg.RouterTimeout,
		Logger:         logger,
	})

	// Hot reload is best effort: a missing config dir leaves SIGHUP as the
	// only reload path.
	watcher, err := registry.NewWatcher(reg, logger)
	if err != nil {
		logger.Warn("registry config watch unavailable", "dir", cfg.ConfigDir, "error", err)
		watcher = nil
	} else {
		watcher.Start()
	}

	rt := router.New(router.Options{
		Source:  reg,
		Weights: scoring.Parse(cfg.ScoreWeights),
		Timeout: cfg.RouterTimeout,
		Metrics: m,
		Events:  bus,
		Logger:  logger,
	})

	resolver := agents.New(cfg.AgentConfig, logger)
	inj := injector.New(store, 0)
	jd := judge.New(cfg.JudgeBackend, rt, logger)

	pipeline := orchestrator.New(orchestrator.Options{
		Resolver:    resolver,
		Injector:    inj,
		Store:       store,
		Router:      rt,
		Judge:       jd,
		Mode:        cfg.OrchestratorMode,
		Parallel:    cfg.OrchestratorParallel,
		MemoryLimit: cfg.MemoryLimit,
		Metrics:     m,
		Events:      bus,
		Logger:      logger,
	})

	// Durable dispatch is optional; a down Temporal cluster degrades to
	// in-process runs rather than failing startup.
	var manager *durable.Manager
	if cfg.TemporalHostPort != "" {
		acts := durable.NewActivities(pipeline, bus, logger)
		manager, err = durable.New(durable.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, acts)
		if err != nil {
			logger.Warn("temporal unavailable, runs stay in-process", "error", err)
			manager = nil
		} else if err := manager.Start(); err != nil {
			logger.Warn("temporal worker start failed, runs stay in-process", "error", err)
			manager.Stop()
			manager = nil
		} else {
			logger.Info("durable dispatch enabled",
				"host_port", cfg.TemporalHostPort,
				"task_queue", cfg.TemporalTaskQueue)
		}
	}
	dispatcher := durable.NewDispatcher(manager, pipeline, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:   rt,
		Runner:   dispatcher,
		Store:    store,
		Registry: reg,
		Metrics:  m,
		Events:   bus,
		Logger:   logger,
	})

	return &Server{
		cfg:             cfg,
		r:               r,
		log:             logger,
		store:           store,
		scheduler:       scheduler,
		registry:        reg,
		watcher:         watcher,
		resolver:        resolver,
		manager:         manager,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Router returns the HTTP handler for the service.
func (s *Server) Router() http.Handler { return s.r }

// Reload applies the reloadable parts of a new configuration: log level,
// registry files, and agent personas. Settings that shape the wiring
// (directories, weights, Temporal) need a restart.
func (s *Server) Reload(cfg Config) {
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.registry.Reload()
	s.resolver.Reload()
	s.log.Info("configuration reloaded", "log_level", cfg.LogLevel)
}

// Close stops background workers and releases the store.
func (s *Server) Close() error {
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.manager != nil {
		s.manager.Stop()
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.tracingShutdown != nil {
		errs = append(errs, s.tracingShutdown(context.Background()))
	}
	return errors.Join(errs...)
}
