// Package server provides the public entry point for initializing the
// FarmXpert orchestrator.
//
// This package exists in pkg/ (not internal/) so that other binaries can
// compose the orchestrator with extra in-process advisory services.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//	srv.Shutdown(ctx)
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/internal/api"
	"github.com/farmxpert/farmxpert/orchestrator/internal/api/handlers"
	"github.com/farmxpert/farmxpert/orchestrator/internal/catalog"
	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/farmxpert/farmxpert/orchestrator/internal/delivery"
	"github.com/farmxpert/farmxpert/orchestrator/internal/guardrails"
	"github.com/farmxpert/farmxpert/orchestrator/internal/llm"
	"github.com/farmxpert/farmxpert/orchestrator/internal/metrics"
	"github.com/farmxpert/farmxpert/orchestrator/internal/notify"
	"github.com/farmxpert/farmxpert/orchestrator/internal/orchestrator"
	"github.com/farmxpert/farmxpert/orchestrator/internal/retention"
	"github.com/farmxpert/farmxpert/orchestrator/internal/router"
	"github.com/farmxpert/farmxpert/orchestrator/internal/sessions"
	"github.com/farmxpert/farmxpert/orchestrator/internal/store"
	"github.com/farmxpert/farmxpert/orchestrator/internal/telemetry"
	"github.com/farmxpert/farmxpert/orchestrator/internal/workflow"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
)

// Server holds the initialized orchestrator.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Orchestrator is exposed so embedders can ask queries in-process.
	Orchestrator *orchestrator.Orchestrator

	// Config is the server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	engine            *workflow.Engine
	archive           contracts.SessionArchive
	notifier          *notify.Service
	janitor           *retention.Janitor
	telemetryShutdown func(context.Context) error

	mu          sync.Mutex
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// Option customizes server construction.
type Option func(*options)

type options struct {
	adapters []contracts.Adapter
}

// WithAdapters registers in-process advisory services ahead of the
// configured HTTP ones. A later adapter with the same name replaces an
// earlier one.
func WithAdapters(list ...contracts.Adapter) Option {
	return func(o *options) { o.adapters = append(o.adapters, list...) }
}

// New initializes every component from environment configuration.
func New(ctx context.Context, opts ...Option) (*Server, error) {
	return NewWithConfig(ctx, config.Load(), opts...)
}

// NewWithConfig initializes the orchestrator with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	archive, err := store.Open(ctx, cfg.Archive)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open session archive: %w", err)
	}
	sessStore := sessions.NewMemorySessionStore(sessions.WithArchive(archive))
	log.Info().Msg("✅ Session store initialized")

	reg, err := buildRegistry(cfg, o.adapters)
	if err != nil {
		_ = archive.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	log.Info().Strs("adapters", reg.Names()).Msg("✅ Adapter registry initialized")

	notifier := newNotifier(cfg.Notify)

	engine := workflow.NewEngine(reg, cfg.Engine, workflow.WithMetrics(m))
	hub := delivery.NewHub(m)
	orch := orchestrator.New(orchestrator.Deps{
		Sessions:  sessStore,
		Registry:  reg,
		Router:    router.New(reg.Infos(), router.Options{MaxAdapters: cfg.Routing.MaxAdapters}),
		Engine:    engine,
		Hub:       hub,
		Validator: guardrails.New(),
		Notifier:  notifier,
	}, cfg.Sessions)
	log.Info().Str("busy_policy", string(cfg.Sessions.BusyPolicy)).Msg("✅ Workflow engine initialized")

	janitorOpts := retention.Options{
		Interval:          cfg.Sessions.JanitorInterval,
		SessionIdleTTL:    cfg.Sessions.IdleTTL,
		WorkflowRetention: cfg.Sessions.WorkflowRetention,
	}
	if cfg.Sessions.ArchiveDir != "" {
		janitorOpts.Archiver = retention.NewLocalFileArchiver(cfg.Sessions.ArchiveDir, cfg.Sessions.CompressArchive)
	}

	return &Server{
		Handler:           api.NewRouter(cfg, handlers.New(orch), promReg),
		Orchestrator:      orch,
		Config:            cfg,
		Port:              cfg.Port,
		engine:            engine,
		archive:           archive,
		notifier:          notifier,
		janitor:           retention.NewJanitor(sessStore, engine, hub, janitorOpts),
		telemetryShutdown: shutdown,
	}, nil
}

// buildRegistry registers in-process adapters, then the configured HTTP
// services, then the general fallback.
func buildRegistry(cfg *config.Config, extra []contracts.Adapter) (*adapters.Registry, error) {
	remote, err := catalog.Build(cfg.Adapters.Endpoints, &http.Client{Timeout: cfg.Adapters.Timeout})
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}

	reg := adapters.NewRegistry(extra...)
	for _, a := range remote {
		reg.Register(a)
	}

	var completer contracts.Completer
	if c := llm.New(cfg.LLM); c != nil {
		completer = c
	}
	reg.Register(adapters.NewGeneralAdapter(completer))
	return reg, nil
}

func newNotifier(cfg config.NotifyConfig) *notify.Service {
	channels := make([]notify.Channel, 0, len(cfg.WebhookURLs))
	for _, url := range cfg.WebhookURLs {
		channels = append(channels, notify.Channel{URL: url, Secret: cfg.Secret, Events: cfg.Events})
	}
	return notify.NewService(channels, notify.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
}

// Start launches background maintenance. It is a no-op when already
// started.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopJanitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stopJanitor = cancel
	s.janitorDone = make(chan struct{})
	go func() {
		defer close(s.janitorDone)
		s.janitor.Start(ctx)
	}()
}

// Shutdown stops the janitor, cancels running workflows, drains webhook
// deliveries, closes the session archive and flushes telemetry. Every step runs; their errors
// are combined.
func (s *Server) Shutdown(ctx context.Context) error {
	var result *multierror.Error

	s.mu.Lock()
	stop, done := s.stopJanitor, s.janitorDone
	s.stopJanitor = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
			result = multierror.Append(result, fmt.Errorf("janitor: %w", ctx.Err()))
		}
	}

	if err := s.engine.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("workflow engine: %w", err))
	}
	if err := s.notifier.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("notifications: %w", err))
	}
	if err := s.archive.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("session archive: %w", err))
	}
	if err := s.telemetryShutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("telemetry: %w", err))
	}
	return result.ErrorOrNil()
}
