package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tanranv5/grok2api/pkg/catalog"
	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/grok"
	"github.com/tanranv5/grok2api/pkg/imagews"
	"github.com/tanranv5/grok2api/pkg/orchestrator"
	"github.com/tanranv5/grok2api/pkg/proxy/handlers"
	"github.com/tanranv5/grok2api/pkg/proxy/middleware"
	"github.com/tanranv5/grok2api/pkg/reqlog"
	"github.com/tanranv5/grok2api/pkg/telemetry/metrics"
	"github.com/tanranv5/grok2api/pkg/token"
)

// Server is the assembled gateway.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server

	tokenStore token.Store
	pool       *token.Pool
	client     *grok.Client
	catalog    *catalog.Catalog
	reqStore   reqlog.Store
	recorder   *reqlog.Recorder
	scheduler  *token.Scheduler
	watcher    *catalog.Watcher
	collector  *metrics.Collector
	orch       *orchestrator.Orchestrator
	sessions   *imagews.Adapter

	cancelBg context.CancelFunc
	bg       sync.WaitGroup

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New builds a server from the configuration. All dependencies are
// constructed here; Start only runs them.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	var err error
	if cfg.Storage.Path == "" {
		s.tokenStore = token.NewMemoryStore()
		s.reqStore = reqlog.NewMemoryStore()
	} else {
		s.tokenStore, err = token.NewSQLiteStore(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		s.reqStore, err = reqlog.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			s.tokenStore.Close()
			return nil, fmt.Errorf("failed to open request log store: %w", err)
		}
	}

	s.catalog, err = catalog.Load(cfg.Catalog.Path)
	if err != nil {
		s.closeStores()
		return nil, err
	}
	if cfg.Catalog.Watch {
		s.watcher, err = catalog.NewWatcher(s.catalog)
		if err != nil {
			s.closeStores()
			return nil, err
		}
	}

	s.client = grok.NewClient(cfg.Grok)
	s.pool = token.NewPool(s.tokenStore, cfg.Tokens.Cooldowns, s.client)
	s.scheduler = token.NewScheduler(s.pool, cfg.Tokens)
	s.recorder = reqlog.NewRecorder(s.reqStore, reqlog.DefaultRecorderConfig())

	if cfg.Telemetry.Metrics.Enabled {
		s.collector = metrics.NewCollector(cfg.Telemetry.Metrics)
	}

	builder := grok.NewPayloadBuilder(cfg.Grok.BaseURL, cfg.Grok.EditModelID)
	var sink orchestrator.OutcomeSink
	if s.collector != nil {
		sink = s.collector
	}
	s.orch = orchestrator.New(s.pool, s.client, builder, cfg.Retry, sink)

	if cfg.ImageWS.Enabled {
		s.sessions = imagews.NewAdapter(cfg.ImageWS)
	}

	return s, nil
}

// Start runs the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBg = cancel

	if err := s.scheduler.Start(bgCtx); err != nil {
		cancel()
		return err
	}
	if s.watcher != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.watcher.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	s.httpServer = &http.Server{
		Addr:           s.cfg.Server.ListenAddress,
		Handler:        s.Handler(),
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting gateway",
			"address", s.cfg.Server.ListenAddress,
			"image_ws_enabled", s.cfg.ImageWS.Enabled,
			"metrics_enabled", s.cfg.Telemetry.Metrics.Enabled,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.Shutdown(context.Background())
		return err
	}
}

// Shutdown drains connections and stops background components.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.isRunning = false
		s.mu.Unlock()
		if !running {
			return
		}

		slog.Info("initiating graceful shutdown", "timeout", s.cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if s.cancelBg != nil {
			s.cancelBg()
		}
		s.bg.Wait()
		s.scheduler.Stop()

		if err := s.recorder.Close(); err != nil {
			slog.Error("error closing request recorder", "error", err)
		}
		s.closeStores()

		slog.Info("gateway stopped")
	})

	return shutdownErr
}

func (s *Server) closeStores() {
	if s.reqStore != nil {
		if err := s.reqStore.Close(); err != nil {
			slog.Error("error closing request log store", "error", err)
		}
	}
	if s.tokenStore != nil {
		if err := s.tokenStore.Close(); err != nil {
			slog.Error("error closing credential store", "error", err)
		}
	}
}

// IsRunning reports whether Start has been called and Shutdown has not.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	chatHandler := handlers.NewChatHandler(s.catalog, s.orch, s.cfg.Grok.FilteredTags)
	var sessions handlers.ImageSessions
	if s.sessions != nil {
		sessions = s.sessions
	}
	imagesHandler := handlers.NewImagesHandler(s.catalog, s.orch, sessions, s.pool, s.client)
	modelsHandler := handlers.NewModelsHandler(s.catalog)

	apiAuth := middleware.Auth(s.cfg.Auth.APIKey)
	mux.Handle("/v1/chat/completions", apiAuth(chatHandler))
	mux.Handle("/v1/images/generations", apiAuth(http.HandlerFunc(imagesHandler.Generations)))
	mux.Handle("/v1/images/edits", apiAuth(http.HandlerFunc(imagesHandler.Edits)))
	mux.Handle("/v1/models", apiAuth(modelsHandler))

	mux.Handle("/health", handlers.NewHealthHandler())
	mux.Handle("/ready", handlers.NewReadyHandler(s.tokenStore))

	// An empty admin key disables the whole admin surface.
	if s.cfg.Auth.AdminKey != "" {
		adminAuth := middleware.Auth(s.cfg.Auth.AdminKey)
		adminHandler := handlers.NewAdminHandler(s.pool, s.reqStore, s.cfg.Tokens)
		adminMux := http.NewServeMux()
		adminHandler.Register(adminMux)
		mux.Handle("/admin/", adminAuth(adminMux))
	}

	if s.collector != nil {
		mux.Handle("/metrics", s.collector.Handler())
	}

	var handler http.Handler = mux
	handler = middleware.CORS(s.cfg.Server.CORS)(handler)
	handler = middleware.Logging(s.recorder)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)
	return handler
}
