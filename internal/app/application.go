// Package app wires the habitat server together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"habitat/internal/api"
	"habitat/internal/broadcast"
	"habitat/internal/clock"
	"habitat/internal/config"
	"habitat/internal/database"
	"habitat/internal/events"
	"habitat/internal/geometry"
	"habitat/internal/hub"
	"habitat/internal/metrics"
	"habitat/internal/missions"
	"habitat/internal/placement"
	"habitat/internal/random"
	"habitat/internal/router"
	"habitat/internal/session"
	"habitat/internal/websocket"
)

// Application owns every long-lived component of the server.
type Application struct {
	config      *config.Config
	logger      zerolog.Logger
	journal     *database.Manager
	metrics     *metrics.Recorder
	sessions    *session.Manager
	registry    *websocket.Registry
	broadcaster *broadcast.Broadcaster
	placement   *placement.Engine
	events      *events.Scheduler
	missions    *missions.Engine
	router      *router.Router
	hub         *hub.Hub
	httpServer  *http.Server
}

// NewApplication builds the component graph in dependency order: journal,
// sessions, transport, engines, router, hub, HTTP.
func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var mask *geometry.Mask
	if cfg.Game.MaskPath != "" {
		m, err := geometry.LoadMask(cfg.Game.MaskPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load mask: %w", err)
		}
		mask = m
		logger.Info().Str("path", cfg.Game.MaskPath).Int("width", m.Width()).Int("height", m.Height()).Msg("buildable mask loaded")
	}

	rng, err := random.New(cfg.Game.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to seed random source: %w", err)
	}
	logger.Info().Uint64("seed", rng.Seed()).Msg("random source ready")

	rec, err := metrics.NewRecorder()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	journal, err := database.NewManager(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	clk := clock.Real{}
	sessions := session.NewManager(session.Options{
		Grid:        geometry.Grid{Cols: cfg.Game.GridCols, Rows: cfg.Game.GridRows, TileSize: float64(cfg.Game.TileSize)},
		MaxPlayers:  cfg.Game.MaxPlayers,
		ChatHistory: cfg.Game.ChatHistory,
	}, clk, logger)
	if err := rec.ObserveSessions(func() int64 { return int64(len(sessions.List())) }); err != nil {
		_ = journal.Close()
		return nil, err
	}

	registry := websocket.NewRegistry()
	broadcaster := broadcast.New(registry, sessions, clk, cfg.Broadcast.ThrottleInterval, logger)

	placer := placement.NewEngine(sessions, mask, broadcaster, clk, rec, logger)
	placer.SetHistoryCapacity(cfg.Game.UndoHistory)

	scheduler := events.NewScheduler(sessions, broadcaster, clk, rng, rec, events.Options{
		CheckInterval: cfg.Events.CheckInterval,
		MinSpacing:    cfg.Events.MinSpacing,
		MaxActive:     cfg.Events.MaxActive,
		EffectTick:    cfg.Events.EffectTick,
		AllowForce:    cfg.IsDevelopment(),
	}, logger)
	scheduler.SetJournal(journal)

	missionEngine := missions.NewEngine(sessions, broadcaster, clk, rng, rec, missions.Options{
		ProgressTick:   cfg.Missions.ProgressTick,
		ReplenishDelay: cfg.Missions.ReplenishDelay,
		MaxActive:      cfg.Missions.MaxActive,
	}, logger)
	missionEngine.SetJournal(journal)

	messageRouter := router.NewRouter(router.Deps{
		Registry:   registry,
		Sessions:   sessions,
		Placement:  placer,
		Events:     scheduler,
		Missions:   missionEngine,
		Broadcast:  broadcaster,
		Journal:    journal,
		Metrics:    rec,
		Clock:      clk,
		RateLimit:  cfg.RateLimit.Messages,
		RateWindow: cfg.RateLimit.Window,
		Logger:     logger,
	})

	hubOpts := hub.DefaultOptions()
	hubOpts.MessageBuffer = cfg.WebSocket.MessageBuffer
	messageHub := hub.NewHub(registry, messageRouter, hubOpts, logger)

	wsHandler := websocket.NewHandler(registry, messageHub, websocket.HandlerOptions{
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		ReadLimit:      cfg.WebSocket.ReadLimit,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
	}, logger)
	apiServer := api.NewServer(sessions, journal, registry, rec, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	return &Application{
		config:      cfg,
		logger:      logger.With().Str("component", "app").Logger(),
		journal:     journal,
		metrics:     rec,
		sessions:    sessions,
		registry:    registry,
		broadcaster: broadcaster,
		placement:   placer,
		events:      scheduler,
		missions:    missionEngine,
		router:      messageRouter,
		hub:         messageHub,
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      mux,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// GetAddr returns the configured listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Run listens on the configured address and serves until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.journal.Close()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve runs the hub and the HTTP server on ln until ctx is cancelled or the
// server fails, then shuts everything down.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := app.hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	app.logger.Info().Str("addr", ln.Addr().String()).Msg("habitat server listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.HTTP.ShutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})
	return g.Wait()
}

// Stop shuts down in reverse dependency order: HTTP, sockets, hub, timers,
// journal.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if n := app.registry.CloseAll(); n > 0 {
		app.logger.Info().Int("connections", n).Msg("closed client connections")
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	for _, s := range app.sessions.List() {
		app.events.StopSession(s.ID)
		app.missions.StopSession(s.ID)
		app.broadcaster.Forget(s.ID)
	}
	if err := app.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal shutdown: %w", err))
	}

	app.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}
