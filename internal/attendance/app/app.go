package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/rollcall/internal/attendance/http"
	"github.com/aussiebroadwan/rollcall/internal/attendance/service"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store/drivers/sqlite"
	"github.com/aussiebroadwan/rollcall/internal/attendance/ws"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the attendance server with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db     store.Store
	signer *jwtx.Signer
	keys   *jwtx.KeySet

	// Services
	qrService           *service.QRService
	housekeepingService *service.HousekeepingService
	hub                 *ws.Hub
	hubCancel           context.CancelFunc
	hubDone             chan struct{}

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "rollcall",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	signer, err := InitSigner(app.cfg, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize signing key: %w", err)
	}
	app.signer = signer
	app.keys = jwtx.NewKeySet()
	if err := app.keys.AddSigner(signer); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler exposes the routed HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.Start()

	app.logger.Info("rollcall starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Start runs the background workers: the realtime hub and housekeeping.
func (app *Application) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	app.hubCancel = cancel
	app.hubDone = make(chan struct{})
	go func() {
		defer close(app.hubDone)
		_ = app.hub.Run(ctx)
	}()

	app.housekeepingService.Start()
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down rollcall...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// WebSocket connections are hijacked and outlive server.Shutdown; the
	// hub closes them with 1001 so clients reconnect elsewhere.
	if app.hubCancel != nil {
		app.hubCancel()
		select {
		case <-app.hubDone:
		case <-ctx.Done():
			app.logger.Warn("websocket hub did not stop in time")
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("rollcall stopped")
	return nil
}

// initDatabase opens the database and applies migrations
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

func (app *Application) initServices() {
	app.hub = ws.NewHub(app.logger)

	app.qrService = &service.QRService{
		Store:     app.db,
		Events:    app.hub,
		TTL:       app.cfg.QRTTL,
		LateAfter: app.cfg.LateAfter,
		QRSize:    app.cfg.QRSize,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.HousekeepingRetention,
	)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keys,
		jwtx.NewVerifier(app.keys, app.cfg.Issuer, nil),
		BuildVersion,
		app.db,
		app.logger,
	)

	router.QRService = app.qrService
	router.Hub = app.hub
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
