// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"serial-device/internal/config"
	"serial-device/internal/device"
	"serial-device/internal/handler"
	"serial-device/internal/metrics"
	"serial-device/internal/routes"
	"serial-device/internal/service"
	"serial-device/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server
	router *routes.Router

	manager       *device.Manager
	metrics       *metrics.Metrics
	eventBus      *handler.EventBus
	deviceService *service.DeviceService

	cancelBackground context.CancelFunc
}

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "serial-device-server",
		Short:         "HTTP API for discovering and driving serial devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Start()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "serial-device")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeServices builds the device manager and the service layer
func (app *Application) initializeServices() error {
	app.metrics = metrics.New()
	app.eventBus = handler.NewEventBus(app.logger)

	manager, err := device.NewManager(
		device.OptionsFromConfig(app.config.Device),
		app.logger,
		device.WithProbeObserver(app.metrics.ObserveProbe),
	)
	if err != nil {
		return fmt.Errorf("failed to create device manager: %w", err)
	}
	app.manager = manager

	app.deviceService = service.NewDeviceService(
		app.manager,
		app.metrics,
		app.eventBus,
		app.config.Device,
		app.logger,
	)

	app.logger.Info("Services initialized",
		zap.String("id_prefix", app.config.Device.IDPrefix),
		zap.Int("baud_rate", app.config.Device.BaudRate),
		zap.Strings("port_patterns", app.config.Device.PortPatterns),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.deviceService,
		app.eventBus,
		app.metrics,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts the event bus and the scan loop
func (app *Application) startBackgroundServices() {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancelBackground = cancel

	go app.eventBus.Start()
	go app.deviceService.Run(ctx)

	app.logger.Info("Background services started",
		zap.Bool("scan_on_start", app.config.Device.ScanOnStart),
		zap.Duration("rescan_interval", app.config.Device.RescanInterval),
	)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown(serverErr <-chan error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		app.shutdown("shutdown signal received")
	case err := <-serverErr:
		app.logger.Error("HTTP server failed", zap.Error(err))
		app.shutdown("http server failed")
	}
}

// shutdown performs graceful shutdown
func (app *Application) shutdown(reason string) {
	serviceLogger := utils.NewServiceLogger(app.logger, "serial-device")
	serviceLogger.LogServiceStop(reason)

	if app.cancelBackground != nil {
		app.cancelBackground()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.router.Close()
	app.eventBus.Stop()

	if err := app.deviceService.Shutdown(); err != nil {
		app.logger.Error("Device shutdown error", zap.Error(err))
	} else {
		app.logger.Info("Device channels closed")
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}

// Start runs the HTTP server until a shutdown signal arrives
func (app *Application) Start() error {
	serverErr := make(chan error, 1)

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	app.startBackgroundServices()
	app.waitForShutdown(serverErr)

	return nil
}
