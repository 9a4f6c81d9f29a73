// cmd/serial2rudics/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"serial2rudics/internal/bridge"
	"serial2rudics/internal/config"
	serialscan "serial2rudics/internal/discovery/serial"
	"serial2rudics/internal/handler"
	"serial2rudics/internal/protocol"
	"serial2rudics/internal/routes"
	"serial2rudics/internal/simulator"
	"serial2rudics/internal/utils"
)

// Process exit codes
const (
	exitOK            = 0
	exitSerialFailure = 1
	exitStartup       = 2
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Application represents the main application
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	serviceLogger *utils.ServiceLogger
	server        *http.Server

	// Bridge
	serial     *protocol.SerialEndpoint
	network    *protocol.NetworkEndpoint
	transcript *bridge.Transcript
	supervisor *bridge.Supervisor

	// Status surface
	scanner   *serialscan.Scanner
	eventBus  *handler.EventBus
	websocket *handler.WebSocketHandler

	// Bench simulators
	dockServer *simulator.DockServer
	fauxSerial *simulator.FauxSerial
	files      []io.Closer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitStartup
	}

	app, err := NewApplication(cfg)
	if err != nil {
		if app != nil && app.logger != nil {
			app.logger.Error("Failed to initialize application", zap.Error(err))
			app.shutdown("startup failure")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		}
		if protocol.IsFatal(err) {
			return exitSerialFailure
		}
		return exitStartup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Start(ctx)
}

// NewApplication creates a new application instance. On error the
// returned application, when non-nil, holds whatever was already opened.
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		config:        cfg,
		logger:        logger,
		serviceLogger: utils.NewServiceLogger(logger, "serial2rudics"),
	}
	app.serviceLogger.LogServiceStart(version, cfg)

	app.scanner = serialscan.NewScanner(logger, nil)

	if err := app.initializeSimulators(); err != nil {
		return app, fmt.Errorf("failed to initialize simulators: %w", err)
	}

	if err := app.initializeSerial(); err != nil {
		return app, err
	}

	if err := app.initializeBridge(); err != nil {
		return app, fmt.Errorf("failed to initialize bridge: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return app, fmt.Errorf("failed to initialize status server: %w", err)
	}

	return app, nil
}

// initializeSimulators starts the bench stand-ins requested on the command
// line and points the configuration at them
func (app *Application) initializeSimulators() error {
	sim := &app.config.Simulate

	if sim.Dockserver {
		input, err := app.openInput(sim.DockserverInput)
		if err != nil {
			return err
		}
		output, err := app.openOutput(sim.DockserverOutput)
		if err != nil {
			return err
		}

		app.dockServer, err = simulator.NewDockServer(input, output, app.logger)
		if err != nil {
			return err
		}
		app.config.Dockserver.Host = app.dockServer.Host()
		app.config.Dockserver.Port = app.dockServer.Port()
	}

	if sim.SerialInput != "" {
		input, err := app.openInput(sim.SerialInput)
		if err != nil {
			return err
		}
		output, err := app.openOutput(sim.SerialOutput)
		if err != nil {
			return err
		}

		app.fauxSerial, err = simulator.NewFauxSerial(input, output, sim.DrainTimeout, app.logger)
		if err != nil {
			return err
		}
		app.config.Serial.Device = app.fauxSerial.Path()
	}

	return nil
}

// openInput opens a simulator input file. An empty name means no input.
func (app *Application) openInput(name string) (io.Reader, error) {
	if name == "" {
		return nil, nil
	}
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open simulator input: %w", err)
	}
	app.files = append(app.files, file)
	return file, nil
}

// openOutput creates a simulator output file. An empty name discards.
func (app *Application) openOutput(name string) (io.Writer, error) {
	if name == "" {
		return nil, nil
	}
	file, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator output: %w", err)
	}
	app.files = append(app.files, file)
	return file, nil
}

// initializeSerial opens the serial line once for the process lifetime
func (app *Application) initializeSerial() error {
	app.serial = protocol.NewSerialEndpoint(app.config.SerialConfig(), app.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.serial.Open(ctx); err != nil {
		app.logCandidatePorts()
		return err
	}
	return nil
}

// logCandidatePorts lists serial ports that could have been meant
func (app *Application) logCandidatePorts() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ports, err := app.scanner.Scan(ctx)
	if err != nil {
		app.logger.Warn("Failed to list serial ports", zap.Error(err))
		return
	}
	if len(ports) == 0 {
		app.logger.Warn("No serial ports found")
		return
	}
	for _, port := range ports {
		app.logger.Info("Available serial port",
			zap.String("name", port.Name),
			zap.Bool("usb", port.IsUSB),
			zap.String("vid", port.VID),
			zap.String("pid", port.PID),
		)
	}
}

// initializeBridge creates the network endpoint and the reconnect supervisor
func (app *Application) initializeBridge() error {
	app.network = protocol.NewNetworkEndpoint(app.config.TCPConfig(), app.logger)
	app.eventBus = handler.NewEventBus(app.logger)

	if name := app.config.Bridge.Transcript; name != "" {
		app.transcript = bridge.NewTranscript(name, app.config.Logging.MaxSize, app.config.Logging.MaxBackups)
	}

	bridgeCfg := &app.config.Bridge
	retryCfg := &app.config.Retry
	opts := bridge.Options{
		PollInterval: bridgeCfg.PollInterval,
		IdleTimeout:  bridgeCfg.IdleTimeout,
		MaxOpenTime:  bridgeCfg.MaxOpenTime,
		MaxOpenDelay: bridgeCfg.MaxOpenDelay,
		Spacing:      retryCfg.Spacing,
		Retry: bridge.RetryPolicy{
			Interval:    retryCfg.Interval,
			MaxInterval: retryCfg.MaxInterval,
			Multiplier:  retryCfg.Multiplier,
		},
		BufferSize: bridgeCfg.BufferSize,
		Pacer:      bridge.NewPacer(bridgeCfg.PaceBaudRate),
		Transcript: app.transcript,
	}

	app.supervisor = bridge.NewSupervisor(app.serial, app.network, opts, app.logger, app.eventBus)

	app.logger.Info("Bridge initialized",
		zap.String("dockserver", app.network.Address()),
		zap.String("serial_device", app.serial.Path()),
		zap.Bool("paced", opts.Pacer != nil),
		zap.Bool("transcript", app.transcript != nil),
	)
	return nil
}

// initializeServer sets up the optional HTTP status server
func (app *Application) initializeServer() error {
	if app.config.Status.Listen == "" {
		return nil
	}

	app.websocket = handler.NewWebSocketHandler(app.eventBus, app.supervisor, app.logger)

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		version,
		app.supervisor,
		app.scanner,
		app.websocket,
	)

	app.server = &http.Server{
		Addr:              app.config.Status.Listen,
		Handler:           routerManager.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	app.logger.Info("Status server initialized", zap.String("address", app.server.Addr))
	return nil
}

// Start runs the bridge until ctx is cancelled or the serial line fails
// and returns the process exit code
func (app *Application) Start(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if app.dockServer != nil {
		app.dockServer.Start(ctx)
	}
	if app.fauxSerial != nil {
		app.fauxSerial.Start(ctx)
		go func() {
			select {
			case <-app.fauxSerial.Done():
				app.logger.Info("Simulated serial device finished, shutting down")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	go app.eventBus.Run(ctx)

	if app.server != nil {
		go app.websocket.Run(ctx)
		go func() {
			app.logger.Info("Starting status server", zap.String("address", app.server.Addr))
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	err := app.supervisor.Run(ctx)
	if err != nil {
		app.shutdown("serial failure")
		return exitSerialFailure
	}

	app.shutdown("shutdown signal received")
	return exitOK
}

// shutdown releases everything the application opened
func (app *Application) shutdown(reason string) {
	app.serviceLogger.LogServiceStop(reason)

	var err error

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, app.server.Shutdown(ctx))
		cancel()
	}
	if app.serial != nil {
		err = multierr.Append(err, app.serial.Close())
	}
	if app.transcript != nil {
		err = multierr.Append(err, app.transcript.Close())
	}
	if app.fauxSerial != nil {
		err = multierr.Append(err, app.fauxSerial.Close())
	}
	if app.dockServer != nil {
		err = multierr.Append(err, app.dockServer.Close())
	}
	for _, file := range app.files {
		err = multierr.Append(err, file.Close())
	}

	if err != nil {
		app.logger.Error("Errors during shutdown", zap.Errors("errors", multierr.Errors(err)))
	}

	app.logger.Info("Application shutdown completed")

	// Flush logger
	if err := utils.CloseLogger(app.logger); err != nil && !errors.Is(err, syscall.EINVAL) {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
