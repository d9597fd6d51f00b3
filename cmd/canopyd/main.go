// Canopyd serves a shared, permissioned data tree to many clients.
//
// Clients connect over TCP (optionally TLS) or WebSocket, receive a snapshot
// of the tree and then every change other clients make. An admin HTTP API
// exposes status, the tree and change submission.
//
// Configuration is read from ~/.config/canopy/config.yaml (or -config) and
// CANOPY_* environment variables. See internal/config for the keys.
//
// Usage:
//
//	# Start the daemon with defaults
//	canopyd
//
//	# Use another config file and listen address
//	CANOPY_SERVER_ADDR=0.0.0.0:9123 canopyd -config /etc/canopy.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/canopy/internal/actor"
	"github.com/fyrsmithlabs/canopy/internal/auth"
	"github.com/fyrsmithlabs/canopy/internal/config"
	"github.com/fyrsmithlabs/canopy/internal/gateway"
	httpserver "github.com/fyrsmithlabs/canopy/internal/http"
	"github.com/fyrsmithlabs/canopy/internal/logging"
	"github.com/fyrsmithlabs/canopy/internal/mirror"
	"github.com/fyrsmithlabs/canopy/internal/telemetry"
	"github.com/fyrsmithlabs/canopy/internal/transport"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/canopy/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  canopyd [-config path]   Start the canopy daemon\n")
			fmt.Fprintf(os.Stderr, "  canopyd version          Show version information\n")
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("canopyd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts every component and blocks until ctx is cancelled or a
// component fails, then shuts down in reverse order: HTTP, transport,
// actor, NATS, telemetry.
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	shutdownTimeout := cfg.HTTP.ShutdownTimeout.Duration()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn(sctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting canopyd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("tls", cfg.Server.TLS.Enabled()),
		zap.Bool("http", cfg.HTTP.Enabled),
		zap.Bool("nats", cfg.NATS.Enabled),
	)

	root, err := buildTree(cfg.Tree)
	if err != nil {
		return fmt.Errorf("invalid tree configuration: %w", err)
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}

	actorOpts := []actor.Option{
		actor.WithLogger(logger),
		actor.WithMetrics(actor.NewMetrics()),
		actor.WithTracer(tel.Tracer("github.com/fyrsmithlabs/canopy/internal/actor")),
		actor.WithBuffers(cfg.Actor.ControlBuffer, cfg.Actor.TrafficBuffer, cfg.Actor.OutboundBuffer),
	}

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = mirror.Connect(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		pub := mirror.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger)
		actorOpts = append(actorOpts, actor.WithMirror(pub))
		logger.Info(ctx, "change mirror enabled", zap.String("subject", pub.Subject()))
	}

	a := actor.New(root, actorOpts...)
	actorErr := make(chan error, 1)
	go func() { actorErr <- a.Run(ctx) }()
	gw := gateway.New(a)

	srv := transport.NewServer(gw, authn, transport.ConfigFromSettings(cfg.Server),
		transport.WithLogger(logger),
		transport.WithMetrics(transport.NewMetrics()),
	)
	ln, err := srv.Listen()
	if err != nil {
		stopActor(a)
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, transport.ErrServerClosed) {
			errCh <- fmt.Errorf("transport: %w", err)
		}
	}()

	var api *httpserver.Server
	if cfg.HTTP.Enabled {
		opts := []httpserver.Option{
			httpserver.WithWebSocket(srv),
			httpserver.WithMeter(tel.Meter("github.com/fyrsmithlabs/canopy/internal/http")),
			httpserver.WithTelemetry(tel),
		}
		if nc != nil {
			opts = append(opts, httpserver.WithEvents(nc, mirror.Subject(cfg.NATS.SubjectPrefix)))
		}
		api, err = httpserver.NewServer(gw, authn, logger.Underlying(), &httpserver.Config{
			Host:    cfg.HTTP.Host,
			Port:    cfg.HTTP.Port,
			Version: version,
		}, opts...)
		if err != nil {
			_ = srv.Shutdown(context.Background())
			stopActor(a)
			return fmt.Errorf("failed to create http server: %w", err)
		}
		go func() {
			if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error(ctx, "server failed", zap.Error(runErr))
	case runErr = <-actorErr:
		logger.Error(ctx, "actor stopped", zap.Error(runErr))
		if runErr == nil {
			runErr = errors.New("actor stopped unexpectedly")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info(sctx, "shutting down", zap.Duration("timeout", shutdownTimeout))

	if api != nil {
		if err := api.Shutdown(sctx); err != nil {
			logger.Warn(sctx, "http shutdown failed", zap.Error(err))
		}
	}
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn(sctx, "transport shutdown failed", zap.Error(err))
	}
	stopActor(a)
	return runErr
}

// stopActor asks the actor to quit and waits for it, for at most five
// seconds.
func stopActor(a *actor.Actor) {
	select {
	case a.Control() <- actor.Quit{}:
	case <-a.Done():
		return
	}
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
	}
}
