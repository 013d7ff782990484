// Command server runs the moonkv key-value server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/logger"
	"github.com/eternalApril/moonkv/internal/metrics"
	"github.com/eternalApril/moonkv/internal/server"
	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Build information, set via ldflags
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "moonkv-server",
		Usage:   "in-memory key-value server speaking RESP",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "directory containing config.yaml",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "address to bind (overrides server.host)",
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "port to listen on (overrides server.port)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides log.level)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address (enables metrics)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("moonkv starting",
		zap.String("version", version),
		zap.String("port", cfg.Server.Port),
		zap.Bool("gc", cfg.GC.Enabled),
		zap.Duration("gc_interval", cfg.GC.Interval),
	)

	db := storage.NewMapStorage()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(db.Stats)
	}

	engine, err := server.NewEngine(db, cfg, log, m)
	if err != nil {
		log.Error("cant initialize engine", zap.Error(err))
		return err
	}
	defer engine.Shutdown()

	address := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		log.Error("listener error", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if m != nil {
		metricsSrv = startMetrics(cfg.Metrics.Addr, m, log)
	}

	srv := server.NewServer(engine, log, m)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("accept loop failed", zap.Error(err))
			return err
		}
	}

	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
	}
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}
	engine.Shutdown()

	log.Info("moonkv stopped")
	return nil
}

// applyFlags lets command line flags win over the file and environment
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.String("port")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
}

func startMetrics(addr string, m *metrics.Metrics, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics listening on", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return srv
}
