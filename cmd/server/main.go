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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/clocknet/internal/config"
	"github.com/ryandielhenn/clocknet/internal/control"
	"github.com/ryandielhenn/clocknet/internal/telemetry"
	"github.com/ryandielhenn/clocknet/pkg/agent"
	"github.com/ryandielhenn/clocknet/pkg/events"
	"github.com/ryandielhenn/clocknet/pkg/registry"
	"github.com/ryandielhenn/clocknet/pkg/transport"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	// 1. Logger whose level the panel toggles
	level := control.NewLogLevel(cfg.Verbose)
	logger, err := newLogger(cfg.LogFormat, level.Level())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	telemetry.SetBuildInfo(version, gitSHA)
	logger.Info("[Boot] starting clocknet", zap.String("version", version), zap.String("transport", cfg.Transport))

	tr, err := transport.ByName(cfg.Transport)
	if err != nil {
		return err
	}

	// 2. Event sinks: console log, activity journal, metrics
	journal := events.NewJournal(cfg.JournalBytes, cfg.JournalRetention)
	sink := events.Multi(events.NewLogger(logger.Named("events")), journal, telemetry.EventSink)

	// 3. Optional etcd directory of live agents
	var dir control.Directory
	if len(cfg.EtcdEndpoints) > 0 {
		logger.Info("[Boot] creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
		d, err := registry.New(cfg.EtcdEndpoints, cfg.EtcdPrefix, cfg.EtcdTTL, logger)
		if err != nil {
			return err
		}
		defer d.Close()
		dir = d

		watchCtx, stopWatch := context.WithCancel(context.Background())
		defer stopWatch()
		go func() {
			err := d.Watch(watchCtx, func(c registry.Change) {
				logger.Info("[WatchPeers] directory change", zap.Stringer("agent", c.ID), zap.Bool("removed", c.Removed))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("directory watch ended", zap.Error(err))
			}
		}()
		if peers, err := d.Peers(watchCtx); err == nil {
			logger.Info("[Bootstrap] agents already in directory", zap.Int("count", len(peers)))
		}
	}

	// 4. Agent registry and panel
	reg := control.NewRegistry(agent.Config{
		TickInterval: cfg.TickInterval,
		RPCTimeout:   cfg.RPCTimeout,
		SyncTimeout:  cfg.SyncTimeout,
		Fanout:       cfg.Fanout,
		Transport:    tr,
		Sink:         sink,
		Logger:       logger,
	}, dir, logger)
	panel := control.NewPanel(reg, journal, level, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           panel.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("[Boot] control panel listening", zap.String("addr", cfg.HTTPAddr))
		errc <- srv.ListenAndServe()
	}()

	// 5. Shutdown on signal: stop the panel, then every agent
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigc:
		logger.Info("[Shutdown] signal received", zap.Stringer("signal", s))
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control panel failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("panel shutdown", zap.Error(err))
	}
	return reg.Close(ctx)
}

func newLogger(format string, level zap.AtomicLevel) (*zap.Logger, error) {
	var zc zap.Config
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	return zc.Build()
}
