package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nugget/nag/internal/api"
	"github.com/nugget/nag/internal/buildinfo"
	"github.com/nugget/nag/internal/connwatch"
	"github.com/nugget/nag/internal/events"
	"github.com/nugget/nag/internal/mqtt"
	"github.com/nugget/nag/internal/opstate"
)

const shutdownTimeout = 10 * time.Second

// runServe handles "nag serve". It wires every component, starts the
// listeners and background loops, and blocks until SIGINT or SIGTERM.
//
// Shutdown order:
//  1. The signal cancels ctx, stopping watchers, forwarders and janitors
//  2. HTTP servers drain in-flight requests
//  3. Conversations waiting on the user are checkpointed
//  4. The MQTT device publishes "offline" and disconnects
//  5. The databases and WebSocket close via defer
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting nag",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
		"config", cfgPath,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := opstate.NewStore(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer state.Close()

	if n, err := a.contexts.Restore(ctx, state); err != nil {
		logger.Warn("conversation checkpoint not restored", "error", err)
	} else if n > 0 {
		logger.Info("resumed conversations from checkpoint", "count", n)
	}

	go a.contexts.Run(ctx)
	go a.catalog.Watch(ctx, a.ws)
	go events.Forward(ctx, a.bus, a.ha, logger)

	created := events.NewCounter(events.KindAutomationCreated)
	go created.Run(ctx, a.bus)

	watchers := connwatch.NewManager(logger)
	defer watchers.Stop()

	watchers.Watch(ctx, connwatch.WatcherConfig{
		Name:    "homeassistant",
		Probe:   a.ha.Ping,
		OnReady: a.catalog.Invalidate,
	})
	watchers.Watch(ctx, connwatch.WatcherConfig{
		Name: "homeassistant-ws",
		Probe: func(ctx context.Context) error {
			if a.ws.Connected() {
				return nil
			}
			return a.ws.Reconnect(ctx)
		},
		OnReady: a.catalog.Invalidate,
		OnDown: func(err error) {
			logger.Warn("registry updates paused until the websocket reconnects", "error", err)
		},
	})

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
		Conversations: a.machine,
		Generator:     a.generator,
		Catalog:       a.catalog,
		Store:         a.store,
		Usage:         a.usage,
		Bus:           a.bus,
		Created:       created,
		Health:        watchers,
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
	}, logger)

	var ollamaServer *api.OllamaServer
	if cfg.Listen.OllamaPort != 0 {
		ollamaServer = api.NewOllamaServer(cfg.Listen.Address, cfg.Listen.OllamaPort, server, logger)
	} else {
		server.EnableOllamaRoutes()
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return err
		}
		publisher = mqtt.New(cfg.MQTT, instanceID, a.tokens, mqttStats{
			server:  server,
			created: created,
			active:  a.machine.Active,
		}, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		watchers.Watch(ctx, connwatch.WatcherConfig{Name: "mqtt", Probe: publisher.Ping})
	}

	errCh := make(chan error, 2)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if ollamaServer != nil {
		go func() {
			if err := ollamaServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	if ollamaServer != nil {
		if err := ollamaServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ollama server shutdown", "error", err)
		}
	}
	if n, err := a.contexts.Checkpoint(shutdownCtx, state); err != nil {
		logger.Error("conversation checkpoint failed", "error", err)
	} else {
		logger.Info("conversations checkpointed", "count", n)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Debug("mqtt disconnect", "error", err)
		}
	}

	logger.Info("nag stopped")
	return serveErr
}

// mqttStats feeds the MQTT status sensors from the running service.
type mqttStats struct {
	server  *api.Server
	created *events.Counter
	active  func() int
}

func (s mqttStats) Status() string            { return s.server.Status().State }
func (s mqttStats) ActiveConversations() int  { return s.active() }
func (s mqttStats) AutomationsCreated() int64 { return s.created.Load() }
