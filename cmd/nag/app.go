package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/nag/internal/automation"
	"github.com/nugget/nag/internal/catalog"
	"github.com/nugget/nag/internal/config"
	"github.com/nugget/nag/internal/conversation"
	"github.com/nugget/nag/internal/events"
	"github.com/nugget/nag/internal/generator"
	"github.com/nugget/nag/internal/homeassistant"
	"github.com/nugget/nag/internal/llm"
	"github.com/nugget/nag/internal/mqtt"
	"github.com/nugget/nag/internal/usage"
)

// app holds the components shared by serve and the interactive commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	ha *homeassistant.Client
	ws *homeassistant.WSClient

	catalog   *catalog.Catalog
	usage     *usage.Store
	tokens    *mqtt.DailyTokens
	gateway   llm.Gateway
	generator *generator.Generator
	store     *automation.FileStore
	contexts  *conversation.MemoryStore
	bus       *events.Bus
	machine   *conversation.Machine
}

// newApp connects to Home Assistant and builds the conversation pipeline.
// A failed WebSocket connection is not fatal: registry reads fall back
// to REST until the watcher reconnects.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if !cfg.HomeAssistant.Configured() {
		return nil, errors.New("homeassistant.url and homeassistant.token are required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	a.ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	a.ws = homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	if err := a.ws.Connect(ctx); err != nil {
		logger.Warn("home assistant websocket unavailable, using REST registries", "error", err)
	}

	a.catalog = catalog.New(a.ha, catalog.HARegistry{REST: a.ha, WS: a.ws}, catalog.Options{
		RefreshInterval: cfg.Catalog.RefreshInterval(),
		MaxPerDomain:    cfg.Catalog.MaxPerDomain,
	}, logger)

	var err error
	a.usage, err = usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		_ = a.ws.Close()
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	a.tokens = mqtt.NewDailyTokens(time.Local)

	a.gateway, err = llm.New(ctx, cfg.LLM, logger, a.usage.Observer(logger), a.tokens.Observe)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create llm gateway: %w", err)
	}
	a.generator = generator.New(a.gateway, a.catalog, logger)

	var reloader automation.Reloader
	if cfg.Automations.ReloadEnabled() {
		reloader = a.ha
	}
	a.store = automation.NewFileStore(cfg.Automations.File, reloader, logger)

	a.contexts = conversation.NewMemoryStore(cfg.Conversation.MaxContexts, cfg.Conversation.IdleTimeout(), logger)
	a.bus = events.New()
	a.machine = conversation.NewMachine(conversation.Deps{
		Gateway:   a.gateway,
		Catalog:   a.catalog,
		Generator: a.generator,
		Store:     a.store,
		Contexts:  a.contexts,
		Bus:       a.bus,
	}, conversation.Options{
		MaxClarifications: cfg.Conversation.MaxClarifications,
		Language:          cfg.Conversation.Language,
		ScopeRequests:     cfg.Catalog.ScopeRequests,
	}, logger)

	logger.Info("pipeline ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"automations_file", cfg.Automations.File,
		"reload", cfg.Automations.ReloadEnabled(),
	)
	return a, nil
}

// Close releases the database and the WebSocket.
func (a *app) Close() {
	if err := a.usage.Close(); err != nil {
		a.logger.Warn("failed to close usage store", "error", err)
	}
	if err := a.ws.Close(); err != nil {
		a.logger.Debug("websocket close failed", "error", err)
	}
}
