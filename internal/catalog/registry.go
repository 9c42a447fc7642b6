package catalog

import (
	"context"
	"log/slog"

	"github.com/nugget/nag/internal/homeassistant"
)

// restRegistry is the subset of the REST client used for registry reads.
type restRegistry interface {
	GetAreas(ctx context.Context) ([]homeassistant.Area, error)
	GetEntityRegistry(ctx context.Context) ([]homeassistant.EntityRegistryEntry, error)
}

// wsRegistry is the subset of the WebSocket client used for registry
// reads.
type wsRegistry interface {
	Connected() bool
	GetAreaRegistry(ctx context.Context) ([]homeassistant.Area, error)
	GetEntityRegistryWS(ctx context.Context) ([]homeassistant.EntityRegistryEntry, error)
}

// HARegistry reads the registries over the WebSocket connection while it
// is up and falls back to the REST endpoints otherwise.
type HARegistry struct {
	REST restRegistry
	WS   wsRegistry
}

// Areas implements [Registry].
func (r HARegistry) Areas(ctx context.Context) ([]homeassistant.Area, error) {
	if r.WS != nil && r.WS.Connected() {
		return r.WS.GetAreaRegistry(ctx)
	}
	return r.REST.GetAreas(ctx)
}

// Entities implements [Registry].
func (r HARegistry) Entities(ctx context.Context) ([]homeassistant.EntityRegistryEntry, error) {
	if r.WS != nil && r.WS.Connected() {
		return r.WS.GetEntityRegistryWS(ctx)
	}
	return r.REST.GetEntityRegistry(ctx)
}

// EventSource delivers Home Assistant events.
type EventSource interface {
	Subscribe(ctx context.Context, eventType string) error
	Events() <-chan homeassistant.Event
}

// Watch subscribes to registry change events and invalidates the
// snapshot whenever one arrives. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, src EventSource) {
	for _, ev := range []string{homeassistant.EventAreaRegistryUpdated, homeassistant.EventEntityRegistryUpdated} {
		if err := src.Subscribe(ctx, ev); err != nil {
			c.logger.Warn("registry subscription failed, relying on refresh interval",
				"event_type", ev, "error", err)
		}
	}

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case homeassistant.EventAreaRegistryUpdated, homeassistant.EventEntityRegistryUpdated:
				c.logger.Log(ctx, slog.LevelDebug, "registry changed, dropping catalog snapshot",
					"event_type", ev.Type)
				c.Invalidate()
			}
		}
	}
}
