// Package catalog keeps a snapshot of the Home Assistant entities and
// areas and renders the plain-text summaries that prompts embed.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nugget/nag/internal/homeassistant"
)

// DefaultMaxPerDomain is how many entities of one domain a summary lists
// before collapsing the rest into a count.
const DefaultMaxPerDomain = 20

// DefaultFetchTimeout bounds one shared refresh.
const DefaultFetchTimeout = 30 * time.Second

// StateSource returns current entity states.
type StateSource interface {
	GetStates(ctx context.Context) ([]homeassistant.State, error)
}

// Registry returns the area and entity registries.
type Registry interface {
	Areas(ctx context.Context) ([]homeassistant.Area, error)
	Entities(ctx context.Context) ([]homeassistant.EntityRegistryEntry, error)
}

// Entity is one enabled entity with a current state.
type Entity struct {
	ID     string
	Name   string
	Domain string
	State  string
	Area   string
}

// Snapshot is the catalog content at one point in time.
type Snapshot struct {
	Entities []Entity
	Areas    []homeassistant.Area
	Fetched  time.Time
}

// Filter narrows an entity summary. Empty fields match everything.
type Filter struct {
	Domains []string
	Areas   []string
}

func (f Filter) match(e Entity) bool {
	if len(f.Domains) > 0 && !slices.Contains(f.Domains, e.Domain) {
		return false
	}
	if len(f.Areas) > 0 && !slices.Contains(f.Areas, e.Area) {
		return false
	}
	return true
}

// Options tune a Catalog.
type Options struct {
	RefreshInterval time.Duration
	MaxPerDomain    int

	// FetchTimeout bounds a refresh. The fetch is shared by every caller
	// waiting on it, so it does not end when one caller's context does.
	FetchTimeout time.Duration
}

// Catalog serves entity and area summaries from a cached snapshot that is
// refetched when older than the refresh interval or after Invalidate.
// Concurrent refreshes share one fetch.
type Catalog struct {
	states   StateSource
	registry Registry
	opts     Options
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
	group    singleflight.Group

	now func() time.Time
}

// New returns a catalog reading from states and registry. registry may be
// nil, in which case every state is listed without area information.
func New(states StateSource, registry Registry, opts Options, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPerDomain <= 0 {
		opts.MaxPerDomain = DefaultMaxPerDomain
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Catalog{
		states:   states,
		registry: registry,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Invalidate drops the cached snapshot so the next read refetches.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

// Snapshot returns a current snapshot, refreshing it if needed.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()
	if snap != nil && c.now().Sub(snap.Fetched) < c.opts.RefreshInterval {
		return snap, nil
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		c.mu.RLock()
		current := c.snapshot
		c.mu.RUnlock()
		if current != nil && current != snap && c.now().Sub(current.Fetched) < c.opts.RefreshInterval {
			return current, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
		defer cancel()
		return c.refresh(fetchCtx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		if snap != nil {
			c.logger.Warn("catalog refresh failed, serving stale snapshot",
				"error", err, "age", c.now().Sub(snap.Fetched))
			return snap, nil
		}
		return nil, err
	}
	if shared {
		c.logger.Debug("catalog refresh shared")
	}
	return v.(*Snapshot), nil
}

func (c *Catalog) refresh(ctx context.Context) (*Snapshot, error) {
	var (
		states   []homeassistant.State
		areas    []homeassistant.Area
		registry []homeassistant.EntityRegistryEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		states, err = c.states.GetStates(gctx)
		if err != nil {
			return fmt.Errorf("get states: %w", err)
		}
		return nil
	})
	if c.registry != nil {
		g.Go(func() error {
			var err error
			if areas, err = c.registry.Areas(gctx); err != nil {
				c.logger.Warn("area registry unavailable", "error", err)
				areas = nil
			}
			return nil
		})
		g.Go(func() error {
			var err error
			if registry, err = c.registry.Entities(gctx); err != nil {
				c.logger.Warn("entity registry unavailable", "error", err)
				registry = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Entities: buildEntities(states, registry),
		Areas:    areas,
		Fetched:  c.now(),
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	c.logger.Debug("catalog refreshed",
		"entities", len(snap.Entities),
		"areas", len(snap.Areas),
	)
	return snap, nil
}

// buildEntities joins states with the registry. With a registry, only
// enabled registry entries that have a state are kept, in registry order.
// Without one, every state is kept in entity id order.
func buildEntities(states []homeassistant.State, registry []homeassistant.EntityRegistryEntry) []Entity {
	byID := make(map[string]homeassistant.State, len(states))
	for _, s := range states {
		byID[s.EntityID] = s
	}

	if len(registry) == 0 {
		out := make([]Entity, 0, len(states))
		for _, s := range states {
			out = append(out, Entity{
				ID:     s.EntityID,
				Name:   nameOr(s.FriendlyName(), s.EntityID),
				Domain: s.Domain(),
				State:  s.State,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	}

	out := make([]Entity, 0, len(registry))
	for _, r := range registry {
		if r.IsDisabled() {
			continue
		}
		s, ok := byID[r.EntityID]
		if !ok {
			continue
		}
		out = append(out, Entity{
			ID:     r.EntityID,
			Name:   nameOr(r.Name, nameOr(s.FriendlyName(), r.EntityID)),
			Domain: s.Domain(),
			State:  s.State,
			Area:   r.AreaID,
		})
	}
	return out
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// Entities renders the entity summary for prompts, grouped by domain in
// order of first appearance.
func (c *Catalog) Entities(ctx context.Context, f Filter) (string, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return FormatEntities(snap.Entities, f, c.opts.MaxPerDomain), nil
}

// Areas renders the area summary for prompts.
func (c *Catalog) Areas(ctx context.Context) (string, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return FormatAreas(snap.Areas), nil
}

// Overview renders a compact per-domain count and the area ids, used to
// scope a request before the full summary is built.
func (c *Catalog) Overview(ctx context.Context) (string, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	var order []string
	counts := make(map[string]int)
	for _, e := range snap.Entities {
		if counts[e.Domain] == 0 {
			order = append(order, e.Domain)
		}
		counts[e.Domain]++
	}
	parts := make([]string, 0, len(order))
	for _, d := range order {
		parts = append(parts, fmt.Sprintf("%s: %d", d, counts[d]))
	}
	areas := make([]string, 0, len(snap.Areas))
	for _, a := range snap.Areas {
		areas = append(areas, a.AreaID)
	}
	return fmt.Sprintf("%s; areas: %s", strings.Join(parts, ", "), strings.Join(areas, ", ")), nil
}

// Count returns the number of entities in the current snapshot.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(snap.Entities), nil
}

// FormatEntities groups entities by domain. Each domain lists at most limit
// entities followed by a count of the rest.
func FormatEntities(entities []Entity, f Filter, limit int) string {
	var order []string
	byDomain := make(map[string][]Entity)
	for _, e := range entities {
		if !f.match(e) {
			continue
		}
		if _, ok := byDomain[e.Domain]; !ok {
			order = append(order, e.Domain)
		}
		byDomain[e.Domain] = append(byDomain[e.Domain], e)
	}

	var lines []string
	for _, domain := range order {
		list := byDomain[domain]
		lines = append(lines, "\n"+strings.ToUpper(domain)+" ENTITIES:")
		for i, e := range list {
			if i == limit {
				lines = append(lines, fmt.Sprintf("  ... and %d more %s entities", len(list)-limit, domain))
				break
			}
			area := ""
			if e.Area != "" {
				area = " (Area: " + e.Area + ")"
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s%s [State: %s]", e.ID, e.Name, area, e.State))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatAreas lists areas as "id: name" lines.
func FormatAreas(areas []homeassistant.Area) string {
	if len(areas) == 0 {
		return "No areas configured."
	}
	lines := make([]string, 0, len(areas)+1)
	lines = append(lines, "AREAS:")
	for _, a := range areas {
		lines = append(lines, fmt.Sprintf("  - %s: %s", a.AreaID, a.Name))
	}
	return strings.Join(lines, "\n")
}
