// Package generator turns a description of an automation into a
// validated automation record through the LLM gateway.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/nag/internal/automation"
	"github.com/nugget/nag/internal/catalog"
	"github.com/nugget/nag/internal/llm"
	"github.com/nugget/nag/internal/prompts"
	"github.com/nugget/nag/internal/repair"
)

// Catalog supplies the entity and area summaries embedded in the system
// instruction.
type Catalog interface {
	Entities(ctx context.Context, f catalog.Filter) (string, error)
	Areas(ctx context.Context) (string, error)
}

// Request describes the automation to generate.
type Request struct {
	Description prompts.Description

	// Filter narrows the entity list sent to the model.
	Filter catalog.Filter

	// AliasOverride replaces the alias chosen by the model.
	AliasOverride string
}

// Result is a generated automation ready to be written.
type Result struct {
	Record      automation.Record
	YAML        string
	Description string
}

// Generator produces automation records.
type Generator struct {
	gateway llm.Gateway
	catalog Catalog
	logger  *slog.Logger
}

// New returns a generator.
func New(gateway llm.Gateway, cat Catalog, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{gateway: gateway, catalog: cat, logger: logger}
}

// Generate asks the model for automation YAML and decodes it. A reply
// that fails to parse or validate is decoded once more through the
// relaxed extraction path before the error is returned. Returned errors
// wrap *llm.GatewayError, *repair.ParseError or
// *automation.ValidationError.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	entities, err := g.catalog.Entities(ctx, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	areas, err := g.catalog.Areas(ctx)
	if err != nil {
		return nil, fmt.Errorf("load areas: %w", err)
	}

	description := prompts.GenerationRequest(req.Description)
	resp, err := g.gateway.Complete(ctx, llm.Request{
		Purpose: "generation",
		System:  prompts.GenerationSystem(entities, areas),
		Prompt:  description,
	})
	if err != nil {
		return nil, fmt.Errorf("generate automation: %w", err)
	}

	text := repair.ExtractAutomationText(resp.Text)
	if repair.IsFlattened(text) {
		g.logger.Debug("repairing flattened automation yaml")
		text = repair.RepairFlattenedLayout(text)
	}

	rec, dropped, err := decode(resp.Text, text)
	if err != nil {
		g.logger.Warn("automation reply rejected, retrying relaxed extraction",
			"error", err)
		g.logger.Log(ctx, llm.LevelTrace, "rejected automation reply", "raw", resp.Text)
		rec, dropped, err = decode(resp.Text, repair.Relaxed(resp.Text))
		if err != nil {
			return nil, fmt.Errorf("decode automation: %w", err)
		}
	}
	if dropped > 0 {
		g.logger.Warn("model returned several automations, keeping the first",
			"alias", rec.Alias, "dropped", dropped)
	}

	if alias := strings.TrimSpace(req.AliasOverride); alias != "" {
		rec.Alias = alias
	}
	rec = automation.EnsureIdentity(rec)

	out, err := rec.YAML()
	if err != nil {
		return nil, err
	}

	summary := rec.Description
	if summary == "" {
		summary = description
	}
	g.logger.Info("automation generated",
		"id", rec.ID,
		"alias", rec.Alias,
		"triggers", len(rec.Triggers),
		"actions", len(rec.Actions),
	)
	return &Result{Record: rec, YAML: out, Description: summary}, nil
}

// decode runs automation.Decode and reports YAML syntax failures as
// *repair.ParseError carrying the raw reply.
func decode(raw, text string) (automation.Record, int, error) {
	rec, dropped, err := automation.Decode(text)
	if err == nil {
		return rec, dropped, nil
	}
	var ve *automation.ValidationError
	if errors.As(err, &ve) {
		return rec, dropped, err
	}
	return rec, dropped, &repair.ParseError{Raw: raw, Err: err}
}
