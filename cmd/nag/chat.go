package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/nag/internal/catalog"
	"github.com/nugget/nag/internal/generator"
	"github.com/nugget/nag/internal/prompts"
)

// setup loads config and builds the pipeline for the interactive
// commands, which log to stderr so stdout stays readable.
func setup(ctx context.Context, stderr io.Writer, opts options) (*app, error) {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(stderr, cfg))
}

// runChat handles "nag chat": a terminal conversation driving the same
// state machine the API uses. A finished conversation starts a new one.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	a, err := setup(ctx, stderr, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	id := uuid.NewString()
	fmt.Fprintln(stdout, "Describe the automation you want. Type \"exit\" to quit.")

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply := a.machine.Turn(ctx, id, text)
		fmt.Fprintf(stdout, "%s\n", reply.Text)
		if opts.output == "json" {
			fmt.Fprintf(stdout, "[%s]\n", reply.State)
		}
		if reply.State.Terminal() {
			id = uuid.NewString()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	fmt.Fprintln(stdout)
	return scanner.Err()
}

// generateOutput is the JSON form of "nag generate".
type generateOutput struct {
	ID          string `json:"id"`
	Alias       string `json:"alias"`
	Description string `json:"description"`
	YAML        string `json:"yaml"`
	Written     bool   `json:"written"`
	File        string `json:"file,omitempty"`
}

// runGenerate handles "nag generate": one automation from one
// description, without the clarification dialogue.
func runGenerate(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	var preview bool
	var words []string
	for _, arg := range args {
		if arg == "--preview" || arg == "-preview" {
			preview = true
			continue
		}
		words = append(words, arg)
	}
	description := strings.TrimSpace(strings.Join(words, " "))
	if description == "" {
		return errors.New("usage: nag generate [--preview] <description>")
	}

	a, err := setup(ctx, stderr, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.generator.Generate(ctx, generator.Request{
		Description: prompts.Description{OriginalRequest: description},
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	out := generateOutput{
		ID:          res.Record.ID,
		Alias:       res.Record.Alias,
		Description: res.Description,
		YAML:        res.YAML,
	}
	if !preview {
		if err := a.store.Append(ctx, res.Record); err != nil {
			return fmt.Errorf("save automation: %w", err)
		}
		out.Written = true
		out.File = a.store.Path()
	}

	if opts.output == "json" {
		return writeJSON(stdout, out)
	}
	fmt.Fprint(stdout, res.YAML)
	if out.Written {
		fmt.Fprintf(stdout, "# appended to %s\n", out.File)
	}
	return nil
}

// entitiesOutput is the JSON form of "nag entities".
type entitiesOutput struct {
	Count    int    `json:"count"`
	Entities string `json:"entities"`
	Areas    string `json:"areas"`
}

// runEntities handles "nag entities": the summaries the model sees,
// optionally narrowed to some domains.
func runEntities(ctx context.Context, stdout, stderr io.Writer, opts options, domains []string) error {
	a, err := setup(ctx, stderr, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	filter := catalog.Filter{Domains: domains}
	entities, err := a.catalog.Entities(ctx, filter)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	areas, err := a.catalog.Areas(ctx)
	if err != nil {
		return fmt.Errorf("list areas: %w", err)
	}
	count, err := a.catalog.Count(ctx)
	if err != nil {
		return fmt.Errorf("count entities: %w", err)
	}

	if opts.output == "json" {
		return writeJSON(stdout, entitiesOutput{Count: count, Entities: entities, Areas: areas})
	}
	fmt.Fprintf(stdout, "%d entities\n\nAreas:\n%s\n\nEntities:\n%s\n", count, areas, entities)
	return nil
}
