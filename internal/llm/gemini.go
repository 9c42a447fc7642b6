package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nugget/nag/internal/httpkit"
)

// GeminiOptions configures [NewGemini].
type GeminiOptions struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Gemini is a Gateway backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	opts   GeminiOptions
	logger *slog.Logger
}

// NewGemini creates a Gemini gateway.
func NewGemini(ctx context.Context, opts GeminiOptions, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithLogger(logger)),
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{
		client: client,
		opts:   opts,
		logger: logger.With("provider", "gemini"),
	}, nil
}

// generateConfig builds the per-call config. Structured calls use
// near-greedy sampling so the JSON stays on schema.
func (g *Gemini) generateConfig(req Request) *genai.GenerateContentConfig {
	temp := float32(g.opts.Temperature)
	topK := float32(40)
	topP := float32(0.95)

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		TopK:            &topK,
		TopP:            &topP,
		MaxOutputTokens: int32(g.opts.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Shape != nil {
		cfg.TopK = genai.Ptr[float32](1)
		cfg.TopP = genai.Ptr[float32](0.1)
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = geminiSchema(req.Shape.Root)
	}
	return cfg
}

// Complete sends req as a single user turn.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	cfg := g.generateConfig(req)

	g.logger.Debug("gemini request", "purpose", req.Purpose, "model", g.opts.Model, "structured", req.Shape != nil)
	g.logger.Log(ctx, LevelTrace, "gemini prompt", "system", req.System, "prompt", req.Prompt)

	start := time.Now()
	res, err := g.client.Models.GenerateContent(ctx, g.opts.Model, contents, cfg)
	if err != nil {
		return nil, classify("gemini", req.Purpose, geminiStatus(err), err)
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return nil, &GatewayError{Provider: "gemini", Op: req.Purpose, Err: errors.New("empty reply")}
	}

	g.logger.Log(ctx, LevelTrace, "gemini reply", "text", text)

	out := &Response{
		Text:     text,
		Model:    g.opts.Model,
		Duration: time.Since(start),
	}
	if res.ModelVersion != "" {
		out.Model = res.ModelVersion
	}
	if u := res.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	return out, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
