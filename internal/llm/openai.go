package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/nag/internal/httpkit"
)

// OpenAIOptions configures [NewOpenAI].
type OpenAIOptions struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	BaseURL     string // optional OpenAI-compatible endpoint
}

// OpenAI is a Gateway backed by the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	opts   OpenAIOptions
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI gateway.
func NewOpenAI(opts OpenAIOptions, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	// Deadlines come from the caller's context.
	cfg.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithLogger(logger))

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
		logger: logger.With("provider", "openai"),
	}
}

// Complete sends req as a system + user chat.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:       o.opts.Model,
		Messages:    messages,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: float32(o.opts.Temperature),
	}
	if req.Shape != nil {
		def := openAIDefinition(req.Shape.Root)
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        req.Shape.Name,
				Description: req.Shape.Description,
				Schema:      &def,
				Strict:      false,
			},
		}
	}

	o.logger.Debug("openai request", "purpose", req.Purpose, "model", o.opts.Model, "structured", req.Shape != nil)
	o.logger.Log(ctx, LevelTrace, "openai prompt", "system", req.System, "prompt", req.Prompt)

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, classify("openai", req.Purpose, openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, &GatewayError{Provider: "openai", Op: req.Purpose, Err: errors.New("no choices in response")}
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		return nil, &GatewayError{Provider: "openai", Op: req.Purpose, Err: fmt.Errorf("empty reply (finish reason %q)", resp.Choices[0].FinishReason)}
	}

	o.logger.Log(ctx, LevelTrace, "openai reply", "text", text)

	return &Response{
		Text:         text,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
