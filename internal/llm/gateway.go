// Package llm is the single completion contract between nag and a hosted
// model. Each provider adapter turns a [Request] into one model call and
// returns plain text; callers never see provider SDK types.
package llm

import (
	"context"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for raw prompt and reply logging.
const LevelTrace = slog.Level(-8)

// Gateway sends one prompt and returns the model's text.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is one completion call.
type Request struct {
	// Purpose labels the call for logs and the usage ledger
	// (analysis, clarification, preview, approval, generation, ...).
	Purpose string

	// System is an optional system instruction.
	System string

	// Prompt is the user turn.
	Prompt string

	// Shape, when set, asks the provider for JSON matching the schema.
	// Replies still go through repair; providers do not always comply.
	Shape *Schema
}

// Response is the model's reply.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// GatewayFunc adapts a function to [Gateway].
type GatewayFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f GatewayFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

type conversationKey struct{}

// WithConversation tags ctx with a conversation id so usage records can
// be attributed to it.
func WithConversation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationFrom returns the id set by [WithConversation], or "".
func ConversationFrom(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}
