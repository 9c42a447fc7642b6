package llm

import (
	"context"
	"log/slog"
	"time"
)

// WithTimeout bounds every call to g by d. A zero d leaves g unchanged.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return GatewayFunc(func(ctx context.Context, req Request) (*Response, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return g.Complete(ctx, req)
	})
}

// WithRetry retries transient failures up to retries extra times, waiting
// delay before the first retry and doubling after each.
func WithRetry(g Gateway, retries int, delay time.Duration, logger *slog.Logger) Gateway {
	if retries <= 0 {
		return g
	}
	if logger == nil {
		logger = slog.Default()
	}
	return GatewayFunc(func(ctx context.Context, req Request) (*Response, error) {
		wait := delay
		for attempt := 0; ; attempt++ {
			resp, err := g.Complete(ctx, req)
			if err == nil || attempt >= retries || !IsTransient(err) {
				return resp, err
			}

			logger.Warn("transient LLM failure, retrying",
				"purpose", req.Purpose,
				"attempt", attempt+1,
				"wait", wait,
				"error", err,
			)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, err
			case <-timer.C:
			}
			wait *= 2
		}
	})
}

// Call is one completed gateway call as seen by an [Observer].
type Call struct {
	ConversationID string
	Provider       string
	Request        Request
	Response       *Response // nil on error
	Err            error
}

// Observer receives every call after it completes.
type Observer func(ctx context.Context, call Call)

// Observe reports each call on g to the observers, in order.
func Observe(g Gateway, provider string, observers ...Observer) Gateway {
	if len(observers) == 0 {
		return g
	}
	return GatewayFunc(func(ctx context.Context, req Request) (*Response, error) {
		resp, err := g.Complete(ctx, req)
		call := Call{
			ConversationID: ConversationFrom(ctx),
			Provider:       provider,
			Request:        req,
			Response:       resp,
			Err:            err,
		}
		for _, obs := range observers {
			obs(ctx, call)
		}
		return resp, err
	})
}
