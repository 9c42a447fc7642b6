package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nugget/nag/internal/httpkit"
)

// GatewayError is a failed provider call. Transient errors (rate limits,
// server errors, timeouts, network failures) may succeed on retry.
type GatewayError struct {
	Provider  string
	Op        string
	Status    int // HTTP status when the provider returned one
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a [GatewayError] marked transient.
func IsTransient(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient
}

// classify builds a GatewayError from a provider error and an optional
// HTTP status.
func classify(provider, op string, status int, err error) *GatewayError {
	transient := false
	switch {
	case status != 0:
		transient = httpkit.IsTransientStatus(status)
	case errors.Is(err, context.DeadlineExceeded):
		transient = true
	case errors.Is(err, context.Canceled):
		transient = false
	default:
		var netErr net.Error
		transient = errors.As(err, &netErr) || httpkit.IsDialError(err)
	}
	return &GatewayError{
		Provider:  provider,
		Op:        op,
		Status:    status,
		Transient: transient,
		Err:       err,
	}
}
