package events

import (
	"context"
	"sync/atomic"
)

// Counter counts events of one kind.
type Counter struct {
	kind string
	n    atomic.Int64
}

// NewCounter returns a counter for kind.
func NewCounter(kind string) *Counter {
	return &Counter{kind: kind}
}

// Run counts matching events from b until ctx is done.
func (c *Counter) Run(ctx context.Context, b *Bus) {
	ch := b.Subscribe(64)
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Kind == c.kind {
				c.n.Add(1)
			}
		}
	}
}

// Load returns the number of events counted so far.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
