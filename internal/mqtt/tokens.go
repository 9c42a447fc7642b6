package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/nag/internal/llm"
)

// DailyTokens tracks gateway token usage that resets at local midnight.
// It is safe for concurrent use.
type DailyTokens struct {
	mu       sync.Mutex
	input    int64
	output   int64
	calls    int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyTokens creates an accumulator using loc for midnight detection.
// A nil loc means [time.Local].
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Observe adds the tokens of a completed gateway call. Its signature
// matches [llm.Observer].
func (d *DailyTokens) Observe(_ context.Context, call llm.Call) {
	if call.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.input += int64(call.Response.InputTokens)
	d.output += int64(call.Response.OutputTokens)
	d.calls++
}

// Snapshot returns today's input tokens, output tokens and call count.
func (d *DailyTokens) Snapshot() (input, output, calls int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.input, d.output, d.calls
}

// maybeReset must be called with d.mu held.
func (d *DailyTokens) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.input = 0
		d.output = 0
		d.calls = 0
		d.resetDay = today
	}
}
