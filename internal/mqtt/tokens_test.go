package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nugget/nag/internal/llm"
)

func call(in, out int) llm.Call {
	return llm.Call{Response: &llm.Response{InputTokens: in, OutputTokens: out}}
}

func TestDailyTokens_Observe(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	ctx := context.Background()
	dt.Observe(ctx, call(100, 200))
	dt.Observe(ctx, call(50, 75))
	dt.Observe(ctx, llm.Call{Err: errors.New("timeout")})

	input, output, calls := dt.Snapshot()
	if input != 150 || output != 275 || calls != 2 {
		t.Errorf("Snapshot = (%d, %d, %d), want (150, 275, 2)", input, output, calls)
	}
}

func TestDailyTokens_ObserverSignature(t *testing.T) {
	var _ llm.Observer = NewDailyTokens(nil).Observe
}

func TestDailyTokens_Concurrent(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt.Observe(context.Background(), call(10, 20))
		}()
	}
	wg.Wait()

	input, output, calls := dt.Snapshot()
	if input != 1000 || output != 2000 || calls != 100 {
		t.Errorf("Snapshot = (%d, %d, %d), want (1000, 2000, 100)", input, output, calls)
	}
}

func TestDailyTokens_MidnightReset(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	dt.now = func() time.Time { return now }
	dt.resetDay = now.YearDay()

	dt.Observe(context.Background(), call(500, 600))
	now = now.Add(2 * time.Minute)

	input, output, calls := dt.Snapshot()
	if input != 0 || output != 0 || calls != 0 {
		t.Errorf("Snapshot after midnight = (%d, %d, %d), want zeros", input, output, calls)
	}
}

func TestDailyTokens_NilLocation(t *testing.T) {
	dt := NewDailyTokens(nil)
	if dt.loc != time.Local {
		t.Error("nil location should default to time.Local")
	}
}
