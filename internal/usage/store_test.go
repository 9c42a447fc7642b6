package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/nag/internal/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{
			Timestamp:      now,
			ConversationID: "conv-1",
			Purpose:        "analysis",
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			InputTokens:    1000,
			OutputTokens:   500,
			Duration:       800 * time.Millisecond,
		},
		{
			Timestamp:      now,
			ConversationID: "conv-1",
			Purpose:        "generation",
			Provider:       "openai",
			Model:          "gpt-4o",
			InputTokens:    2000,
			OutputTokens:   1000,
		},
		{
			Timestamp:      now,
			ConversationID: "conv-2",
			Purpose:        "generation",
			Provider:       "openai",
			Failed:         true,
		},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := Summary{Calls: 3, Failures: 1, InputTokens: 3000, OutputTokens: 1500}
	if *sum != want {
		t.Errorf("Summary = %+v, want %+v", *sum, want)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	sum, err := s.Summary(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if *sum != (Summary{}) {
		t.Errorf("Summary = %+v, want zero", *sum)
	}
}

func TestSummary_TimeWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Record(ctx, Record{Timestamp: now.Add(-2 * time.Hour), Purpose: "analysis", Provider: "openai", InputTokens: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Record{Timestamp: now, Purpose: "analysis", Provider: "openai", InputTokens: 7}); err != nil {
		t.Fatal(err)
	}

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Calls != 1 || sum.InputTokens != 7 {
		t.Errorf("Summary = %+v, want only the recent record", *sum)
	}
}

func TestSummaryByPurpose(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, rec := range []Record{
		{Timestamp: now, Purpose: "analysis", Provider: "gemini", Model: "gemini-2.0-flash", InputTokens: 10, OutputTokens: 5},
		{Timestamp: now, Purpose: "analysis", Provider: "gemini", Model: "gemini-2.0-flash", InputTokens: 20, OutputTokens: 5},
		{Timestamp: now, Purpose: "generation", Provider: "gemini", Model: "gemini-2.0-pro", InputTokens: 300, OutputTokens: 200},
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	byPurpose, err := s.SummaryByPurpose(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByPurpose: %v", err)
	}
	if len(byPurpose) != 2 {
		t.Fatalf("groups = %d, want 2", len(byPurpose))
	}
	if a := byPurpose["analysis"]; a == nil || a.Calls != 2 || a.InputTokens != 30 {
		t.Errorf("analysis = %+v", a)
	}

	byModel, err := s.SummaryByModel(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if g := byModel["gemini-2.0-pro"]; g == nil || g.OutputTokens != 200 {
		t.Errorf("gemini-2.0-pro = %+v", g)
	}
}

func TestObserver_RecordsCalls(t *testing.T) {
	s := testStore(t)
	observe := s.Observer(nil)

	ctx, cancel := context.WithCancel(context.Background())
	observe(ctx, llm.Call{
		ConversationID: "conv-9",
		Provider:       "openai",
		Request:        llm.Request{Purpose: "preview"},
		Response:       &llm.Response{Model: "gpt-4o", InputTokens: 42, OutputTokens: 8},
	})
	// A cancelled caller context must not lose the record.
	cancel()
	observe(ctx, llm.Call{
		Provider: "openai",
		Request:  llm.Request{Purpose: "approval"},
		Err:      errors.New("boom"),
	})

	sum, err := s.Today(context.Background())
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	want := Summary{Calls: 2, Failures: 1, InputTokens: 42, OutputTokens: 8}
	if *sum != want {
		t.Errorf("Today = %+v, want %+v", *sum, want)
	}
}
