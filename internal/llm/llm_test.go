package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"
)

var testShape = &Schema{
	Name: "analysis",
	Root: Object(map[string]*Node{
		"is_automation_request": Bool("whether this is an automation request"),
		"understood": Object(map[string]*Node{
			"action": String("what should happen"),
		}),
		"ambiguous_entities": MapOf("candidates per phrase", ArrayOf("", String(""))),
		"missing_info":       ArrayOf("missing details", String("")),
	}, "is_automation_request", "ambiguous_entities"),
}

func TestOpenAIDefinition(t *testing.T) {
	def := openAIDefinition(testShape.Root)
	data, err := json.Marshal(&def)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	json.Unmarshal(data, &got)

	if got["type"] != "object" {
		t.Errorf("type = %v", got["type"])
	}
	if got["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", got["additionalProperties"])
	}
	props := got["properties"].(map[string]any)
	amb := props["ambiguous_entities"].(map[string]any)
	if _, ok := amb["additionalProperties"].(map[string]any); !ok {
		t.Errorf("ambiguous_entities additionalProperties = %v, want schema", amb["additionalProperties"])
	}
}

func TestGeminiSchema_DropsFreeFormObjects(t *testing.T) {
	s := geminiSchema(testShape.Root)

	if s.Type != genai.TypeObject {
		t.Fatalf("type = %v", s.Type)
	}
	if _, ok := s.Properties["ambiguous_entities"]; ok {
		t.Error("free-form property should be dropped")
	}
	if len(s.Required) != 1 || s.Required[0] != "is_automation_request" {
		t.Errorf("required = %v, want only is_automation_request", s.Required)
	}
	if s.Properties["understood"].Properties["action"].Type != genai.TypeString {
		t.Error("nested property not converted")
	}
	if s.Properties["missing_info"].Items.Type != genai.TypeString {
		t.Error("array items not converted")
	}
}

func TestGeminiSchema_TopLevelFreeForm(t *testing.T) {
	s := geminiSchema(MapOf("", String("")))
	if s.Type != genai.TypeString {
		t.Errorf("type = %v, want STRING", s.Type)
	}
}

func TestGemini_GenerateConfig(t *testing.T) {
	g := &Gemini{opts: GeminiOptions{Model: "gemini-2.5-flash", MaxTokens: 4000, Temperature: 0.1}}

	plain := g.generateConfig(Request{Prompt: "hi"})
	if plain.ResponseSchema != nil || plain.ResponseMIMEType != "" {
		t.Error("plain request should not set a schema")
	}
	if *plain.TopK != 40 {
		t.Errorf("topK = %v, want 40", *plain.TopK)
	}

	shaped := g.generateConfig(Request{Prompt: "hi", System: "sys", Shape: testShape})
	if shaped.ResponseMIMEType != "application/json" {
		t.Errorf("mime = %q", shaped.ResponseMIMEType)
	}
	if *shaped.TopK != 1 || *shaped.TopP != 0.1 {
		t.Errorf("topK/topP = %v/%v, want 1/0.1", *shaped.TopK, *shaped.TopP)
	}
	if shaped.SystemInstruction == nil {
		t.Error("system instruction not set")
	}
	if shaped.MaxOutputTokens != 4000 {
		t.Errorf("max tokens = %d", shaped.MaxOutputTokens)
	}
}

func TestOpenAI_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIOptions{APIKey: "k", Model: "gpt-4o", MaxTokens: 1500, Temperature: 0.1, BaseURL: srv.URL + "/v1"}, nil)
	resp, err := g.Complete(t.Context(), Request{Purpose: "analysis", System: "sys", Prompt: "turn on", Shape: testShape})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != `{"ok":true}` {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}

	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	rf := body["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format.type = %v", rf["type"])
	}
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			}))
			defer srv.Close()

			g := NewOpenAI(OpenAIOptions{APIKey: "k", Model: "gpt-4o", BaseURL: srv.URL + "/v1"}, nil)
			_, err := g.Complete(t.Context(), Request{Prompt: "x"})

			var ge *GatewayError
			if !errors.As(err, &ge) {
				t.Fatalf("err = %v, want GatewayError", err)
			}
			if ge.Status != tt.status {
				t.Errorf("status = %d, want %d", ge.Status, tt.status)
			}
			if ge.Transient != tt.transient {
				t.Errorf("transient = %v, want %v", ge.Transient, tt.transient)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	transient := &GatewayError{Provider: "test", Transient: true, Err: errors.New("rate limited")}
	fatal := &GatewayError{Provider: "test", Err: errors.New("bad key")}

	tests := []struct {
		name      string
		errs      []error
		retries   int
		wantCalls int32
		wantErr   bool
	}{
		{name: "success", errs: nil, retries: 1, wantCalls: 1},
		{name: "transient then success", errs: []error{transient}, retries: 1, wantCalls: 2},
		{name: "transient exhausted", errs: []error{transient, transient, transient}, retries: 1, wantCalls: 2, wantErr: true},
		{name: "fatal not retried", errs: []error{fatal}, retries: 3, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			g := GatewayFunc(func(ctx context.Context, req Request) (*Response, error) {
				n := calls.Add(1)
				if int(n) <= len(tt.errs) {
					return nil, tt.errs[n-1]
				}
				return &Response{Text: "ok"}, nil
			})

			_, err := WithRetry(g, tt.retries, time.Millisecond, nil).Complete(t.Context(), Request{})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestWithTimeout(t *testing.T) {
	g := GatewayFunc(func(ctx context.Context, req Request) (*Response, error) {
		<-ctx.Done()
		return nil, classify("test", "slow", 0, ctx.Err())
	})

	_, err := WithTimeout(g, 10*time.Millisecond).Complete(context.Background(), Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !IsTransient(err) {
		t.Error("timeouts should be transient")
	}
}

func TestObserve(t *testing.T) {
	g := GatewayFunc(func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Text: "ok", InputTokens: 4, OutputTokens: 2}, nil
	})

	var seen Call
	obs := Observe(g, "openai", func(ctx context.Context, c Call) { seen = c })

	ctx := WithConversation(context.Background(), "conv-1")
	if _, err := obs.Complete(ctx, Request{Purpose: "preview"}); err != nil {
		t.Fatal(err)
	}
	if seen.ConversationID != "conv-1" || seen.Provider != "openai" || seen.Request.Purpose != "preview" {
		t.Errorf("call = %+v", seen)
	}
	if seen.Response.InputTokens != 4 {
		t.Errorf("response not passed to observer")
	}
}

func TestClassify_Canceled(t *testing.T) {
	if classify("x", "y", 0, context.Canceled).Transient {
		t.Error("cancellation should not be transient")
	}
}
