package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsAuxiliaryRequest(t *testing.T) {
	tests := []struct {
		name     string
		messages []OllamaChatMessage
		want     bool
	}{
		// Title generation variants
		{
			name: "title generation - brief title",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Hello, how are you?"},
				{Role: "assistant", Content: "I'm doing well, thanks!"},
				{Role: "user", Content: "Generate a brief title for this chat."},
			},
			want: true,
		},
		{
			name: "title generation - concise 3-5 word",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Generate a concise, 3-5 word title for the conversation."},
			},
			want: true,
		},
		{
			name: "title generation - create concise title",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Create a concise title for the following conversation."},
			},
			want: true,
		},
		{
			name: "title generation - case insensitive",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "GENERATE A BRIEF TITLE FOR THIS CHAT."},
			},
			want: true,
		},
		{
			name: "title generation - wrapped in longer prompt",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Here is the chat history. Please generate a brief title for this chat based on the conversation above. Only respond with the title."},
			},
			want: true,
		},

		{
			name: "title generation - generate a title for this conversation",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Generate a title for this conversation based on the messages above."},
			},
			want: true,
		},
		{
			name: "title generation - provide a brief title",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Please provide a brief title for the following exchange."},
			},
			want: true,
		},

		// Tag generation variants, one test per pattern
		{
			name: "tag generation - generate tags for this chat",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "What's the weather like?"},
				{Role: "assistant", Content: "I don't have access to current weather data."},
				{Role: "user", Content: "Generate tags for this chat."},
			},
			want: true,
		},
		{
			name: "tag generation - suggest tags for this conversation",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Suggest tags for this conversation."},
			},
			want: true,
		},
		{
			name: "tag generation - generate 1-4 word tags",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Generate 1-4 word tags for this chat session."},
			},
			want: true,
		},
		{
			name: "tag generation - provide tags for this chat",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Provide tags for this chat based on the discussion."},
			},
			want: true,
		},

		// Non-auxiliary messages
		{
			name: "normal conversation",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Tell me about Go programming"},
				{Role: "assistant", Content: "Go is a statically typed language..."},
			},
			want: false,
		},
		{
			name: "mentions title but not a generation request",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "What's the title of that book you recommended?"},
			},
			want: false,
		},
		{
			name: "mentions tags but not a generation request",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "How do I add tags to my blog posts?"},
			},
			want: false,
		},
		{
			name:     "empty messages",
			messages: []OllamaChatMessage{},
			want:     false,
		},
		{
			name: "only system message",
			messages: []OllamaChatMessage{
				{Role: "system", Content: "You are a helpful assistant."},
			},
			want: false,
		},
		{
			name: "auxiliary pattern in non-last user message is ignored",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "Generate a brief title for this chat."},
				{Role: "assistant", Content: "Chat Title"},
				{Role: "user", Content: "Now tell me about Go."},
			},
			want: false,
		},
		{
			name: "assistant message with auxiliary pattern is ignored",
			messages: []OllamaChatMessage{
				{Role: "user", Content: "What can you do?"},
				{Role: "assistant", Content: "I can generate a brief title for this chat if you want."},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isAuxiliaryRequest(tt.messages)
			if got != tt.want {
				t.Errorf("isAuxiliaryRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOllamaConversationID(t *testing.T) {
	history := []OllamaChatMessage{
		{Role: "system", Content: "You are a voice assistant."},
		{Role: "user", Content: "turn on the kitchen light at 7pm"},
	}
	id := ollamaConversationID("10.0.0.5", history)
	if !strings.HasPrefix(id, "ollama-") {
		t.Errorf("id = %q", id)
	}

	longer := append(history,
		OllamaChatMessage{Role: "assistant", Content: "Here is the automation..."},
		OllamaChatMessage{Role: "user", Content: "yes"},
	)
	if got := ollamaConversationID("10.0.0.5", longer); got != id {
		t.Errorf("id changed as history grew: %q != %q", got, id)
	}
	if got := ollamaConversationID("10.0.0.6", history); got == id {
		t.Error("different clients share a conversation id")
	}
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"socket", nil, "192.168.1.10:51234", "192.168.1.10"},
		{"real ip", map[string]string{"X-Real-Ip": "10.1.1.1"}, "127.0.0.1:80", "10.1.1.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.2.2.2, 172.16.0.1"}, "127.0.0.1:80", "10.2.2.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := clientAddress(r); got != tt.want {
				t.Errorf("clientAddress = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOllamaChat_NonStreaming(t *testing.T) {
	conv := &mockConversations{reply: "Preview ready. Create it?"}
	srv := newTestServer(conv)
	srv.EnableOllamaRoutes()

	body := `{"model":"nag:latest","stream":false,"messages":[
		{"role":"system","content":"HA instructions"},
		{"role":"user","content":"turn on the kitchen light at 7pm"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp OllamaChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Done || resp.Message.Content != "Preview ready. Create it?" {
		t.Errorf("response = %+v", resp)
	}
	if len(conv.turns) != 1 || conv.turns[0].text != "turn on the kitchen light at 7pm" {
		t.Errorf("turns = %+v", conv.turns)
	}
	if !strings.HasPrefix(conv.turns[0].id, "ollama-") {
		t.Errorf("conversation id = %q", conv.turns[0].id)
	}
}

func TestOllamaChat_StreamingDefault(t *testing.T) {
	conv := &mockConversations{reply: "Which light?"}
	srv := newTestServer(conv)
	srv.EnableOllamaRoutes()

	body := `{"model":"nag","messages":[{"role":"user","content":"turn on the light"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d chunks, want 2:\n%s", len(lines), rec.Body)
	}
	var first, last OllamaChatResponse
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatal(err)
	}
	if first.Done || first.Message.Content != "Which light?" {
		t.Errorf("first chunk = %+v", first)
	}
	if !last.Done || last.DoneReason != "stop" {
		t.Errorf("last chunk = %+v", last)
	}
}

func TestOllamaChat_AuxiliaryBypassesConversation(t *testing.T) {
	conv := &mockConversations{reply: "unused"}
	srv := newTestServer(conv)
	srv.EnableOllamaRoutes()

	body := `{"stream":false,"messages":[{"role":"user","content":"Generate a concise, 3-5 word title for the conversation."}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(conv.turns) != 0 {
		t.Errorf("auxiliary request reached the conversation: %+v", conv.turns)
	}
}

func TestOllamaChat_NoUserMessage(t *testing.T) {
	srv := newTestServer(&mockConversations{})
	srv.EnableOllamaRoutes()

	body := `{"messages":[{"role":"system","content":"hi"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOllamaServer_Routes(t *testing.T) {
	srv := newTestServer(&mockConversations{})
	h := NewOllamaServer("", 11434, srv, nil).Handler()

	for _, path := range []string{"/api/tags", "/api/version", "/"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}

	var tags OllamaTagsResponse
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tags", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &tags); err != nil {
		t.Fatal(err)
	}
	if len(tags.Models) != 1 || tags.Models[0].Name != ollamaModel {
		t.Errorf("tags = %+v", tags)
	}
}

func TestOllamaRoutesDisabledByDefault(t *testing.T) {
	srv := newTestServer(&mockConversations{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tags", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/tags = %d, want 404", rec.Code)
	}
}
