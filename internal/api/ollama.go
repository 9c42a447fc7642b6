package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/nugget/nag/internal/buildinfo"
	"github.com/nugget/nag/internal/config"
)

// ollamaModel is the model name advertised to Ollama clients.
const ollamaModel = "nag:latest"

// OllamaChatRequest is the Ollama /api/chat request format.
type OllamaChatRequest struct {
	Model     string              `json:"model"`
	Messages  []OllamaChatMessage `json:"messages"`
	Stream    *bool               `json:"stream,omitempty"`
	Options   map[string]any      `json:"options,omitempty"`
	Format    string              `json:"format,omitempty"`
	Tools     []map[string]any    `json:"tools,omitempty"`
	KeepAlive string              `json:"keep_alive,omitempty"`
}

// OllamaChatMessage is the Ollama message format.
type OllamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChatResponse is the Ollama /api/chat response format.
type OllamaChatResponse struct {
	Model         string            `json:"model"`
	CreatedAt     string            `json:"created_at"`
	Message       OllamaChatMessage `json:"message"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason,omitempty"`
	TotalDuration int64             `json:"total_duration,omitempty"`
}

// OllamaTagsResponse is the Ollama /api/tags response format.
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a model in the tags response.
type OllamaModel struct {
	Name       string            `json:"name"`
	Model      string            `json:"model"`
	ModifiedAt string            `json:"modified_at"`
	Size       int64             `json:"size"`
	Digest     string            `json:"digest"`
	Details    OllamaModelDetail `json:"details"`
}

// OllamaModelDetail contains model details.
type OllamaModelDetail struct {
	Format        string   `json:"format"`
	Family        string   `json:"family"`
	Families      []string `json:"families"`
	ParameterSize string   `json:"parameter_size"`
}

// OllamaVersionResponse is the Ollama /api/version response.
type OllamaVersionResponse struct {
	Version string `json:"version"`
}

// RegisterOllamaRoutes adds the Ollama-compatible endpoints to mux.
func (s *Server) RegisterOllamaRoutes(mux *http.ServeMux) {
	h := ollamaHandlers{conversations: s.deps.Conversations, logger: s.logger}
	mux.HandleFunc("POST /api/chat", h.chat)
	mux.HandleFunc("GET /api/tags", h.tags)
	mux.HandleFunc("GET /api/version", h.version)
}

// ollamaHandlers serves Ollama clients such as the Home Assistant Ollama
// conversation integration. Clients resend the whole history on every
// turn; only the latest user message enters the conversation.
type ollamaHandlers struct {
	conversations Conversations
	logger        *slog.Logger
}

func (h ollamaHandlers) chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rawBody, err := captureBody(r)
	if err != nil {
		ollamaError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req OllamaChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ollamaError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	remoteIP := clientAddress(r)
	h.logger.Info("ollama chat request received",
		"remote_ip", remoteIP,
		"user_agent", r.Header.Get("User-Agent"),
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)
	h.logger.Log(r.Context(), config.LevelTrace, "ollama chat body", "body", string(rawBody))

	text := lastUserMessage(req.Messages)
	if text == "" {
		ollamaError(w, http.StatusBadRequest, "no user message")
		return
	}

	var content string
	if isAuxiliaryRequest(req.Messages) {
		h.logger.Debug("ollama auxiliary request answered locally")
		content = "Home Automation"
	} else {
		id := ollamaConversationID(remoteIP, req.Messages)
		reply := h.conversations.Turn(r.Context(), id, text)
		content = reply.Text
	}

	stream := true
	if req.Stream != nil {
		stream = *req.Stream
	}
	if stream {
		writeOllamaStream(r.Context(), w, content, start, h.logger)
		return
	}

	writeJSON(w, OllamaChatResponse{
		Model:         ollamaModel,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Message:       OllamaChatMessage{Role: "assistant", Content: content},
		Done:          true,
		DoneReason:    "stop",
		TotalDuration: time.Since(start).Nanoseconds(),
	}, h.logger)
}

// writeOllamaStream sends the whole reply as one NDJSON chunk followed by
// the final done chunk.
func writeOllamaStream(ctx context.Context, w http.ResponseWriter, content string, start time.Time, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		ollamaError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	chunks := []OllamaChatResponse{
		{
			Model:     ollamaModel,
			CreatedAt: now,
			Message:   OllamaChatMessage{Role: "assistant", Content: content},
		},
		{
			Model:         ollamaModel,
			CreatedAt:     now,
			Message:       OllamaChatMessage{Role: "assistant"},
			Done:          true,
			DoneReason:    "stop",
			TotalDuration: time.Since(start).Nanoseconds(),
		},
	}
	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			logger.Error("failed to encode ollama chunk", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			logger.Debug("ollama stream write failed", "error", err)
			return
		}
		flusher.Flush()
		if ctx.Err() != nil {
			return
		}
	}
}

func (h ollamaHandlers) tags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, OllamaTagsResponse{
		Models: []OllamaModel{
			{
				Name:       ollamaModel,
				Model:      ollamaModel,
				ModifiedAt: time.Now().UTC().Format(time.RFC3339),
				Digest:     "nag-automation-generator",
				Details: OllamaModelDetail{
					Format:        "nag",
					Family:        "nag",
					Families:      []string{"nag"},
					ParameterSize: "hosted",
				},
			},
		},
	}, h.logger)
}

func (h ollamaHandlers) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, OllamaVersionResponse{Version: buildinfo.Version}, h.logger)
}

// ollamaError sends an error response in the format Ollama clients
// expect. Write errors are ignored; the client may have gone.
func ollamaError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// clientAddress prefers reverse proxy headers over the socket address.
func clientAddress(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}

// ollamaConversationID derives a stable conversation id from the client
// address and the first user message of the history.
func ollamaConversationID(client string, messages []OllamaChatMessage) string {
	var first string
	for _, m := range messages {
		if m.Role == "user" {
			first = m.Content
			break
		}
	}
	sum := sha256.Sum256([]byte(client + "\x00" + first))
	return "ollama-" + hex.EncodeToString(sum[:8])
}

func lastUserMessage(messages []OllamaChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// auxiliaryPatterns match the title and tag generation prompts chat
// front ends send alongside real turns.
var auxiliaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)generate a (brief |concise |short )?(,? ?[0-9]+-[0-9]+ word )?title for`),
	regexp.MustCompile(`(?i)generate a concise, [0-9]+-[0-9]+ word title`),
	regexp.MustCompile(`(?i)create a (brief |concise |short )?title for`),
	regexp.MustCompile(`(?i)provide a (brief |concise |short )?title for`),
	regexp.MustCompile(`(?i)(generate|suggest|provide) ([0-9]+-[0-9]+ word )?tags for`),
}

// isAuxiliaryRequest reports whether the latest user message is a title
// or tag generation request rather than a conversation turn.
func isAuxiliaryRequest(messages []OllamaChatMessage) bool {
	if len(messages) == 0 || messages[len(messages)-1].Role != "user" {
		return false
	}
	text := messages[len(messages)-1].Content
	for _, p := range auxiliaryPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
