// Package api implements the nag HTTP API: the conversation endpoint,
// the one-shot automation services, entity listing, status and usage.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/nag/internal/automation"
	"github.com/nugget/nag/internal/buildinfo"
	"github.com/nugget/nag/internal/catalog"
	"github.com/nugget/nag/internal/connwatch"
	"github.com/nugget/nag/internal/conversation"
	"github.com/nugget/nag/internal/events"
	"github.com/nugget/nag/internal/generator"
	"github.com/nugget/nag/internal/llm"
	"github.com/nugget/nag/internal/prompts"
	"github.com/nugget/nag/internal/repair"
	"github.com/nugget/nag/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Conversations runs conversation turns.
type Conversations interface {
	Turn(ctx context.Context, conversationID, text string) conversation.Reply
	Active() int
}

// Generator builds automation records from a description.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// Catalog supplies entity and area summaries.
type Catalog interface {
	Entities(ctx context.Context, f catalog.Filter) (string, error)
	Areas(ctx context.Context) (string, error)
	Count(ctx context.Context) (int, error)
}

// UsageSource reports recorded token usage.
type UsageSource interface {
	Today(ctx context.Context) (*usage.Summary, error)
	SummaryByPurpose(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// Health reports the reachability of upstream services.
type Health interface {
	Status() []connwatch.ServiceStatus
}

// Counter reports a running total.
type Counter interface {
	Load() int64
}

// Deps are the collaborators of a Server. Usage, Bus, Created and Health
// may be nil.
type Deps struct {
	Conversations Conversations
	Generator     Generator
	Catalog       Catalog
	Store         automation.Store
	Usage         UsageSource
	Bus           *events.Bus
	Created       Counter
	Health        Health

	// Provider and Model describe the configured gateway.
	Provider string
	Model    string
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
	ollama  bool
}

// NewServer creates a new API server.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger,
	}
}

// EnableOllamaRoutes serves the Ollama-compatible endpoints on this
// server's port as well.
func (s *Server) EnableOllamaRoutes() {
	s.ollama = true
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/conversation", s.handleConversation)
	mux.HandleFunc("POST /v1/services/create_automation", s.handleCreateAutomation)
	mux.HandleFunc("POST /v1/services/preview_automation", s.handlePreviewAutomation)
	mux.HandleFunc("GET /v1/entities", s.handleEntities)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	if s.ollama {
		s.RegisterOllamaRoutes(mux)
	}
	return withLogging(s.logger, "request", mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // generation can take several LLM calls
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func withLogging(logger *slog.Logger, msg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info(msg,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "nag",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// ConversationRequest is the body of POST /v1/conversation.
type ConversationRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
}

// ConversationResponse is the reply to one conversation turn.
type ConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
	State          string `json:"state"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	ctx := r.Context()
	if req.Language != "" {
		ctx = conversation.WithLanguage(ctx, req.Language)
	}
	reply := s.deps.Conversations.Turn(ctx, convID, req.Text)

	writeJSON(w, ConversationResponse{
		ConversationID: convID,
		Response:       reply.Text,
		State:          string(reply.State),
	}, s.logger)
}

// AutomationRequest is the body of the automation service endpoints.
type AutomationRequest struct {
	Description    string `json:"description"`
	AutomationName string `json:"automation_name,omitempty"`
	PreviewOnly    bool   `json:"preview_only,omitempty"`
}

// AutomationResponse describes a generated automation.
type AutomationResponse struct {
	AutomationID string            `json:"automation_id"`
	Alias        string            `json:"alias"`
	Description  string            `json:"description"`
	YAML         string            `json:"yaml"`
	Automation   automation.Record `json:"automation"`
	Created      bool              `json:"created"`
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req AutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.automationService(w, r, req)
}

func (s *Server) handlePreviewAutomation(w http.ResponseWriter, r *http.Request) {
	var req AutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PreviewOnly = true
	s.automationService(w, r, req)
}

// automationService generates an automation from a one-shot description
// and writes it unless only a preview was requested.
func (s *Server) automationService(w http.ResponseWriter, r *http.Request, req AutomationRequest) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		s.errorResponse(w, http.StatusBadRequest, "description is required")
		return
	}

	ctx := r.Context()
	res, err := s.deps.Generator.Generate(ctx, generator.Request{
		Description:   prompts.Description{OriginalRequest: description},
		AliasOverride: req.AutomationName,
	})
	if err != nil {
		s.logger.Error("automation service generation failed", "error", err)
		code, msg := errorFor(err)
		s.errorResponse(w, code, msg)
		return
	}

	resp := AutomationResponse{
		AutomationID: res.Record.ID,
		Alias:        res.Record.Alias,
		Description:  res.Description,
		YAML:         res.YAML,
		Automation:   res.Record,
	}
	data := map[string]any{
		"automation_id": res.Record.ID,
		"alias":         res.Record.Alias,
		"description":   res.Description,
	}

	if req.PreviewOnly {
		data["yaml"] = res.YAML
		s.publish(events.KindAutomationPreviewed, data)
		writeJSON(w, resp, s.logger)
		return
	}

	if err := s.deps.Store.Append(ctx, res.Record); err != nil {
		s.logger.Error("automation service save failed", "id", res.Record.ID, "error", err)
		code, msg := errorFor(err)
		s.errorResponse(w, code, msg)
		return
	}
	resp.Created = true
	s.publish(events.KindAutomationCreated, data)
	writeJSON(w, resp, s.logger)
}

// EntitiesResponse carries the catalog summaries sent to the model.
type EntitiesResponse struct {
	Count    int    `json:"count"`
	Entities string `json:"entities"`
	Areas    string `json:"areas"`
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f := catalog.Filter{
		Domains: splitParam(r.URL.Query().Get("domains")),
		Areas:   splitParam(r.URL.Query().Get("areas")),
	}

	entities, err := s.deps.Catalog.Entities(ctx, f)
	if err != nil {
		s.logger.Error("entity listing failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "home assistant unavailable")
		return
	}
	areas, err := s.deps.Catalog.Areas(ctx)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, "home assistant unavailable")
		return
	}
	count, err := s.deps.Catalog.Count(ctx)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, "home assistant unavailable")
		return
	}

	s.publish(events.KindEntitiesListed, map[string]any{"entities": entities})
	writeJSON(w, EntitiesResponse{Count: count, Entities: entities, Areas: areas}, s.logger)
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	State               string `json:"state"`
	Provider            string `json:"provider"`
	Model               string `json:"model"`
	ActiveConversations int    `json:"active_conversations"`
	AutomationsCreated  int64  `json:"automations_created"`
	Uptime              string `json:"uptime"`

	Services []connwatch.ServiceStatus `json:"services,omitempty"`
}

// Status reports the service state.
func (s *Server) Status() StatusResponse {
	st := StatusResponse{
		State:    fmt.Sprintf("Ready (%s)", s.deps.Provider),
		Provider: s.deps.Provider,
		Model:    s.deps.Model,
		Uptime:   buildinfo.Uptime().String(),
	}
	if s.deps.Conversations != nil {
		st.ActiveConversations = s.deps.Conversations.Active()
	}
	if s.deps.Created != nil {
		st.AutomationsCreated = s.deps.Created.Load()
	}
	if s.deps.Health != nil {
		st.Services = s.deps.Health.Status()
		for _, svc := range st.Services {
			if !svc.Ready {
				st.State = fmt.Sprintf("Degraded (%s unreachable)", svc.Name)
				break
			}
		}
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Status(), s.logger)
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Today     *usage.Summary            `json:"today"`
	ByPurpose map[string]*usage.Summary `json:"by_purpose"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking disabled")
		return
	}
	ctx := r.Context()

	today, err := s.deps.Usage.Today(ctx)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	byPurpose, err := s.deps.Usage.SummaryByPurpose(ctx, start, now.Add(time.Second))
	if err != nil {
		s.logger.Error("usage by purpose failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	writeJSON(w, UsageResponse{Today: today, ByPurpose: byPurpose}, s.logger)
}

func (s *Server) publish(kind string, data map[string]any) {
	s.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceService,
		Kind:      kind,
		Data:      data,
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// errorFor maps a generation or save error to an HTTP status and a fixed
// message. The error's own text stays in the log.
func errorFor(err error) (int, string) {
	var (
		gwErr    *llm.GatewayError
		parseErr *repair.ParseError
		valErr   *automation.ValidationError
		storeErr *automation.StoreError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, "generated automation is incomplete: missing " + strings.Join(valErr.Missing, ", ")
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "model reply could not be read as an automation"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timed out waiting for the language model"
	case errors.As(err, &gwErr):
		return http.StatusBadGateway, "language model unavailable"
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError, "automation could not be saved"
	}
	return http.StatusInternalServerError, "internal error"
}

func splitParam(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
