package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// OllamaServer serves the Ollama-compatible endpoints on a dedicated
// port, usually 11434, for clients that cannot be pointed at a path on
// the native API port.
type OllamaServer struct {
	address string
	port    int
	api     *Server
	logger  *slog.Logger
	server  *http.Server
}

// NewOllamaServer creates an Ollama-compatible server that shares the
// conversations of api. It does not start listening.
func NewOllamaServer(address string, port int, api *Server, logger *slog.Logger) *OllamaServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaServer{
		address: address,
		port:    port,
		api:     api,
		logger:  logger,
	}
}

// Handler returns the routed handler without starting a listener.
func (s *OllamaServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.api.RegisterOllamaRoutes(mux)

	// Health checks match the root path only.
	mux.HandleFunc("HEAD /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, s.logger)
	})
	return withLogging(s.logger, "ollama request", mux)
}

// Start begins serving. It blocks until the server stops.
func (s *OllamaServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting Ollama-compatible API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server. It is a no-op if the server was
// never started.
func (s *OllamaServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
