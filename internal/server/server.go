// Package server implements the HTTP gateway the chat UI talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parlorhq/parlor/internal/buildinfo"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/history"
	"github.com/parlorhq/parlor/internal/llm"
	"github.com/parlorhq/parlor/internal/preset"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	presets  *preset.Registry
	history  *history.Store
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*llm.Client
}

// NewServer creates a gateway server over the given stores.
func NewServer(cfg *config.Config, presets *preset.Registry, hist *history.Store, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		presets: presets,
		history: hist,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The UI may be served from a different origin during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*llm.Client),
	}
}

// client returns a chat client for the named provider, building and
// caching one on first use.
func (s *Server) client(providerID string) (*llm.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[providerID]; ok {
		return c, nil
	}

	pc, ok := s.cfg.Provider(providerID)
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", providerID)
	}

	c := llm.New(llm.Config{
		Provider:  pc.ID,
		BaseURL:   pc.BaseURL,
		APIKey:    pc.APIKey,
		Streaming: pc.StreamingEnabled(),
	}, s.logger)
	s.clients[providerID] = c
	return c, nil
}

// Handler returns the routed handler, exposed separately so tests can
// serve it without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/presets", s.handlePresets)
	mux.HandleFunc("GET /api/models", s.handleModels)

	mux.HandleFunc("GET /api/conversations", s.handleConversationList)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("GET /api/conversations/{id}/export", s.handleConversationExport)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws/chat", s.handleChatSocket)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Listen.Address, s.cfg.Listen.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat sockets stay open indefinitely.
	}

	s.logger.Info("starting gateway", "address", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	presets := s.presets.List()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"presets": presets,
		"count":   len(presets),
	}, s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	presetID := r.URL.Query().Get("preset")
	if presetID == "" {
		s.errorResponse(w, http.StatusBadRequest, "preset parameter is required")
		return
	}

	p, err := s.presets.Get(presetID)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "preset not found")
		return
	}

	c, err := s.client(p.Provider)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	models, err := c.ListModels(r.Context())
	if err != nil {
		s.logger.Error("model listing failed", "provider", p.Provider, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "model listing failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"provider": p.Provider,
		"models":   models,
		"count":    len(models),
	}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.history.ListConversations()
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.history.GetConversation(id)
	if errors.Is(err, history.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("conversation get failed", "error", err, "id", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	msgs, err := s.history.Messages(id)
	if err != nil {
		s.logger.Error("message load failed", "error", err, "id", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.history.DeleteConversation(id)
	if errors.Is(err, history.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("conversation delete failed", "error", err, "id", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]string, len(s.cfg.Providers))
	healthy := true

	for _, pc := range s.cfg.Providers {
		c, err := s.client(pc.ID)
		if err != nil {
			providers[pc.ID] = "unconfigured"
			healthy = false
			continue
		}
		if c.Verify(r.Context()) {
			providers[pc.ID] = "ok"
		} else {
			providers[pc.ID] = "unreachable"
			healthy = false
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":    status,
		"providers": providers,
		"build":     buildinfo.Info(),
	}, s.logger)
}
