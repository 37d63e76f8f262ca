// Package http serves the orchestrator over HTTP: JSON turns, SSE and
// WebSocket streams, suggestions, metrics and the OpenAPI document.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/threadline"
	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server handles the HTTP surface of one orchestrator.
type Server struct {
	Engine  ports.Orchestrator
	Logger  *slog.Logger
	Metrics http.Handler

	upgrader websocket.Upgrader
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.Logger = logger }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.Metrics = h }
}

// NewHandler builds the router for engine.
func NewHandler(engine ports.Orchestrator, opts ...Option) (http.Handler, error) {
	s := &Server{
		Engine: engine,
		Logger: logging.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	doc, err := Spec(context.Background())
	if err != nil {
		return nil, err
	}
	validator, err := newRequestValidator(doc)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/", s.Index)
	r.Get("/health", s.Health)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(rawSpec)
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	r.Get("/chat/ws", s.ChatWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(limitBody)
		r.Use(validator.Handler)
		r.Post("/chat", s.Chat)
		r.Post("/chat/stream", s.ChatStream)
		r.Post("/suggest", s.Suggest)
	})
	return r, nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// Index handles GET /.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"welcome": "Welcome to the threadline API",
		"version": strings.TrimSpace(threadline.Version),
		"endpoints": map[string]string{
			"POST /chat":        "Run one turn and return the answer",
			"POST /chat/stream": "Run one turn and stream stage events (SSE)",
			"GET /chat/ws":      "Stream turns over a WebSocket",
			"POST /suggest":     "Produce follow-up questions",
			"GET /health":       "Health check",
			"GET /metrics":      "Prometheus metrics",
			"GET /openapi.yaml": "OpenAPI document",
		},
		"capabilities": s.Engine.Capabilities(),
	})
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": strings.TrimSpace(threadline.Version),
	})
}

// Chat handles POST /chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.Engine.Chat(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Suggest handles POST /suggest. It always answers 200.
func (s *Server) Suggest(w http.ResponseWriter, r *http.Request) {
	var req domain.SuggestRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.Engine.Suggest(r.Context(), req))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.Logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error(), Kind: "invalid_input"})
		return false
	}
	return true
}

type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Stage    string `json:"stage,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error(), Kind: domain.ErrorKind(err)}
	var te *domain.TurnError
	if errors.As(err, &te) {
		body.Stage = string(te.Stage)
		body.ThreadID = te.ThreadID
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Turn failed", "path", r.URL.Path, "thread_id", body.ThreadID, "kind", body.Kind, "err", err)
	} else {
		s.Logger.Info("Turn rejected", "path", r.URL.Path, "thread_id", body.ThreadID, "kind", body.Kind, "err", err)
	}
	writeJSON(w, status, body)
}

// StatusFor maps a turn error to an HTTP status.
func StatusFor(err error) int {
	switch domain.ErrorKind(err) {
	case "ok":
		return http.StatusOK
	case "busy":
		return http.StatusConflict
	case "invalid_input":
		return http.StatusBadRequest
	case "generation_failed":
		return http.StatusBadGateway
	case "store_unavailable", "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
