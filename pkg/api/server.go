// Package api exposes the agent over HTTP: trigger a workflow run, create
// and post topic content, search the live surface, and report health.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrhq/herald/pkg/agent"
	"github.com/entrhq/herald/pkg/automation/driver"
	"github.com/entrhq/herald/pkg/monitoring"
)

// Workflow is the slice of the orchestrator the HTTP surface drives.
type Workflow interface {
	Run(ctx context.Context) agent.Result
	CreateContent(ctx context.Context, topic string, withImage bool) (*agent.Content, error)
	PostContent(ctx context.Context, content *agent.Content) error
	Search(ctx context.Context, query string, limit int) ([]driver.Mention, error)
}

// Health produces the liveness snapshot. May be nil.
type Health interface {
	Check(ctx context.Context) monitoring.Health
}

// Server is the HTTP surface. It is a thin shell; all policy lives in the
// workflow it wraps.
type Server struct {
	workflow Workflow
	health   Health
	logger   *slog.Logger
}

// New builds a Server. health may be nil.
func New(workflow Workflow, health Health, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		workflow: workflow,
		health:   health,
		logger:   logger.With("component", "api"),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/agent/run", s.handleRun)
		r.Post("/content", s.handleContent)
		r.Get("/search", s.handleSearch)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	h := s.health.Check(r.Context())
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// handleRun executes a full mention workflow synchronously. A failed run
// maps to 502; partial per-item errors still count as success.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	res := s.workflow.Run(r.Context())
	status := http.StatusOK
	if res.Failed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, runResponse{
		Mentions:  res.Mentions,
		Responses: res.Responses,
		Errors:    res.Errors,
		Failed:    res.Failed,
	})
}

type runResponse struct {
	Mentions  int      `json:"mentions"`
	Responses int      `json:"responses"`
	Errors    []string `json:"errors,omitempty"`
	Failed    bool     `json:"failed"`
}

type contentRequest struct {
	Topic     string `json:"topic"`
	WithImage bool   `json:"with_image"`
}

type contentResponse struct {
	DraftID    int64    `json:"draft_id"`
	Text       string   `json:"text"`
	MediaPaths []string `json:"media_paths,omitempty"`
	Topic      string   `json:"topic"`
}

// handleContent drafts and posts a topic-driven item. Under human review
// the post step is a no-op and the draft is all that happens.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	content, err := s.workflow.CreateContent(r.Context(), req.Topic, req.WithImage)
	if err != nil {
		s.logger.Error("content creation failed", "topic", req.Topic, "error", err)
		writeError(w, http.StatusBadGateway, "content creation failed")
		return
	}
	if err := s.workflow.PostContent(r.Context(), content); err != nil {
		s.logger.Error("content posting failed", "draft", content.DraftID, "error", err)
		writeError(w, http.StatusBadGateway, "content posting failed")
		return
	}

	writeJSON(w, http.StatusOK, contentResponse{
		DraftID:    content.DraftID,
		Text:       content.Text,
		MediaPaths: content.MediaPaths,
		Topic:      content.Topic,
	})
}

type searchItem struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
	URL    string `json:"url"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := s.workflow.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}

	out := make([]searchItem, 0, len(items))
	for _, m := range items {
		out = append(out, searchItem{ID: m.ID, Author: m.AuthorUsername, Text: m.Text, URL: m.URL})
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "items": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
