package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/usecase"
)

// Engine is the part of the polling engine exposed over HTTP.
type Engine interface {
	HandleToolCall(ctx context.Context, toolName string, toolArgs any, sessionID string) []domain.InsightFeedback
	HandleMessage(ctx context.Context, text, sessionID string) []domain.InsightFeedback
	GetRelevantInsights(keywords []string) []domain.Insight
	QueryInsights(f usecase.Filter) usecase.QueryResult
	GetDeliveredInsights() []domain.Insight
	DrainBatch(ctx context.Context) int
	PollSource(ctx context.Context, sourceID string) (domain.SourceReading, error)
}

// Server is the host-facing HTTP surface: session hooks, queries and metrics.
type Server struct {
	addr   string
	engine Engine
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the router; Run starts listening.
func NewServer(addr string, engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: addr, engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/hooks/tool", s.handleToolCall)
	r.Post("/hooks/message", s.handleMessage)
	r.Get("/insights", s.handleQuery)
	r.Get("/insights/relevant", s.handleRelevant)
	r.Get("/insights/delivered", s.handleDelivered)
	r.Post("/batch/flush", s.handleFlush)
	r.Post("/sources/{id}/poll", s.handlePoll)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http api listening", "addr", s.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type toolCallRequest struct {
	ToolName  string `json:"tool_name"`
	ToolArgs  any    `json:"tool_args"`
	SessionID string `json:"session_id"`
}

type messageRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type resolvedResponse struct {
	Resolved []domain.InsightFeedback `json:"resolved"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, errors.New("tool_name is required"))
		return
	}
	resolved := s.engine.HandleToolCall(r.Context(), req.ToolName, req.ToolArgs, req.SessionID)
	writeJSON(w, http.StatusOK, resolvedResponse{Resolved: nonNil(resolved)})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resolved := s.engine.HandleMessage(r.Context(), req.Text, req.SessionID)
	writeJSON(w, http.StatusOK, resolvedResponse{Resolved: nonNil(resolved)})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := usecase.Filter{
		SourceID: q.Get("source"),
		Type:     domain.InsightType(q.Get("type")),
		Limit:    parseLimit(q.Get("limit"), 0),
	}
	if v := q.Get("min_urgency"); v != "" {
		f.MinUrgency = domain.ParseUrgency(v)
	}
	for _, st := range splitList(q["state"]) {
		f.States = append(f.States, domain.State(st))
	}
	writeJSON(w, http.StatusOK, s.engine.QueryInsights(f))
}

func (s *Server) handleRelevant(w http.ResponseWriter, r *http.Request) {
	keywords := splitList(r.URL.Query()["keywords"])
	writeJSON(w, http.StatusOK, map[string]any{"insights": nonNilInsights(s.engine.GetRelevantInsights(keywords))})
}

func (s *Server) handleDelivered(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"insights": nonNilInsights(s.engine.GetDeliveredInsights())})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"flushed": s.engine.DrainBatch(r.Context())})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	reading, err := s.engine.PollSource(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, usecase.ErrUnknownSource) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// splitList accepts both repeated parameters and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func nonNil(fb []domain.InsightFeedback) []domain.InsightFeedback {
	if fb == nil {
		return []domain.InsightFeedback{}
	}
	return fb
}

func nonNilInsights(in []domain.Insight) []domain.Insight {
	if in == nil {
		return []domain.Insight{}
	}
	return in
}
