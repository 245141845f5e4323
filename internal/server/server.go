// Package server exposes the tool catalog and the agent over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"refagent/internal/agent"
	"refagent/internal/domain"
	"refagent/internal/graph"
	"refagent/internal/metrics"
	"refagent/internal/tool"
)

const (
	maxBodySize        = 1 << 20 // 1MB
	defaultToolTimeout = 30 * time.Second
)

// Catalog is the tool surface the server publishes. *registry.Registry
// satisfies it.
type Catalog interface {
	GetTool(name string) (domain.ToolFunc, error)
	GetWireFormatDefinitions() ([]domain.WireTool, error)
	ToolDomain(name string) (string, error)
}

// Asker runs one conversation. *agent.Loop satisfies it.
type Asker interface {
	Run(ctx context.Context, question string) (*agent.Result, error)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Addr        string
	APIKey      string // empty disables authentication
	Tools       Catalog
	Agent       Asker // optional; POST /api/ask returns 503 without it
	Checks      map[string]HealthCheck
	GraphCache  *graph.QueryCache // optional; reported under "cache" in /health
	ToolTimeout time.Duration
	Logger      *slog.Logger
}

type Server struct {
	addr        string
	apiKey      string
	tools       Catalog
	agent       Asker
	checks      map[string]HealthCheck
	cache       *graph.QueryCache
	toolTimeout time.Duration
	logger      *slog.Logger
	server      *http.Server
}

func New(cfg Config) *Server {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:        cfg.Addr,
		apiKey:      cfg.APIKey,
		tools:       cfg.Tools,
		agent:       cfg.Agent,
		checks:      cfg.Checks,
		cache:       cfg.GraphCache,
		toolTimeout: cfg.ToolTimeout,
		logger:      cfg.Logger,
	}
}

// Handler returns the routed handler. Everything except /health and
// /metrics requires the API key when one is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Collector.Handler())
	mux.HandleFunc("GET /api/tools", s.requireAuth(s.handleListTools))
	mux.HandleFunc("POST /api/tools/{name}", s.requireAuth(s.handleExecuteTool))
	mux.HandleFunc("POST /api/ask", s.requireAuth(s.handleAsk))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // a conversation may wait out several rate-limit backoffs
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("HTTP server started", "addr", s.addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.apiKey == "" {
		return next
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-functions-key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(rw, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(rw, r)
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Tools  int               `json:"tools"`
	Checks map[string]string `json:"checks,omitempty"`
	Cache  *graph.CacheStats `json:"cache,omitempty"`
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	defs, err := s.tools.GetWireFormatDefinitions()
	if err != nil {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	resp.Tools = len(defs)
	if s.cache != nil {
		stats := s.cache.Stats()
		resp.Cache = &stats
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				if status == http.StatusOK {
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
				}
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(rw, status, resp)
}

type toolInfo struct {
	Domain string          `json:"domain"`
	Tool   domain.WireTool `json:"tool"`
}

func (s *Server) handleListTools(rw http.ResponseWriter, r *http.Request) {
	defs, err := s.tools.GetWireFormatDefinitions()
	if err != nil {
		s.logger.Error("list tools failed", "err", err)
		writeError(rw, http.StatusInternalServerError, "tool catalog unavailable")
		return
	}
	out := make([]toolInfo, 0, len(defs))
	for _, d := range defs {
		owner, _ := s.tools.ToolDomain(d.Function.Name)
		out = append(out, toolInfo{Domain: owner, Tool: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	writeJSON(rw, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleExecuteTool(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	call := domain.ToolCall{ID: "http", Name: name}

	fn, err := s.tools.GetTool(name)
	if err != nil {
		s.writeFailure(rw, domain.FailFromError(call, err))
		return
	}

	args, err := decodeArguments(r.Body)
	if err != nil {
		s.writeFailure(rw, domain.Fail(call, domain.KindInvalidArguments,
			fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)))
		return
	}
	call.Arguments = args

	outcome := tool.Run(r.Context(), fn, call, s.toolTimeout)
	metrics.ToolExecutions.Inc()
	metrics.ToolLatency.Observe(outcome.Duration.Seconds())
	if !outcome.IsOk() {
		metrics.ToolFailures(string(outcome.Failure.Kind)).Inc()
		s.logger.Warn("tool failed", "tool", name, "kind", outcome.Failure.Kind, "err", outcome.Failure.Message)
		s.writeFailure(rw, outcome)
		return
	}
	s.logger.Info("tool completed", "tool", name, "duration", outcome.Duration)
	writeJSON(rw, http.StatusOK, map[string]any{"tool": name, "result": outcome.Value})
}

// decodeArguments reads a JSON object body. An empty body means no arguments.
func decodeArguments(body io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	Converged      bool   `json:"converged"`
	Iterations     int    `json:"iterations"`
	ToolCalls      int    `json:"tool_calls"`
}

func (s *Server) handleAsk(rw http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(rw, http.StatusServiceUnavailable, "agent is not configured")
		return
	}

	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(rw, http.StatusBadRequest, "question is required")
		return
	}

	res, err := s.agent.Run(r.Context(), question)
	if err != nil {
		s.logger.Error("ask failed", "err", err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrFatalLLM):
			status = http.StatusBadGateway
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		writeError(rw, status, err.Error())
		return
	}

	writeJSON(rw, http.StatusOK, askResponse{
		ConversationID: res.ConversationID,
		Answer:         res.Content,
		Converged:      res.Converged,
		Iterations:     res.Iterations,
		ToolCalls:      res.ToolCalls,
	})
}

func (s *Server) writeFailure(rw http.ResponseWriter, outcome domain.ToolOutcome) {
	writeJSON(rw, statusFor(outcome.Failure.Kind), map[string]any{"error": outcome.Failure})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindToolNotFound:
		return http.StatusNotFound
	case domain.KindInvalidArguments:
		return http.StatusBadRequest
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
