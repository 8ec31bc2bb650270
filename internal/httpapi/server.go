// Package httpapi is the thin HTTP adapter in front of the turn
// controller: two JSON endpoints for the chat client, health, and the
// Prometheus scrape handler.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stibot/pkg/controller"
	"stibot/pkg/logx"
	"stibot/pkg/metrics"
	"stibot/pkg/proto"
)

// maxBodyBytes caps inbound chat payloads. A turn is one short message;
// anything bigger is a misbehaving client.
const maxBodyBytes = 64 * 1024

// Server serves the chat API over stdlib net/http.
type Server struct {
	ctrl   *controller.Controller
	stats  *metrics.QueryService
	logger *logx.Logger
	srv    *http.Server
}

// NewServer builds the server on the given listen address. stats may be
// nil when no Prometheus backend is configured; /api/stats then answers
// 503.
func NewServer(addr string, ctrl *controller.Controller, stats *metrics.QueryService) *Server {
	s := &Server{
		ctrl:   ctrl,
		stats:  stats,
		logger: logx.NewLogger("httpapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/greeting", s.handleGreeting)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Listening on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ctrl.Greeting(r.Context())
	if err != nil {
		s.logger.Error("Greeting failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	req, err := proto.ParseChatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.ctrl.HandleTurn(r.Context(), req)
	if err != nil {
		s.logger.Error("Turn failed for session %s: %v", req.SessionID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics backend not configured")
		return
	}
	flow, err := s.stats.GetFlowMetrics(r.Context())
	if err != nil {
		s.logger.Error("Stats query failed: %v", err)
		writeError(w, http.StatusBadGateway, "metrics backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
