// Package server exposes the use-case layer over HTTP for the trusted
// gateway. Every streaming endpoint delivers chunks as server-sent events;
// the connection closes after the final chunk.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// Service is the use-case surface the server fronts.
type Service interface {
	ProcessMessage(ctx context.Context, conversationID, userMessage string, forcedAgent models.AgentType) <-chan *models.StreamChunk
	ProcessToolResult(ctx context.Context, conversationID string, event models.ToolResultEvent) <-chan *models.StreamChunk
	HandleApproval(ctx context.Context, conversationID string, input models.ApprovalDecisionInput) <-chan *models.StreamChunk
	CancelPlan(ctx context.Context, conversationID, reason string) <-chan *models.StreamChunk
}

// MessageRequest is the inbound payload for a user message.
type MessageRequest struct {
	Content string           `json:"content"`
	Agent   models.AgentType `json:"agent,omitempty"`
}

// CancelRequest is the inbound payload for a plan cancellation.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Server serves the gateway-facing HTTP API.
type Server struct {
	service  Service
	logger   *slog.Logger
	version  string
	http     *http.Server
	listener net.Listener
}

// New creates a server over the given service.
func New(service Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		logger:  logger.With("component", "server"),
		version: version,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/conversations/{id}/tool-results", s.handleToolResult)
	mux.HandleFunc("POST /v1/conversations/{id}/approvals", s.handleApproval)
	mux.HandleFunc("POST /v1/conversations/{id}/plan/cancel", s.handleCancelPlan)
	return mux
}

// Start begins serving on addr. It returns once the listener is bound.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("serving http", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","version":%q}`+"\n", s.version)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	s.stream(w, s.service.ProcessMessage(r.Context(), r.PathValue("id"), req.Content, req.Agent))
}

func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	var event models.ToolResultEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	s.stream(w, s.service.ProcessToolResult(r.Context(), r.PathValue("id"), event))
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var input models.ApprovalDecisionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if input.ApprovalRequestID == "" {
		http.Error(w, "approvalRequestId is required", http.StatusBadRequest)
		return
	}
	s.stream(w, s.service.HandleApproval(r.Context(), r.PathValue("id"), input))
}

func (s *Server) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	s.stream(w, s.service.CancelPlan(r.Context(), r.PathValue("id"), req.Reason))
}

// stream writes each chunk as one SSE data record and flushes it immediately.
func (s *Server) stream(w http.ResponseWriter, chunks <-chan *models.StreamChunk) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			s.logger.Error("chunk marshal failed", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Debug("client disconnected", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
