// Package api exposes the management HTTP surface: enqueueing outbound
// messages, conversation control, engagement reports, health and
// metrics. Carrier-facing callbacks live in the webhook package.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"leadwire/internal/conversation"
	"leadwire/internal/domain"
	"leadwire/internal/metrics"
	"leadwire/internal/queue"
	"leadwire/internal/ratelimit"
)

const defaultListLimit = 200

// Server wires the management endpoints to the delivery core.
type Server struct {
	queue      *queue.Queue
	messages   domain.MessageStore
	convs      *conversation.Manager
	convStore  domain.ConversationStore
	engagement conversation.EngagementConfig
	collector  *metrics.Collector

	callerLimit    *ratelimit.Limiter
	recipientLimit *ratelimit.Limiter

	logger *slog.Logger
}

func NewServer(
	q *queue.Queue,
	messages domain.MessageStore,
	convs *conversation.Manager,
	convStore domain.ConversationStore,
	engagement conversation.EngagementConfig,
	collector *metrics.Collector,
	callerLimit, recipientLimit *ratelimit.Limiter,
	logger *slog.Logger,
) *Server {
	return &Server{
		queue:          q,
		messages:       messages,
		convs:          convs,
		convStore:      convStore,
		engagement:     engagement,
		collector:      collector,
		callerLimit:    callerLimit,
		recipientLimit: recipientLimit,
		logger:         logger.With("component", "api"),
	}
}

// Routes builds the router with logging, panic recovery and per-caller
// rate limiting applied to the v1 surface.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.collector != nil {
		r.Get("/metrics", s.collector.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimitCaller)
		r.Post("/messages", s.handleEnqueue)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Post("/messages/{id}/cancel", s.handleCancelMessage)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Post("/conversations/{id}/assign", s.handleAssign)
		r.Post("/conversations/{id}/unassign", s.handleUnassign)
		r.Post("/conversations/{id}/status", s.handleUpdateStatus)
		r.Get("/reports/engagement", s.handleEngagementReport)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// callerKey identifies the caller for rate limiting: the API key when
// present, the remote host otherwise.
func callerKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) rateLimitCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.allowCaller(r); err != nil {
			s.writeRateLimitError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowCaller and allowRecipient surface exhausted windows as
// ErrRateLimited; writeRateLimitError is the single place the sentinel
// becomes a 429.
func (s *Server) allowCaller(r *http.Request) error {
	if s.callerLimit != nil && !s.callerLimit.Allow(callerKey(r)) {
		return fmt.Errorf("caller request rate exceeded: %w", domain.ErrRateLimited)
	}
	return nil
}

func (s *Server) allowRecipient(recipient string) error {
	if s.recipientLimit != nil && !s.recipientLimit.Allow(recipient) {
		return fmt.Errorf("recipient message rate exceeded: %w", domain.ErrRateLimited)
	}
	return nil
}

func (s *Server) writeRateLimitError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrRateLimited) {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	s.logger.Error("rate limit check failed", "error", err)
	writeError(w, http.StatusInternalServerError, "rate limit check failed")
}

type enqueueRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Recipient      string `json:"recipient"`
	Content        string `json:"content"`
	Priority       int    `json:"priority,omitempty"`
	ProviderHint   string `json:"provider_hint,omitempty"`
}

type enqueueResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.allowRecipient(req.Recipient); err != nil {
		s.writeRateLimitError(w, err)
		return
	}

	msg, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		ConversationID: req.ConversationID,
		Recipient:      req.Recipient,
		Content:        req.Content,
		Priority:       req.Priority,
		ProviderHint:   req.ProviderHint,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("enqueue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{MessageID: msg.ID, Status: string(msg.Status)})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.messages.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleCancelMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := s.queue.Cancel(r.Context(), id)
	if err != nil {
		s.logger.Error("cancel failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "message is no longer cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id, "status": "cancelled"})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	conv, err := s.convs.AssignAgent(r.Context(), chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		s.writeConversationError(w, err, conv)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convs.UnassignAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeConversationError(w, err, conv)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	conv, err := s.convs.UpdateStatus(r.Context(), chi.URLParam(r, "id"), domain.ConversationStatus(req.Status))
	if err != nil {
		s.writeConversationError(w, err, conv)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleEngagementReport(w http.ResponseWriter, r *http.Request) {
	convs, err := s.convStore.ListConversations(r.Context(), defaultListLimit)
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "report unavailable")
		return
	}
	writeJSON(w, http.StatusOK, conversation.Report(convs, s.engagement))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("lookup failed", "error", err)
	writeError(w, http.StatusInternalServerError, "lookup failed")
}

// writeConversationError maps manager errors onto HTTP statuses. An
// optimistic conflict with a returned conversation means the caller lost
// an assignment race; the current state rides along in the body.
func (s *Server) writeConversationError(w http.ResponseWriter, err error, conv *domain.Conversation) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrOptimisticConflict):
		if conv != nil {
			writeJSON(w, http.StatusConflict, conv)
			return
		}
		writeError(w, http.StatusConflict, "conversation was modified concurrently, retry")
	default:
		s.logger.Error("conversation operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
