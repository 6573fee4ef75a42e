// Package webhook ingests asynchronous carrier callbacks: delivery
// status updates and inbound messages. Every request is authenticated
// with an HMAC signature over the raw body; once authenticated, the
// endpoint always answers 200 so the carrier stops retrying, even when
// the callback turns out to be a duplicate or unusable.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"leadwire/internal/conversation"
	"leadwire/internal/domain"
	"leadwire/internal/events"
	"leadwire/internal/message"
	"leadwire/internal/metrics"
	"leadwire/internal/provider"
)

const (
	maxBodyBytes  = 64 << 10
	updateRetries = 3
)

// Server handles per-provider callback endpoints.
type Server struct {
	secrets  map[string]string // provider name -> shared secret
	selector *provider.Selector
	messages domain.MessageStore
	convs    *conversation.Manager
	events   *events.Sink
	metrics  *metrics.Delivery
	logger   *slog.Logger
}

func NewServer(
	secrets map[string]string,
	sel *provider.Selector,
	messages domain.MessageStore,
	convs *conversation.Manager,
	sink *events.Sink,
	del *metrics.Delivery,
	logger *slog.Logger,
) *Server {
	return &Server{
		secrets:  secrets,
		selector: sel,
		messages: messages,
		convs:    convs,
		events:   sink,
		metrics:  del,
		logger:   logger.With("component", "webhook"),
	}
}

// Routes mounts the callback endpoints on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}/status", s.handleStatus)
	r.Post("/webhooks/{provider}/inbound", s.handleInbound)
	return r
}

// statusCallback is the normalized delivery report a carrier posts back.
type statusCallback struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
}

// inboundPayload is a message from a lead relayed by the carrier. The
// intent block is attached upstream by the classifier when present.
type inboundPayload struct {
	ProviderMessageID string         `json:"provider_message_id"`
	From              string         `json:"from"`
	Content           string         `json:"content"`
	Intent            *domain.Intent `json:"intent,omitempty"`
}

// authenticate verifies the request signature against the provider's
// secret. A failure writes the 401 response and reports false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, providerName string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return nil, false
	}

	secret := s.secrets[providerName]
	if err := VerifySignature(secret, body, r.Header.Get(SignatureHeader)); err != nil {
		s.metrics.WebhookRejected.Inc()
		s.events.Publish(domain.Event{
			Kind: domain.EventWebhookRejected,
			Fields: map[string]any{
				"provider": providerName,
				"remote":   r.RemoteAddr,
			},
		})
		s.logger.Warn("webhook signature rejected",
			"provider", providerName,
			"remote", r.RemoteAddr,
		)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	body, ok := s.authenticate(w, r, providerName)
	if !ok {
		return
	}
	// Past authentication the carrier always gets a 200; anything that
	// goes wrong internally is logged, not surfaced.
	defer w.WriteHeader(http.StatusOK)

	var cb statusCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.ProviderMessageID == "" {
		s.logger.Warn("malformed status callback", "provider", providerName, "error", err)
		return
	}

	entry, found := s.selector.Get(providerName)
	if !found {
		s.logger.Warn("status callback for unknown carrier", "provider", providerName)
		return
	}
	status, err := entry.Provider.MapStatus(cb.Status)
	if err != nil {
		s.logger.Warn("unmappable carrier status",
			"provider", providerName,
			"raw_status", cb.Status,
		)
		return
	}

	s.metrics.WebhookAccepted.Inc()
	s.applyStatus(r.Context(), providerName, cb, status)
}

// applyStatus walks the callback through the message state machine and
// the conversation activity log. Out-of-order and duplicate callbacks
// are expected from carriers, so an invalid transition is dropped with a
// log line instead of an error.
func (s *Server) applyStatus(ctx context.Context, providerName string, cb statusCallback, to domain.MessageStatus) {
	var msg *domain.Message
	for attempt := 0; attempt < updateRetries; attempt++ {
		m, err := s.messages.GetMessageByProviderRef(ctx, cb.ProviderMessageID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("status callback for unknown message",
				"provider", providerName,
				"provider_message_id", cb.ProviderMessageID,
			)
			return
		}
		if err != nil {
			s.logger.Error("message lookup failed", "error", err)
			return
		}

		if m.Status == to {
			// Duplicate callback; already applied.
			return
		}
		if err := message.Transition(m, to, time.Now().UTC()); err != nil {
			s.logger.Info("status callback dropped",
				"provider", providerName,
				"provider_message_id", cb.ProviderMessageID,
				"from", m.Status,
				"to", to,
			)
			return
		}
		m.Metadata.DeliveryStatus = cb.Status
		if cb.ErrorCode != "" {
			m.Metadata.ErrorCode = cb.ErrorCode
		}

		err = s.messages.UpdateMessage(ctx, m)
		if err == nil {
			msg = m
			break
		}
		if !errors.Is(err, domain.ErrOptimisticConflict) {
			s.logger.Error("status update failed", "message_id", m.ID, "error", err)
			return
		}
	}
	if msg == nil {
		s.logger.Warn("status update lost optimistic race",
			"provider_message_id", cb.ProviderMessageID,
		)
		return
	}

	s.events.Publish(domain.Event{
		Kind: domain.EventMessageTransition,
		Fields: map[string]any{
			"message_id": msg.ID,
			"to":         string(to),
			"source":     "webhook",
			"carrier":    providerName,
		},
	})
	s.logger.Info("delivery status applied",
		"message_id", msg.ID,
		"status", to,
		"carrier", providerName,
	)

	if msg.ConversationID == "" {
		return
	}
	dedupe := fmt.Sprintf("status:%s:%s:%s", cb.ProviderMessageID, cb.Status, cb.Timestamp)
	if _, err := s.convs.TouchActivity(ctx, msg.ConversationID, domain.ActivityEntry{
		Kind:      domain.ActivityStatus,
		Actor:     providerName,
		Detail:    fmt.Sprintf("message %s %s", msg.ID, to),
		DedupeKey: dedupe,
	}); err != nil {
		s.logger.Warn("conversation activity update failed",
			"conversation_id", msg.ConversationID,
			"error", err,
		)
	}
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	body, ok := s.authenticate(w, r, providerName)
	if !ok {
		return
	}
	defer w.WriteHeader(http.StatusOK)

	var in inboundPayload
	if err := json.Unmarshal(body, &in); err != nil || in.From == "" || in.Content == "" {
		s.logger.Warn("malformed inbound payload", "provider", providerName, "error", err)
		return
	}

	confidence := 1.0
	if in.Intent != nil {
		confidence = in.Intent.Confidence
	}
	msg, err := domain.NewMessage("", in.Content, domain.DirectionInbound, confidence)
	if err != nil {
		s.logger.Warn("inbound message rejected", "provider", providerName, "error", err)
		return
	}
	msg.Provider = providerName
	msg.Metadata.ProviderMessageID = in.ProviderMessageID

	conv, err := s.convs.RecordInbound(r.Context(), in.From, "", msg.ID, in.Intent)
	if err != nil {
		s.logger.Error("record inbound failed", "phone", in.From, "error", err)
		return
	}
	msg.ConversationID = conv.ID

	if err := s.messages.CreateMessage(r.Context(), msg); err != nil {
		s.logger.Error("persist inbound failed", "message_id", msg.ID, "error", err)
		return
	}

	s.metrics.InboundMessages.Inc()
	s.logger.Info("inbound message recorded",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"carrier", providerName,
	)
}
