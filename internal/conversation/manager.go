package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadwire/internal/domain"
)

// conflictRetries bounds the re-fetch loop used by activity appends that
// race with other writers. Agent assignment deliberately does not retry:
// its conflict is the caller's signal.
const conflictRetries = 3

// Manager owns conversation lifecycle operations. All writes go through
// the store's optimistic-concurrency update.
type Manager struct {
	store  domain.ConversationStore
	events domain.EventSink
	logger *slog.Logger
}

func NewManager(store domain.ConversationStore, events domain.EventSink, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		events: events,
		logger: logger.With("component", "conversation"),
	}
}

// Get returns a conversation by ID.
func (mg *Manager) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return mg.store.GetConversation(ctx, id)
}

// UpdateStatus applies one state machine transition and persists it.
func (mg *Manager) UpdateStatus(ctx context.Context, id string, to domain.ConversationStatus) (*domain.Conversation, error) {
	conv, err := mg.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	from := conv.Status
	if err := Transition(conv, to, time.Now().UTC()); err != nil {
		return nil, err
	}
	conv.AppendActivity(domain.ActivityEntry{
		Kind:   domain.ActivityStatus,
		Detail: fmt.Sprintf("%s -> %s", from, to),
	})

	if err := mg.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	mg.publish(domain.EventMessageTransition, map[string]any{
		"entity":       "conversation",
		"conversation": conv.ID,
		"from":         string(from),
		"to":           string(to),
	})
	mg.logger.Info("conversation status updated", "conversation", conv.ID, "from", from, "to", to)
	return conv, nil
}

// AssignAgent puts a human agent in charge of the conversation, forcing a
// transition to human_takeover. Under concurrent assignment exactly one
// caller succeeds; the rest see ErrOptimisticConflict from the store, or
// the already-assigned conversation when they lost the race cleanly.
func (mg *Manager) AssignAgent(ctx context.Context, id, agentID string) (*domain.Conversation, error) {
	conv, err := mg.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	if conv.Status == domain.ConversationClosed {
		return nil, fmt.Errorf("conversation %s is closed: %w", id, domain.ErrInvalidTransition)
	}
	if conv.AssignedAgent != "" {
		if conv.AssignedAgent == agentID {
			return conv, nil
		}
		return conv, fmt.Errorf("conversation %s already assigned to %s: %w",
			id, conv.AssignedAgent, domain.ErrOptimisticConflict)
	}

	now := time.Now().UTC()
	if conv.Status != domain.ConversationHumanTakeover {
		if err := Transition(conv, domain.ConversationHumanTakeover, now); err != nil {
			return nil, err
		}
	}
	conv.AssignedAgent = agentID
	conv.Metadata.AgentHistory = append(conv.Metadata.AgentHistory, domain.AgentEvent{
		AgentID: agentID,
		Action:  "assigned",
		At:      now,
	})
	conv.AppendActivity(domain.ActivityEntry{
		Kind:   domain.ActivityAgent,
		Actor:  agentID,
		Detail: "assigned",
	})

	if err := mg.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	mg.logger.Info("agent assigned", "conversation", conv.ID, "agent", agentID)
	return conv, nil
}

// UnassignAgent releases the conversation back to the AI, forcing a
// transition to active. Fails when no agent is assigned.
func (mg *Manager) UnassignAgent(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := mg.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.AssignedAgent == "" {
		return nil, fmt.Errorf("conversation %s has no assigned agent: %w", id, domain.ErrInvalidTransition)
	}

	agentID := conv.AssignedAgent
	// Transition out of human_takeover clears the assignee and records
	// the unassignment.
	if err := Transition(conv, domain.ConversationActive, time.Now().UTC()); err != nil {
		return nil, err
	}
	conv.AppendActivity(domain.ActivityEntry{
		Kind:   domain.ActivityAgent,
		Actor:  agentID,
		Detail: "unassigned",
	})

	if err := mg.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	mg.logger.Info("agent unassigned", "conversation", conv.ID, "agent", agentID)
	return conv, nil
}

// RecordInbound registers first contact or a follow-up from a lead. The
// newest open conversation for the number is reused; closed conversations
// stay closed and a fresh one is started instead. AI metrics fold in the
// classifier confidence, and the handoff rules may flag the conversation.
func (mg *Manager) RecordInbound(ctx context.Context, phoneNumber, leadID, messageID string, intent *domain.Intent) (*domain.Conversation, error) {
	conv, err := mg.store.FindOpenByPhone(ctx, phoneNumber)
	if errors.Is(err, domain.ErrNotFound) {
		conv = domain.NewConversation(leadID, phoneNumber)
		if err := mg.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		mg.logger.Info("conversation created on first inbound contact",
			"conversation", conv.ID, "phone", phoneNumber)
	} else if err != nil {
		return nil, err
	}

	conv.AppendActivity(domain.ActivityEntry{
		Kind:      domain.ActivityMessage,
		Actor:     phoneNumber,
		Detail:    "inbound message " + messageID,
		DedupeKey: "inbound:" + messageID,
	})

	if intent != nil {
		conv.ObserveConfidence(intent.Confidence)
		needsHuman := intent.ShouldHandoff() ||
			conv.Metadata.AIMetrics.AverageConfidence < domain.DefaultHandoffThreshold
		if needsHuman && conv.Status == domain.ConversationActive {
			conv.AppendActivity(domain.ActivityEntry{
				Kind:   domain.ActivityHandoff,
				Detail: fmt.Sprintf("intent=%s confidence=%.2f", intent.Type, intent.Confidence),
			})
		}
	}

	if err := mg.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// TouchActivity appends a dedupe-keyed entry and refreshes LastActivity,
// re-fetching on optimistic conflicts. A duplicate dedupe key is a no-op;
// the bool reports whether anything was appended.
func (mg *Manager) TouchActivity(ctx context.Context, id string, entry domain.ActivityEntry) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		conv, err := mg.store.GetConversation(ctx, id)
		if err != nil {
			return false, err
		}
		if !conv.AppendActivity(entry) {
			return false, nil
		}
		err = mg.store.UpdateConversation(ctx, conv)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, domain.ErrOptimisticConflict) {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}

func (mg *Manager) publish(kind domain.EventKind, fields map[string]any) {
	if mg.events == nil {
		return
	}
	mg.events.Publish(domain.Event{Kind: kind, At: time.Now().UTC(), Fields: fields})
}
