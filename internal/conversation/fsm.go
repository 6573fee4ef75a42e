// Package conversation owns the conversation lifecycle: its state
// machine, agent takeover, activity tracking, and the engagement report.
package conversation

import (
	"fmt"
	"time"

	"leadwire/internal/domain"
)

var transitions = map[domain.ConversationStatus][]domain.ConversationStatus{
	domain.ConversationActive: {
		domain.ConversationPaused, domain.ConversationClosed, domain.ConversationHumanTakeover,
	},
	domain.ConversationPaused: {
		domain.ConversationActive, domain.ConversationClosed, domain.ConversationHumanTakeover,
	},
	domain.ConversationHumanTakeover: {
		domain.ConversationActive, domain.ConversationClosed,
	},
	domain.ConversationClosed: {},
}

// CanTransition reports whether the conversation state machine allows the edge.
func CanTransition(from, to domain.ConversationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves a conversation to a new status, appending the edge to
// the status history. An assigned agent never survives leaving
// human_takeover: the field is cleared and an unassignment is recorded,
// so AssignedAgent is non-empty only while status is human_takeover.
func Transition(c *domain.Conversation, to domain.ConversationStatus, at time.Time) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("conversation %s: %s -> %s: %w", c.ID, c.Status, to, domain.ErrInvalidTransition)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if c.Status == domain.ConversationHumanTakeover && c.AssignedAgent != "" {
		c.Metadata.AgentHistory = append(c.Metadata.AgentHistory, domain.AgentEvent{
			AgentID: c.AssignedAgent,
			Action:  "unassigned",
			At:      at,
		})
		c.AssignedAgent = ""
	}
	c.Metadata.StatusHistory = append(c.Metadata.StatusHistory, domain.ConversationStatusChange{
		From: c.Status,
		To:   to,
		At:   at,
	})
	c.Status = to
	c.UpdatedAt = at
	return nil
}
