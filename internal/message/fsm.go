// Package message owns the message delivery state machine. Transition is
// the only write path to Message.Status; every accepted edge is recorded
// in the append-only status history.
package message

import (
	"fmt"
	"time"

	"leadwire/internal/domain"
)

// transitions is the full edge set of the delivery state machine. Read,
// failed, blocked and expired are terminal.
var transitions = map[domain.MessageStatus][]domain.MessageStatus{
	domain.StatusQueued:    {domain.StatusSent, domain.StatusFailed},
	domain.StatusSent:      {domain.StatusDelivered, domain.StatusFailed, domain.StatusExpired},
	domain.StatusDelivered: {domain.StatusRead, domain.StatusFailed},
	domain.StatusRead:      {},
	domain.StatusFailed:    {},
	domain.StatusBlocked:   {},
	domain.StatusExpired:   {},
}

// CanTransition reports whether the state machine allows the edge.
func CanTransition(from, to domain.MessageStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no edge leaves the given status.
func IsTerminal(s domain.MessageStatus) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Transition moves a message to a new status. On an invalid edge it
// returns ErrInvalidTransition and performs no mutation; on success it
// appends the edge to the status history and bumps UpdatedAt.
func Transition(m *domain.Message, to domain.MessageStatus, at time.Time) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("message %s: %s -> %s: %w", m.ID, m.Status, to, domain.ErrInvalidTransition)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m.Metadata.StatusHistory = append(m.Metadata.StatusHistory, domain.StatusChange{
		From: m.Status,
		To:   to,
		At:   at,
	})
	m.Status = to
	m.UpdatedAt = at
	return nil
}

// ValidWalk checks that a status history is a contiguous valid walk of
// the state machine: every entry is an allowed edge, no terminal status
// appears as a source, and consecutive entries chain.
func ValidWalk(history []domain.StatusChange) bool {
	for i, step := range history {
		if !CanTransition(step.From, step.To) {
			return false
		}
		if i > 0 && history[i-1].To != step.From {
			return false
		}
	}
	return true
}
