package domain

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinContentLength = 1
	MaxContentLength = 1600

	MinConfidence = 0.0
	MaxConfidence = 1.0
)

// MessageDirection tells whether a message came from the lead or goes to them.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageStatus is the delivery state of a message. Transitions between
// statuses go through the message package's state machine; nothing else may
// write the field.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusBlocked   MessageStatus = "blocked"
	StatusExpired   MessageStatus = "expired"
)

// StatusChange is one edge taken through the message state machine. The
// status history is append-only and is the sole audit trail of mutation.
type StatusChange struct {
	From MessageStatus `json:"from"`
	To   MessageStatus `json:"to"`
	At   time.Time     `json:"at"`
}

// MessageMetadata carries delivery bookkeeping for a message.
type MessageMetadata struct {
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	DeliveryStatus    string         `json:"deliveryStatus,omitempty"`
	RetryCount        int            `json:"retryCount"`
	ErrorCode         string         `json:"errorCode,omitempty"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	StatusHistory     []StatusChange `json:"statusHistory,omitempty"`
	ConfidenceHistory []float64      `json:"confidenceHistory,omitempty"`
}

// Message is a single SMS, inbound or outbound. A message holds only a weak
// reference to its conversation; the conversation never appears here as a
// pointer.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId,omitempty"`
	Content        string           `json:"content"`
	Direction      MessageDirection `json:"direction"`
	Status         MessageStatus    `json:"status"`
	AIConfidence   float64          `json:"aiConfidence"`
	Provider       string           `json:"provider,omitempty"`
	Metadata       MessageMetadata  `json:"metadata"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`

	// Version is the optimistic-concurrency fence used by the store. A
	// write against a stale version fails with ErrOptimisticConflict.
	Version int64 `json:"version"`
}

// NewMessage builds a message in its initial status. Content length is
// bounded at construction; confidence is clamped to [0,1]. Outbound
// messages start queued, inbound messages are already delivered by the
// time we see them.
func NewMessage(conversationID, content string, direction MessageDirection, confidence float64) (*Message, error) {
	if n := utf8.RuneCountInString(content); n < MinContentLength || n > MaxContentLength {
		return nil, &ValidationError{
			Field:  "content",
			Reason: "content length must be between 1 and 1600 characters",
		}
	}

	status := StatusQueued
	if direction == DirectionInbound {
		status = StatusDelivered
	}

	now := time.Now().UTC()
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Direction:      direction,
		Status:         status,
		AIConfidence:   ClampConfidence(confidence),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// RecordConfidence updates the confidence score and keeps the old values
// around for auditing.
func (m *Message) RecordConfidence(c float64) {
	m.Metadata.ConfidenceHistory = append(m.Metadata.ConfidenceHistory, m.AIConfidence)
	m.AIConfidence = ClampConfidence(c)
	m.UpdatedAt = time.Now().UTC()
}
