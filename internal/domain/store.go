package domain

import (
	"context"
	"time"
)

// MessageStore persists messages. Update enforces optimistic concurrency:
// the write only lands if the stored version matches the one the caller
// read, otherwise ErrOptimisticConflict.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// GetMessageByProviderRef looks a message up by the carrier-side
	// identifier, the only key a webhook carries.
	GetMessageByProviderRef(ctx context.Context, providerMessageID string) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
}

// ConversationStore persists conversations with the same optimistic
// update semantics as MessageStore.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// FindOpenByPhone returns the newest non-closed conversation for a
	// phone number, or ErrNotFound.
	FindOpenByPhone(ctx context.Context, phoneNumber string) (*Conversation, error)
	UpdateConversation(ctx context.Context, c *Conversation) error
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
}

// JobStore is the durable backing of the delivery queue.
type JobStore interface {
	// UpsertJob inserts a job or, when one already exists for the
	// message, refreshes its payload without resetting attempt counts.
	UpsertJob(ctx context.Context, job *DeliveryJob) error
	// ClaimJob atomically moves the most urgent due pending job to the
	// claimed state. Returns nil when nothing is due.
	ClaimJob(ctx context.Context, now time.Time) (*DeliveryJob, error)
	// RescheduleJob returns a claimed job to pending with a new attempt
	// count and due time.
	RescheduleJob(ctx context.Context, messageID string, attemptCount int, nextAttemptAt time.Time) error
	// DeadLetterJob parks a job permanently; it will never be claimed again.
	DeadLetterJob(ctx context.Context, messageID string) error
	DeleteJob(ctx context.Context, messageID string) error
	// CancelJob removes a job only while it is still pending. Reports
	// whether anything was removed.
	CancelJob(ctx context.Context, messageID string) (bool, error)
	GetJob(ctx context.Context, messageID string) (*DeliveryJob, error)
}
