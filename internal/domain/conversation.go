package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of a conversation. Closed is
// terminal; there is no reopen path.
type ConversationStatus string

const (
	ConversationActive        ConversationStatus = "active"
	ConversationPaused        ConversationStatus = "paused"
	ConversationClosed        ConversationStatus = "closed"
	ConversationHumanTakeover ConversationStatus = "human_takeover"
)

// ActivityKind classifies one activity-log entry.
type ActivityKind string

const (
	ActivityMessage  ActivityKind = "message"  // a message reached the lead or came from them
	ActivityResponse ActivityKind = "response" // a reply to a preceding message entry
	ActivityStatus   ActivityKind = "status"   // a conversation status change
	ActivityAgent    ActivityKind = "agent"    // an agent assignment event
	ActivityHandoff  ActivityKind = "handoff"  // the AI flagged the conversation for a human
)

// ActivityEntry is one append-only record of something happening on a
// conversation. DedupeKey makes webhook-driven appends idempotent: an entry
// whose key already exists in the log is dropped silently.
type ActivityEntry struct {
	ID        string       `json:"id"`
	Kind      ActivityKind `json:"kind"`
	Actor     string       `json:"actor,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	DedupeKey string       `json:"dedupeKey,omitempty"`
	At        time.Time    `json:"at"`
}

// AgentEvent records one agent assignment or unassignment.
type AgentEvent struct {
	AgentID string    `json:"agentId"`
	Action  string    `json:"action"` // assigned | unassigned
	At      time.Time `json:"at"`
}

// AIMetrics is the running AI engagement summary for a conversation.
// AverageConfidence is a weighted running mean over all AI interactions.
type AIMetrics struct {
	AverageConfidence float64 `json:"averageConfidence"`
	InteractionsCount int     `json:"interactionsCount"`
}

// ConversationStatusChange mirrors StatusChange for the conversation
// state machine.
type ConversationStatusChange struct {
	From ConversationStatus `json:"from"`
	To   ConversationStatus `json:"to"`
	At   time.Time          `json:"at"`
}

// ConversationMetadata carries the audit trails owned by a conversation.
type ConversationMetadata struct {
	StatusHistory []ConversationStatusChange `json:"statusHistory,omitempty"`
	ActivityLog   []ActivityEntry            `json:"activityLog,omitempty"`
	AgentHistory  []AgentEvent               `json:"agentHistory,omitempty"`
	AIMetrics     AIMetrics                  `json:"aiMetrics"`
}

// Conversation coordinates the message flow with one lead. It owns many
// messages (they point back only by ID) and tracks agent takeover and AI
// engagement state.
type Conversation struct {
	ID            string               `json:"id"`
	LeadID        string               `json:"leadId"`
	Status        ConversationStatus   `json:"status"`
	PhoneNumber   string               `json:"phoneNumber"`
	AssignedAgent string               `json:"assignedAgent,omitempty"`
	LastActivity  time.Time            `json:"lastActivity"`
	Metadata      ConversationMetadata `json:"metadata"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`

	// Version is the optimistic-concurrency fence used by the store.
	Version int64 `json:"version"`
}

// NewConversation starts an active conversation for a lead. Conversations
// are created on first inbound contact; a closed conversation is never
// reopened, a fresh one is created instead.
func NewConversation(leadID, phoneNumber string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.NewString(),
		LeadID:       leadID,
		Status:       ConversationActive,
		PhoneNumber:  phoneNumber,
		LastActivity: now,
		Metadata: ConversationMetadata{
			AIMetrics: AIMetrics{AverageConfidence: MaxConfidence},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasActivity reports whether an entry with the given dedupe key is
// already present in the activity log.
func (c *Conversation) HasActivity(dedupeKey string) bool {
	if dedupeKey == "" {
		return false
	}
	for _, e := range c.Metadata.ActivityLog {
		if e.DedupeKey == dedupeKey {
			return true
		}
	}
	return false
}

// AppendActivity adds an entry to the activity log and refreshes
// LastActivity. Entries with a duplicate dedupe key are dropped; the
// return value reports whether the entry was appended.
func (c *Conversation) AppendActivity(entry ActivityEntry) bool {
	if c.HasActivity(entry.DedupeKey) {
		return false
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	c.Metadata.ActivityLog = append(c.Metadata.ActivityLog, entry)
	if entry.At.After(c.LastActivity) {
		c.LastActivity = entry.At
	}
	c.UpdatedAt = time.Now().UTC()
	return true
}

// ObserveConfidence folds one AI interaction into the running metrics,
// weighted over all interactions so far.
func (c *Conversation) ObserveConfidence(confidence float64) {
	m := &c.Metadata.AIMetrics
	m.InteractionsCount++
	n := float64(m.InteractionsCount)
	m.AverageConfidence = ClampConfidence((m.AverageConfidence*(n-1) + ClampConfidence(confidence)) / n)
}
