package domain

import "time"

// JobState is the queue-side lifecycle of a delivery job.
type JobState string

const (
	JobPending JobState = "pending" // waiting for a worker, possibly backed off
	JobClaimed JobState = "claimed" // a worker is attempting delivery
	JobDead    JobState = "dead"    // retries exhausted, never rescheduled
)

// JobPayload is the snapshot a worker needs to deliver without re-reading
// the message row.
type JobPayload struct {
	Content      string `json:"content"`
	Recipient    string `json:"recipient"`
	ProviderHint string `json:"providerHint,omitempty"`
}

// DeliveryJob is one durable unit of outbound delivery work, keyed by the
// message it delivers. Re-adding the same message updates the job in
// place; there is never more than one job per message.
type DeliveryJob struct {
	MessageID     string
	Priority      int
	AttemptCount  int
	NextAttemptAt time.Time
	State         JobState
	Payload       JobPayload
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
