package domain

import "time"

// EventKind names one observable occurrence in the delivery core.
type EventKind string

const (
	EventMessageTransition EventKind = "message.transition"
	EventBreakerState      EventKind = "breaker.state"
	EventJobRetry          EventKind = "job.retry"
	EventJobDeadLetter     EventKind = "job.deadletter"
	EventWebhookRejected   EventKind = "webhook.rejected"
)

// Event is a structured record sent to the metrics/logging sink for every
// state machine transition, breaker flip, and retry or dead-letter
// decision.
type Event struct {
	Kind   EventKind
	At     time.Time
	Fields map[string]any
}

// EventSink receives events from the core. Publish must never block the
// caller indefinitely and must never panic the publisher.
type EventSink interface {
	Publish(e Event)
}
