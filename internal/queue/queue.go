// Package queue implements the durable delivery queue: enqueueing
// outbound messages, exponential retry scheduling, and the worker pool
// that drains jobs through carrier providers.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadwire/internal/domain"
	"leadwire/internal/events"
	"leadwire/internal/metrics"
	"leadwire/internal/validate"
)

// Stores bundles the persistence interfaces the queue needs.
type Stores struct {
	Messages domain.MessageStore
	Jobs     domain.JobStore
}

// Queue accepts outbound messages and persists one delivery job per
// message. Work is picked up by the Pool.
type Queue struct {
	stores  Stores
	events  *events.Sink
	metrics *metrics.Delivery
	logger  *slog.Logger

	contentRules   *validate.RuleSet
	recipientRules *validate.RuleSet
}

func New(stores Stores, sink *events.Sink, del *metrics.Delivery, logger *slog.Logger) (*Queue, error) {
	contentRules := validate.MessageContent()
	if err := contentRules.Compile(); err != nil {
		return nil, fmt.Errorf("compile content rules: %w", err)
	}
	recipientRules := validate.Recipient()
	if err := recipientRules.Compile(); err != nil {
		return nil, fmt.Errorf("compile recipient rules: %w", err)
	}
	return &Queue{
		stores:         stores,
		events:         sink,
		metrics:        del,
		logger:         logger.With("component", "queue"),
		contentRules:   contentRules,
		recipientRules: recipientRules,
	}, nil
}

// EnqueueRequest describes one outbound message to schedule.
type EnqueueRequest struct {
	ConversationID string
	Recipient      string
	Content        string
	Priority       int
	ProviderHint   string
}

// Enqueue validates the request, persists the message in the queued
// state and schedules an immediately-due delivery job.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Message, error) {
	if err := q.contentRules.Validate(req.Content); err != nil {
		return nil, err
	}
	if err := q.recipientRules.Validate(req.Recipient); err != nil {
		return nil, err
	}

	msg, err := domain.NewMessage(req.ConversationID, req.Content, domain.DirectionOutbound, 1.0)
	if err != nil {
		return nil, err
	}
	if err := q.stores.Messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	job := &domain.DeliveryJob{
		MessageID:     msg.ID,
		Priority:      req.Priority,
		State:         domain.JobPending,
		NextAttemptAt: time.Now(),
		Payload: domain.JobPayload{
			Content:      req.Content,
			Recipient:    req.Recipient,
			ProviderHint: req.ProviderHint,
		},
	}
	if err := q.stores.Jobs.UpsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("schedule job: %w", err)
	}

	q.metrics.Enqueued.Inc()
	q.metrics.QueueDepth.Inc()
	q.logger.Info("message enqueued", "message_id", msg.ID, "conversation_id", req.ConversationID, "priority", req.Priority)
	return msg, nil
}

// Cancel withdraws a pending job. Jobs already claimed by a worker or
// dead-lettered are left alone; the caller gets false in that case.
func (q *Queue) Cancel(ctx context.Context, messageID string) (bool, error) {
	cancelled, err := q.stores.Jobs.CancelJob(ctx, messageID)
	if err != nil {
		return false, err
	}
	if cancelled {
		q.metrics.QueueDepth.Dec()
		q.logger.Info("job cancelled", "message_id", messageID)
	}
	return cancelled, nil
}
