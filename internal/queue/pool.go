package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadwire/internal/domain"
	"leadwire/internal/events"
	"leadwire/internal/message"
	"leadwire/internal/metrics"
	"leadwire/internal/provider"
)

const (
	DefaultConcurrency  = 5
	DefaultMaxRetries   = 3
	DefaultPollInterval = 500 * time.Millisecond
	DefaultSendTimeout  = 5 * time.Second

	// updateRetries bounds how often a worker re-reads a message after an
	// optimistic conflict before giving up on the write.
	updateRetries = 3
)

// PoolConfig tunes the delivery worker pool.
type PoolConfig struct {
	Concurrency  int
	MaxRetries   int
	PollInterval time.Duration
	SendTimeout  time.Duration
	Backoff      Backoff
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = NewBackoff(0, 0)
	}
	return c
}

// Pool drains the delivery queue. Each claimed job gets one send attempt
// through the carrier selector; transient failures reschedule with
// exponential backoff, permanent failures dead-letter immediately.
type Pool struct {
	cfg      PoolConfig
	stores   Stores
	selector *provider.Selector
	events   *events.Sink
	metrics  *metrics.Delivery
	logger   *slog.Logger
}

func NewPool(cfg PoolConfig, stores Stores, sel *provider.Selector, sink *events.Sink, del *metrics.Delivery, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:      cfg.withDefaults(),
		stores:   stores,
		selector: sel,
		events:   sink,
		metrics:  del,
		logger:   logger.With("component", "delivery_pool"),
	}
}

// Run claims and processes jobs until the context is cancelled. At most
// Concurrency jobs are in flight at once; in-flight jobs finish before
// Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("delivery pool started",
		"concurrency", p.cfg.Concurrency,
		"max_retries", p.cfg.MaxRetries,
	)

	slots := make(chan struct{}, p.cfg.Concurrency)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Wait for in-flight workers.
			for i := 0; i < p.cfg.Concurrency; i++ {
				slots <- struct{}{}
			}
			p.logger.Info("delivery pool stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		// Drain everything due before sleeping again.
		for {
			job, err := p.stores.Jobs.ClaimJob(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("claim failed", "error", err)
				}
				break
			}
			if job == nil {
				break
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				// Give the job back so the next run retries it.
				if rerr := p.stores.Jobs.RescheduleJob(context.Background(), job.MessageID, job.AttemptCount, time.Now()); rerr != nil {
					p.logger.Error("release claimed job failed", "message_id", job.MessageID, "error", rerr)
				}
				continue
			}

			go func(job *domain.DeliveryJob) {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error("worker panic", "message_id", job.MessageID, "panic", r)
					}
					<-slots
				}()
				p.process(ctx, job)
			}(job)
		}
	}
}

// ProcessOne claims and processes a single due job, reporting whether
// anything was claimed. Run is the production loop.
func (p *Pool) ProcessOne(ctx context.Context, now time.Time) (bool, error) {
	job, err := p.stores.Jobs.ClaimJob(ctx, now)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.process(ctx, job)
	return true, nil
}

func (p *Pool) process(ctx context.Context, job *domain.DeliveryJob) {
	entry, err := p.selector.Pick(job.Payload.ProviderHint)
	if err != nil {
		// Every breaker refused; nothing to retry against right now.
		p.fail(ctx, job, "providers_unavailable", err)
		return
	}
	carrier := entry.Provider.Name()

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	started := time.Now()
	receipt, err := entry.Provider.Send(sendCtx, domain.SendRequest{
		MessageID: job.MessageID,
		To:        job.Payload.Recipient,
		Body:      job.Payload.Content,
	})
	cancel()
	p.metrics.SendLatency.Observe(time.Since(started).Seconds())

	if err == nil {
		entry.Breaker.RecordSuccess()
		p.metrics.ProviderSends(carrier, true).Inc()
		p.succeed(ctx, job, carrier, receipt)
		return
	}

	entry.Breaker.RecordFailure()
	p.metrics.ProviderSends(carrier, false).Inc()

	var transient *domain.TransientProviderError
	if !errors.As(err, &transient) {
		// Carrier rejected the message outright; retrying cannot help.
		p.fail(ctx, job, "carrier_rejected", err)
		return
	}

	attempt := job.AttemptCount + 1
	if attempt >= p.cfg.MaxRetries {
		p.fail(ctx, job, transient.Code, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err))
		return
	}

	delay := p.cfg.Backoff.Delay(attempt)
	if rerr := p.stores.Jobs.RescheduleJob(ctx, job.MessageID, attempt, time.Now().Add(delay)); rerr != nil {
		p.logger.Error("reschedule failed", "message_id", job.MessageID, "error", rerr)
		return
	}
	p.metrics.Retried.Inc()
	p.bumpRetryCount(ctx, job.MessageID, attempt, transient.Code, err.Error())
	p.events.Publish(domain.Event{
		Kind: domain.EventJobRetry,
		Fields: map[string]any{
			"message_id": job.MessageID,
			"carrier":    carrier,
			"attempt":    attempt,
			"delay":      delay.String(),
			"error":      err.Error(),
		},
	})
	p.logger.Warn("delivery attempt failed, rescheduled",
		"message_id", job.MessageID,
		"carrier", carrier,
		"attempt", attempt,
		"retry_in", delay,
	)
}

func (p *Pool) succeed(ctx context.Context, job *domain.DeliveryJob, carrier string, receipt *domain.SendReceipt) {
	err := p.updateMessage(ctx, job.MessageID, func(m *domain.Message) error {
		if terr := message.Transition(m, domain.StatusSent, time.Now().UTC()); terr != nil {
			return terr
		}
		m.Provider = carrier
		m.Metadata.ProviderMessageID = receipt.ProviderMessageID
		m.Metadata.DeliveryStatus = receipt.RawStatus
		m.Metadata.RetryCount = job.AttemptCount
		return nil
	})
	if err != nil {
		p.logger.Error("mark sent failed", "message_id", job.MessageID, "error", err)
	}
	if err := p.stores.Jobs.DeleteJob(ctx, job.MessageID); err != nil {
		p.logger.Error("delete job failed", "message_id", job.MessageID, "error", err)
	}
	p.metrics.Sent.Inc()
	p.metrics.QueueDepth.Dec()
	p.events.Publish(domain.Event{
		Kind: domain.EventMessageTransition,
		Fields: map[string]any{
			"message_id":          job.MessageID,
			"to":                  string(domain.StatusSent),
			"carrier":             carrier,
			"provider_message_id": receipt.ProviderMessageID,
		},
	})
	p.logger.Info("message sent",
		"message_id", job.MessageID,
		"carrier", carrier,
		"provider_message_id", receipt.ProviderMessageID,
	)
}

// fail marks the message failed and parks the job in the dead letter
// state. The job row is kept for inspection, never reclaimed.
func (p *Pool) fail(ctx context.Context, job *domain.DeliveryJob, code string, cause error) {
	err := p.updateMessage(ctx, job.MessageID, func(m *domain.Message) error {
		if terr := message.Transition(m, domain.StatusFailed, time.Now().UTC()); terr != nil {
			return terr
		}
		m.Metadata.ErrorCode = code
		m.Metadata.ErrorMessage = cause.Error()
		m.Metadata.RetryCount = job.AttemptCount + 1
		return nil
	})
	if err != nil {
		p.logger.Error("mark failed failed", "message_id", job.MessageID, "error", err)
	}
	if derr := p.stores.Jobs.DeadLetterJob(ctx, job.MessageID); derr != nil {
		p.logger.Error("dead letter failed", "message_id", job.MessageID, "error", derr)
	}
	p.metrics.Failed.Inc()
	p.metrics.DeadLetters.Inc()
	p.metrics.QueueDepth.Dec()
	p.events.Publish(domain.Event{
		Kind: domain.EventJobDeadLetter,
		Fields: map[string]any{
			"message_id": job.MessageID,
			"attempts":   job.AttemptCount + 1,
			"code":       code,
			"error":      cause.Error(),
		},
	})
	p.logger.Error("delivery abandoned",
		"message_id", job.MessageID,
		"attempts", job.AttemptCount+1,
		"code", code,
		"error", cause,
	)
}

func (p *Pool) bumpRetryCount(ctx context.Context, messageID string, attempt int, code, msg string) {
	err := p.updateMessage(ctx, messageID, func(m *domain.Message) error {
		m.Metadata.RetryCount = attempt
		m.Metadata.ErrorCode = code
		m.Metadata.ErrorMessage = msg
		m.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		p.logger.Warn("retry bookkeeping failed", "message_id", messageID, "error", err)
	}
}

// updateMessage applies mutate under optimistic concurrency, re-reading
// and retrying on version conflicts.
func (p *Pool) updateMessage(ctx context.Context, messageID string, mutate func(*domain.Message) error) error {
	var lastErr error
	for i := 0; i < updateRetries; i++ {
		m, err := p.stores.Messages.GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if err := mutate(m); err != nil {
			return err
		}
		if err := p.stores.Messages.UpdateMessage(ctx, m); err != nil {
			if errors.Is(err, domain.ErrOptimisticConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
