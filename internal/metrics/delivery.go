package metrics

import (
	"fmt"
	"math"
)

// Delivery holds the pre-registered metrics for the send pipeline.
// Components receive this struct rather than the raw collector so the
// metric names stay in one place.
type Delivery struct {
	Enqueued    *Counter
	Sent        *Counter
	Failed      *Counter
	Retried     *Counter
	DeadLetters *Counter

	WebhookAccepted *Counter
	WebhookRejected *Counter
	InboundMessages *Counter

	QueueDepth  *Gauge
	SendLatency *Histogram

	collector *Collector
}

// NewDelivery registers the delivery pipeline metrics on the collector.
func NewDelivery(c *Collector) *Delivery {
	latencyBounds := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, math.Inf(1)}
	return &Delivery{
		Enqueued:        c.Counter("leadwire_messages_enqueued_total", "Messages accepted into the delivery queue", ""),
		Sent:            c.Counter("leadwire_messages_sent_total", "Messages handed to a carrier successfully", ""),
		Failed:          c.Counter("leadwire_messages_failed_total", "Messages that reached the failed state", ""),
		Retried:         c.Counter("leadwire_delivery_retries_total", "Delivery attempts rescheduled after a transient failure", ""),
		DeadLetters:     c.Counter("leadwire_delivery_dead_letters_total", "Jobs moved to the dead letter state", ""),
		WebhookAccepted: c.Counter("leadwire_webhook_callbacks_total", "Authenticated webhook callbacks processed", ""),
		WebhookRejected: c.Counter("leadwire_webhook_rejected_total", "Webhook callbacks rejected for bad signatures", ""),
		InboundMessages: c.Counter("leadwire_inbound_messages_total", "Inbound messages received via webhook", ""),
		QueueDepth:      c.Gauge("leadwire_queue_depth", "Jobs currently pending or claimed", ""),
		SendLatency:     c.Histogram("leadwire_send_duration_seconds", "Carrier send round-trip time", "", latencyBounds),
		collector:       c,
	}
}

// BreakerGauge returns the per-provider circuit state gauge.
// 0 closed, 1 half-open, 2 open.
func (d *Delivery) BreakerGauge(provider string) *Gauge {
	return d.collector.Gauge("leadwire_breaker_state", "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)", fmt.Sprintf("provider=%q", provider))
}

// ProviderSends returns the per-provider send attempt counter.
func (d *Delivery) ProviderSends(provider string, ok bool) *Counter {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	labels := fmt.Sprintf("provider=%q,outcome=%q", provider, outcome)
	return d.collector.Counter("leadwire_provider_sends_total", "Send attempts per provider and outcome", labels)
}
