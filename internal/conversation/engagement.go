package conversation

import (
	"time"

	"leadwire/internal/domain"
)

// EngagementConfig carries the two SLA thresholds. They are distinct on
// purpose: AIProcessingSLA bounds the AI pipeline latency, while
// AgentResponseSLA bounds how fast a human answers a lead.
type EngagementConfig struct {
	AIProcessingSLA  time.Duration // default 500ms
	AgentResponseSLA time.Duration // default 5m
}

func DefaultEngagementConfig() EngagementConfig {
	return EngagementConfig{
		AIProcessingSLA:  500 * time.Millisecond,
		AgentResponseSLA: 5 * time.Minute,
	}
}

// EngagementReport is a read-only aggregation over a set of conversations.
type EngagementReport struct {
	Conversations       int           `json:"conversations"`
	AverageResponseTime time.Duration `json:"averageResponseTimeMs"`
	SLACompliancePct    float64       `json:"slaCompliancePct"`
	AIConfidenceAverage float64       `json:"aiConfidenceAverage"`
	HumanTakeoverRate   float64       `json:"humanTakeoverRate"`
}

// ResponseTimes pairs each message-kind activity entry with the next
// response-kind entry and returns the intervals between them.
func ResponseTimes(log []domain.ActivityEntry) []time.Duration {
	var out []time.Duration
	var pending *domain.ActivityEntry
	for i := range log {
		entry := log[i]
		switch entry.Kind {
		case domain.ActivityMessage:
			pending = &log[i]
		case domain.ActivityResponse:
			if pending != nil {
				d := entry.At.Sub(pending.At)
				if d >= 0 {
					out = append(out, d)
				}
				pending = nil
			}
		}
	}
	return out
}

// Report aggregates engagement metrics across conversations. SLA
// compliance is the share of response times under AgentResponseSLA.
func Report(convs []*domain.Conversation, cfg EngagementConfig) EngagementReport {
	report := EngagementReport{Conversations: len(convs)}
	if len(convs) == 0 {
		return report
	}

	var (
		totalResponse time.Duration
		responses     int
		withinSLA     int
		confidenceSum float64
		takeovers     int
	)

	for _, c := range convs {
		for _, d := range ResponseTimes(c.Metadata.ActivityLog) {
			totalResponse += d
			responses++
			if d <= cfg.AgentResponseSLA {
				withinSLA++
			}
		}
		confidenceSum += c.Metadata.AIMetrics.AverageConfidence
		if c.Status == domain.ConversationHumanTakeover {
			takeovers++
		}
	}

	if responses > 0 {
		report.AverageResponseTime = totalResponse / time.Duration(responses)
		report.SLACompliancePct = float64(withinSLA) / float64(responses) * 100
	}
	report.AIConfidenceAverage = confidenceSum / float64(len(convs))
	report.HumanTakeoverRate = float64(takeovers) / float64(len(convs))
	return report
}
