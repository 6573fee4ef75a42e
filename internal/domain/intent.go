package domain

// DefaultHandoffThreshold is the confidence floor below which the AI hands
// a conversation to a human agent.
const DefaultHandoffThreshold = 0.7

// IntentType classifies what the lead is trying to do.
type IntentType string

const (
	IntentGreeting     IntentType = "greeting"
	IntentQuestion     IntentType = "question"
	IntentComplaint    IntentType = "complaint"
	IntentRequestHuman IntentType = "request_human"
	IntentFarewell     IntentType = "farewell"
	IntentUnknown      IntentType = "unknown"
)

// Intent is the classified intent of an inbound message together with the
// classifier's confidence. Classification itself happens in the external
// AI service; the core only consumes the result.
type Intent struct {
	Type          IntentType     `json:"type"`
	Confidence    float64        `json:"confidence"`
	RequiresHuman bool           `json:"requiresHuman"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ShouldHandoff reports whether any handoff condition is met: an explicit
// human request, low classification confidence, strongly negative
// sentiment, or an urgency flag set by the classifier.
func (i Intent) ShouldHandoff() bool {
	if i.RequiresHuman || i.Type == IntentRequestHuman {
		return true
	}
	if i.Confidence < DefaultHandoffThreshold {
		return true
	}
	if sentiment, ok := i.Metadata["sentiment_score"].(float64); ok && sentiment < 0.3 {
		return true
	}
	if urgent, ok := i.Metadata["urgent"].(bool); ok && urgent {
		return true
	}
	return false
}
