package domain

import "context"

// SendRequest is one delivery attempt handed to a carrier.
type SendRequest struct {
	MessageID string
	To        string // E.164 recipient
	From      string // sending number or alphanumeric sender ID
	Body      string
}

// SendReceipt is the carrier's acknowledgment of an accepted message.
// ProviderMessageID is the carrier-side identifier later quoted by
// delivery webhooks; it is the only handle the carrier knows us by.
type SendReceipt struct {
	ProviderMessageID string
	RawStatus         string
}

// CarrierProvider is the contract every SMS carrier adapter implements.
// Send performs exactly one attempt bounded by the caller's context;
// retries and failover are the delivery queue's business.
type CarrierProvider interface {
	Name() string
	Send(ctx context.Context, req SendRequest) (*SendReceipt, error)
	// MapStatus translates a carrier status string from a webhook into
	// the internal message status. Unknown values return an error.
	MapStatus(raw string) (MessageStatus, error)
	Healthy(ctx context.Context) error
}
