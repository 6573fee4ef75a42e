package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"leadwire/internal/domain"
)

// Vonage implements domain.CarrierProvider against the Vonage SMS API.
type Vonage struct {
	apiKey    string
	apiSecret string
	from      string
	apiBase   string
	client    *http.Client
	logger    *slog.Logger
}

type VonageConfig struct {
	APIKey    string
	APISecret string
	From      string
	APIBase   string
	Client    *http.Client
	Logger    *slog.Logger
}

func NewVonage(cfg VonageConfig) *Vonage {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://rest.nexmo.com"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultSendTimeout)
	}
	return &Vonage{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		from:      cfg.From,
		apiBase:   cfg.APIBase,
		client:    cfg.Client,
		logger:    cfg.Logger,
	}
}

func (v *Vonage) Name() string { return "vonage" }

type vonageRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	To        string `json:"to"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

type vonageResponse struct {
	Messages []struct {
		MessageID string `json:"message-id"`
		Status    string `json:"status"` // "0" means accepted
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

func (v *Vonage) Send(ctx context.Context, req domain.SendRequest) (*domain.SendReceipt, error) {
	from := req.From
	if from == "" {
		from = v.from
	}
	payload, err := json.Marshal(vonageRequest{
		APIKey:    v.apiKey,
		APISecret: v.apiSecret,
		To:        strings.TrimPrefix(req.To, "+"),
		From:      from,
		Text:      req.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiBase+"/sms/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientProviderError{Provider: v.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientProviderError{Provider: v.Name(), Err: err}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.TransientProviderError{
			Provider: v.Name(),
			Code:     fmt.Sprintf("http_%d", resp.StatusCode),
			Err:      fmt.Errorf("vonage returned %d: %s", resp.StatusCode, body),
		}
	}

	var parsed vonageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &domain.TransientProviderError{Provider: v.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Messages) == 0 {
		return nil, &domain.TransientProviderError{Provider: v.Name(), Err: fmt.Errorf("empty response")}
	}

	msg := parsed.Messages[0]
	// Status "1" is throttling, worth another attempt; everything else
	// non-zero is a permanent rejection.
	switch msg.Status {
	case "0":
	case "1":
		return nil, &domain.TransientProviderError{
			Provider: v.Name(),
			Code:     "throttled",
			Err:      fmt.Errorf("vonage throttled: %s", msg.ErrorText),
		}
	default:
		return nil, fmt.Errorf("vonage rejected message (status %s): %s", msg.Status, msg.ErrorText)
	}

	v.logger.Debug("vonage accepted message", "message_id", msg.MessageID)
	return &domain.SendReceipt{
		ProviderMessageID: msg.MessageID,
		RawStatus:         "accepted",
	}, nil
}

// MapStatus translates Vonage delivery receipt statuses.
func (v *Vonage) MapStatus(raw string) (domain.MessageStatus, error) {
	switch strings.ToLower(raw) {
	case "accepted", "buffered", "submitted":
		return domain.StatusSent, nil
	case "delivered":
		return domain.StatusDelivered, nil
	case "expired":
		return domain.StatusExpired, nil
	case "failed", "rejected", "unknown":
		return domain.StatusFailed, nil
	default:
		return "", fmt.Errorf("vonage: unknown status %q", raw)
	}
}

func (v *Vonage) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiBase+"/sms/json", nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("vonage not reachable: %w", err)
	}
	resp.Body.Close()
	return nil
}
