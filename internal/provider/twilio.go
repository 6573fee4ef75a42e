package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"leadwire/internal/domain"
)

// Twilio implements domain.CarrierProvider against the Twilio Messages API.
type Twilio struct {
	accountSID string
	authToken  string
	from       string
	apiBase    string
	client     *http.Client
	logger     *slog.Logger
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // sending number, E.164
	APIBase    string
	Client     *http.Client
	Logger     *slog.Logger
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.twilio.com/2010-04-01"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultSendTimeout)
	}
	return &Twilio{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		apiBase:    cfg.APIBase,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
}

func (t *Twilio) Name() string { return "twilio" }

type twilioResponse struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode int    `json:"code"`
	Message   string `json:"message"`
}

// Send performs exactly one delivery attempt. Network failures, timeouts,
// 5xx and 429 come back as TransientProviderError; other carrier
// rejections are permanent.
func (t *Twilio) Send(ctx context.Context, req domain.SendRequest) (*domain.SendReceipt, error) {
	from := req.From
	if from == "" {
		from = t.from
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", from)
	form.Set("Body", req.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.apiBase, t.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.SetBasicAuth(t.accountSID, t.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientProviderError{Provider: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientProviderError{Provider: t.Name(), Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.TransientProviderError{
			Provider: t.Name(),
			Code:     fmt.Sprintf("http_%d", resp.StatusCode),
			Err:      fmt.Errorf("twilio returned %d: %s", resp.StatusCode, body),
		}
	}

	var parsed twilioResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &domain.TransientProviderError{Provider: t.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("twilio rejected message (code %d): %s", parsed.ErrorCode, parsed.Message)
	}

	t.logger.Debug("twilio accepted message", "sid", parsed.SID, "status", parsed.Status)
	return &domain.SendReceipt{
		ProviderMessageID: parsed.SID,
		RawStatus:         parsed.Status,
	}, nil
}

// MapStatus translates Twilio delivery callback statuses.
func (t *Twilio) MapStatus(raw string) (domain.MessageStatus, error) {
	switch strings.ToLower(raw) {
	case "queued", "accepted", "sending", "sent":
		return domain.StatusSent, nil
	case "delivered":
		return domain.StatusDelivered, nil
	case "read":
		return domain.StatusRead, nil
	case "undelivered", "failed":
		return domain.StatusFailed, nil
	default:
		return "", fmt.Errorf("twilio: unknown status %q", raw)
	}
}

func (t *Twilio) Healthy(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", t.apiBase, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("twilio: invalid credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twilio returned %d", resp.StatusCode)
	}
	return nil
}
