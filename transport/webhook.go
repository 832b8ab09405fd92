package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

const defaultWebhookClientTimeout = 10 * time.Second
const defaultWebhookResponseBodyLimit int64 = 1 << 20 // 1 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookTransport POSTs signed JSON payloads to registered endpoints. 2xx
// responses succeed; 5xx, 408 and 429 come back retryable; every other 4xx
// is permanent because re-sending an unaccepted payload never helps.
type WebhookTransport struct {
	Client               HTTPDoer
	Signer               core.Signer
	SignatureHeader      string
	TimestampHeader      string
	EventHeader          string
	MaxResponseBodyBytes int64
	Now                  core.NowFunc
}

func NewWebhookTransport(signer core.Signer, cfg core.WebhookConfig) *WebhookTransport {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultWebhookClientTimeout
	}
	return &WebhookTransport{
		Client:               &http.Client{Timeout: timeout},
		Signer:               signer,
		SignatureHeader:      cfg.SignatureHeader,
		TimestampHeader:      cfg.TimestampHeader,
		EventHeader:          cfg.EventHeader,
		MaxResponseBodyBytes: defaultWebhookResponseBodyLimit,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (*WebhookTransport) Channel() core.Channel {
	return core.ChannelWebhook
}

type webhookEnvelope struct {
	Event      string         `json:"event"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func (t *WebhookTransport) Send(ctx context.Context, target core.DeliveryTarget) (core.SendResult, error) {
	if t == nil || t.Client == nil {
		return core.SendResult{}, fmt.Errorf("transport: webhook transport requires an http client")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := core.ValidateEndpoint(target.Endpoint); err != nil {
		return core.SendResult{}, fmt.Errorf("%w: %v", core.ErrPermanentDelivery, err)
	}

	now := t.now()
	body, err := json.Marshal(webhookEnvelope{
		Event:      target.Event,
		OccurredAt: now,
		Payload:    target.Payload,
	})
	if err != nil {
		return core.SendResult{}, fmt.Errorf("%w: encode webhook body: %v", core.ErrPermanentDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(target.Endpoint), bytes.NewReader(body))
	if err != nil {
		return core.SendResult{}, fmt.Errorf("%w: create webhook request: %v", core.ErrPermanentDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range target.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		req.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if header := strings.TrimSpace(t.EventHeader); header != "" {
		req.Header.Set(header, target.Event)
	}
	if header := strings.TrimSpace(t.TimestampHeader); header != "" {
		req.Header.Set(header, strconv.FormatInt(now.Unix(), 10))
	}
	if t.Signer != nil {
		signature, signErr := t.Signer.Sign(body, target.Secret)
		if signErr != nil {
			return core.SendResult{}, fmt.Errorf("%w: sign webhook payload: %v", core.ErrPermanentDelivery, signErr)
		}
		header := strings.TrimSpace(t.SignatureHeader)
		if header == "" {
			header = "X-Webhook-Signature"
		}
		req.Header.Set(header, signature)
	}

	res, err := t.Client.Do(req)
	if err != nil {
		// network failures are retryable
		return core.SendResult{}, fmt.Errorf("transport: webhook request failed: %w", err)
	}
	defer res.Body.Close()

	limit := t.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultWebhookResponseBodyLimit
	}
	detail, _ := io.ReadAll(io.LimitReader(res.Body, limit))

	result := core.SendResult{
		HTTPStatus: res.StatusCode,
		Detail:     strings.TrimSpace(string(detail)),
	}
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return result, nil
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return result, fmt.Errorf("transport: endpoint returned retryable status %d", res.StatusCode)
	default:
		return result, fmt.Errorf("%w: endpoint returned status %d", core.ErrPermanentDelivery, res.StatusCode)
	}
}

func (t *WebhookTransport) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.Transport = (*WebhookTransport)(nil)
