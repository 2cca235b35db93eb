package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inplacehq/onboardbot/internal/providers"
)

const graphAPIBase = "https://graph.facebook.com/v19.0"

// WhatsAppClient delivers text messages through the Meta Graph API.
type WhatsAppClient struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	client        *http.Client
}

// NewWhatsAppClient creates a Graph API delivery client for the business
// phone number.
func NewWhatsAppClient(accessToken, phoneNumberID string, opts ...WhatsAppOption) *WhatsAppClient {
	c := &WhatsAppClient{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		baseURL:       graphAPIBase,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type WhatsAppOption func(*WhatsAppClient)

func WithWhatsAppBaseURL(baseURL string) WhatsAppOption {
	return func(c *WhatsAppClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func (c *WhatsAppClient) Name() string { return "whatsapp" }

func (c *WhatsAppClient) Deliver(ctx context.Context, recipient, text string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &providers.HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("whatsapp: %s", string(body)),
			RetryAfter: providers.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return nil
}
