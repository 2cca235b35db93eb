package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/inplacehq/onboardbot/internal/providers"
)

// Template identifies an approved outbound message template and its static
// header document. Meta only delivers template messages outside the 24h
// service window, so campaign sends must use one.
type Template struct {
	Name             string
	LanguageCode     string
	DocumentLink     string // optional header document
	DocumentFilename string
}

// TemplateDeliverer is implemented by channels that support approved message
// templates. Telegram has no template concept, so campaign delivery is
// WhatsApp only.
type TemplateDeliverer interface {
	DeliverTemplate(ctx context.Context, recipient, firstName string, tpl Template) error
}

// DeliverTemplate sends an approved template message with the recipient's
// first name as the body parameter.
func (c *WhatsAppClient) DeliverTemplate(ctx context.Context, recipient, firstName string, tpl Template) error {
	components := []map[string]interface{}{}
	if tpl.DocumentLink != "" {
		components = append(components, map[string]interface{}{
			"type": "header",
			"parameters": []map[string]interface{}{{
				"type": "document",
				"document": map[string]string{
					"link":     tpl.DocumentLink,
					"filename": tpl.DocumentFilename,
				},
			}},
		})
	}
	components = append(components, map[string]interface{}{
		"type": "body",
		"parameters": []map[string]interface{}{{
			"type":           "text",
			"parameter_name": "first_name",
			"text":           firstName,
		}},
	})

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "template",
		"template": map[string]interface{}{
			"name":       tpl.Name,
			"language":   map[string]string{"code": tpl.LanguageCode},
			"components": components,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal template payload: %w", err)
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
		return fmt.Errorf("whatsapp: template request failed: %w", err)
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
