package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIModel = "gpt-4o"
	openAIAPIBase      = "https://api.openai.com/v1"

	// Per-call budget; the reply engine's retry schedule sits on top of this.
	defaultCallTimeout = 30 * time.Second
)

// OpenAIProvider implements Completer against an OpenAI-compatible
// chat completions API via net/http.
type OpenAIProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	callTimeout  time.Duration
	client       *http.Client
}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:       apiKey,
		baseURL:      openAIAPIBase,
		defaultModel: defaultOpenAIModel,
		callTimeout:  defaultCallTimeout,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type OpenAIOption func(*OpenAIProvider)

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": req.Messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp openAIResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("openai: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
