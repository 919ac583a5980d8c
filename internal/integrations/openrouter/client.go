package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"sitegen-agent/internal/domain"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// chatRequest is the minimal request shape for the chat completions endpoint.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
}

// chatResponse is the minimal response shape returned by the endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openrouter: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates complete site markup through an OpenAI-compatible chat
// completions API.
type Client struct {
	baseURL     string
	referer     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	cfgOnce      sync.Once
	apiKey       string
	model        string
	systemPrompt string
	cfgErr       error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client backed by the given paramstore getter for API
// key, model and system prompt retrieval. Those are fetched from SSM on the
// first generation call and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix, referer string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openrouter: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openrouter: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL: defaultBaseURL,
		referer: referer,
		// Generation runs for minutes; the per-call deadline comes from the
		// orchestrator's phase context, not a client-wide timeout.
		httpClient:  &http.Client{},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ensureConfig(ctx context.Context) error {
	c.cfgOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/openrouter-token")
		if err != nil {
			c.cfgErr = fmt.Errorf("openrouter: fetch token: %w", err)
			return
		}
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			c.cfgErr = fmt.Errorf("openrouter: unmarshal token value as JSON: %w", err)
			return
		}
		if tp.Token == "" {
			c.cfgErr = errors.New("openrouter: API token is empty")
			return
		}
		model, err := c.getter.GetParameter(ctx, c.paramPrefix+"/config/model")
		if err != nil {
			c.cfgErr = fmt.Errorf("openrouter: fetch model: %w", err)
			return
		}
		systemPrompt, err := c.getter.GetParameter(ctx, c.paramPrefix+"/site_prompt")
		if err != nil {
			c.cfgErr = fmt.Errorf("openrouter: fetch system prompt: %w", err)
			return
		}
		c.apiKey = tp.Token
		c.model = strings.TrimSpace(model)
		c.systemPrompt = systemPrompt
	})
	return c.cfgErr
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/chat/completions"
}

// GenerateSiteMarkup asks the model for a complete HTML page for the prompt.
// The returned markup is fence-stripped and guaranteed to be a full document.
func (c *Client) GenerateSiteMarkup(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("openrouter: prompt must not be empty")
	}
	if err := c.ensureConfig(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Crie um site completo para: %q", prompt)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openrouter: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
		req.Header.Set("X-Title", "Site Generator")
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("openrouter: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openrouter: no choices in response")
	}
	content := strings.TrimSpace(payload.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("openrouter: empty completion content")
	}

	return EnsureCompleteHTML(stripFences(content)), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
