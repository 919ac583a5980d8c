package screenshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Capture dimensions match the social-preview aspect ratio the messaging
// channel renders.
const (
	viewportWidth  = 1200
	viewportHeight = 630
	maxImageBytes  = 8 << 20
)

// TokenSource yields the screenshot service's API key (see
// paramstore.TokenProvider).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("screenshot: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client renders a URL to JPEG bytes through an HTTP screenshot service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(tokens TokenSource, baseURL string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("screenshot: token source must not be nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("screenshot: base url must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Capture renders target and returns the JPEG bytes.
func (c *Client) Capture(ctx context.Context, target string) ([]byte, error) {
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("screenshot: target url must not be empty")
	}
	key, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: resolve token: %w", err)
	}

	q := url.Values{}
	q.Set("access_key", key)
	q.Set("url", target)
	q.Set("viewport_width", fmt.Sprintf("%d", viewportWidth))
	q.Set("viewport_height", fmt.Sprintf("%d", viewportHeight))
	q.Set("format", "jpg")
	captureURL := c.baseURL + "/take?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, captureURL, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: create request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screenshot: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: c.baseURL, Body: string(buf)}
	}

	img, err := io.ReadAll(io.LimitReader(res.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("screenshot: read image body: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("screenshot: empty image body")
	}
	return img, nil
}
