package vercel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sitegen-agent/internal/domain"
)

const (
	defaultBaseURL      = "https://api.vercel.com"
	defaultPollInterval = 5 * time.Second
)

// TokenSource yields a currently-valid API token (see paramstore.TokenProvider).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// deployRequest is the create-deployment body. Files are inlined; every site
// is a single static index.html.
type deployRequest struct {
	Name    string       `json:"name"`
	Project string       `json:"project,omitempty"`
	Target  string       `json:"target"`
	Public  bool         `json:"public"`
	Files   []deployFile `json:"files"`
	Alias   []string     `json:"alias,omitempty"`
}

type deployFile struct {
	File string `json:"file"`
	Data string `json:"data"`
}

// deployResponse is the minimal shape of both the create and the status
// endpoints.
type deployResponse struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ProjectID  string `json:"projectId"`
	ReadyState string `json:"readyState"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("vercel: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client deploys static markup to Vercel. The hosting slot is the Vercel
// project id: redeploying into the same project keeps the alias stable.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokens       TokenSource
	pollInterval time.Duration
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

func NewClient(tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("vercel: token source must not be nil")
	}
	c := &Client{
		baseURL: defaultBaseURL,
		// Deploys take minutes; deadlines come from the orchestrator's phase
		// context.
		httpClient:   &http.Client{},
		tokens:       tokens,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// stableAlias derives the user's permanent subdomain from their phone number,
// so edit builds land on the same address.
func stableAlias(ownerKey string) string {
	digits := make([]byte, 0, len(ownerKey))
	for _, r := range ownerKey {
		if r >= '0' && r <= '9' {
			digits = append(digits, byte(r))
		}
	}
	if len(digits) > 8 {
		digits = digits[len(digits)-8:]
	}
	return "site-" + string(digits)
}

// Deploy creates a deployment and waits for it to become ready. A non-empty
// slotID redeploys into the existing project; otherwise Vercel creates one
// and its id becomes the build's hosting slot.
func (c *Client) Deploy(ctx context.Context, markup, slotID, ownerKey string) (domain.Deployment, error) {
	if strings.TrimSpace(markup) == "" {
		return domain.Deployment{}, errors.New("vercel: markup must not be empty")
	}
	alias := stableAlias(ownerKey)

	body := deployRequest{
		Name:    alias,
		Project: slotID,
		Target:  "production",
		Public:  true,
		Files:   []deployFile{{File: "index.html", Data: markup}},
		Alias:   []string{alias + ".vercel.app"},
	}
	created, err := c.doJSON(ctx, http.MethodPost, "/v13/deployments", body)
	if err != nil {
		return domain.Deployment{}, err
	}
	if created.ID == "" {
		return domain.Deployment{}, errors.New("vercel: create deployment response missing id")
	}

	final, err := c.waitReady(ctx, created)
	if err != nil {
		return domain.Deployment{}, err
	}
	if final.ProjectID == "" {
		return domain.Deployment{}, errors.New("vercel: deployment response missing project id")
	}
	return domain.Deployment{
		URL:    "https://" + alias + ".vercel.app",
		SlotID: final.ProjectID,
	}, nil
}

// waitReady polls the deployment until Vercel reports READY. A terminal
// provider state fails immediately; the context deadline bounds the wait.
func (c *Client) waitReady(ctx context.Context, d deployResponse) (deployResponse, error) {
	for {
		switch d.ReadyState {
		case "READY":
			return d, nil
		case "ERROR", "CANCELED":
			return deployResponse{}, fmt.Errorf("vercel: deployment %s ended in state %s", d.ID, d.ReadyState)
		}

		t := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return deployResponse{}, fmt.Errorf("vercel: deployment %s readiness wait: %w", d.ID, ctx.Err())
		case <-t.C:
		}

		next, err := c.doJSON(ctx, http.MethodGet, "/v13/deployments/"+d.ID, nil)
		if err != nil {
			return deployResponse{}, err
		}
		next.ID = d.ID
		d = next
	}
}

// Probe issues a plain GET against a deployed URL and succeeds on any 2xx.
// Used by the orchestrator's readiness verification.
func (c *Client) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("vercel: create probe request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vercel: probe failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: ""}
	}
	return nil
}

// DeleteSlot removes the project backing a hosting slot. Used by the cleanup
// janitor once no active build needs the slot.
func (c *Client) DeleteSlot(ctx context.Context, slotID string) error {
	if strings.TrimSpace(slotID) == "" {
		return errors.New("vercel: slot id must not be empty")
	}
	_, err := c.doJSON(ctx, http.MethodDelete, "/v9/projects/"+slotID, nil)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (deployResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return deployResponse{}, fmt.Errorf("vercel: resolve token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return deployResponse{}, fmt.Errorf("vercel: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return deployResponse{}, fmt.Errorf("vercel: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return deployResponse{}, fmt.Errorf("vercel: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return deployResponse{}, fmt.Errorf("vercel: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return deployResponse{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(raw)}
	}

	var payload deployResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return deployResponse{}, fmt.Errorf("vercel: decode response: %w", err)
		}
	}
	return payload, nil
}
