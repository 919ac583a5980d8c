// Package dispatch hands accepted builds to the build endpoint without
// blocking the webhook response.
package dispatch

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
)

type triggerRequest struct {
	ID string `json:"id"`
}

// HTTPTrigger fires the build entry point over HTTP. The webhook treats the
// call as fire-and-forget: the build endpoint itself is idempotent, and a
// scheduled retry sweep can re-trigger anything a lost call leaves pending.
type HTTPTrigger struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPTrigger(endpoint string, httpClient *http.Client) (*HTTPTrigger, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("dispatch: endpoint must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPTrigger{endpoint: endpoint, httpClient: httpClient}, nil
}

// Trigger posts the build id to the build endpoint. It only waits long enough
// for the request to be accepted, not for the build to run.
func (t *HTTPTrigger) Trigger(ctx context.Context, buildID string) error {
	raw, err := json.Marshal(triggerRequest{ID: buildID})
	if err != nil {
		return fmt.Errorf("dispatch: marshal trigger: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("dispatch: create trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: trigger request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	// 2xx means accepted; anything else is reported so the caller can log it.
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("dispatch: trigger returned status %d", res.StatusCode)
	}
	return nil
}
