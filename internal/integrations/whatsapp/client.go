package whatsapp

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

const defaultBaseURL = "https://graph.facebook.com/v17.0"

// interactive reply buttons are capped by the Graph API.
const maxButtons = 3

// TokenSource yields a currently-valid Graph API token (see
// paramstore.TokenProvider).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             *textObj `json:"text,omitempty"`
}

type textObj struct {
	Body string `json:"body"`
}

type imageMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Image            imageObj `json:"image"`
}

type imageObj struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type interactiveMessage struct {
	MessagingProduct string         `json:"messaging_product"`
	RecipientType    string         `json:"recipient_type"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Interactive      interactiveObj `json:"interactive"`
}

type interactiveObj struct {
	Type   string          `json:"type"`
	Body   textObj         `json:"body"`
	Action interactiveBtns `json:"action"`
}

type interactiveBtns struct {
	Buttons []button `json:"buttons"`
}

type button struct {
	Type  string      `json:"type"`
	Reply buttonReply `json:"reply"`
}

type buttonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends outbound messages through the WhatsApp Graph API.
type Client struct {
	baseURL    string
	phoneID    string
	httpClient *http.Client
	tokens     TokenSource
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

func NewClient(tokens TokenSource, phoneID string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("whatsapp: token source must not be nil")
	}
	phoneID = strings.TrimSpace(phoneID)
	if phoneID == "" {
		return nil, errors.New("whatsapp: phone id must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		phoneID:    phoneID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	return c.post(ctx, textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textObj{Body: body},
	})
}

// SendImage delivers an image by public URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) error {
	return c.post(ctx, imageMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "image",
		Image:            imageObj{Link: imageURL, Caption: caption},
	})
}

// SendInteractiveChoice delivers a button message; option strings double as
// the reply button ids the webhook hands back.
func (c *Client) SendInteractiveChoice(ctx context.Context, to, body string, options []string) error {
	if len(options) == 0 {
		return errors.New("whatsapp: at least one option required")
	}
	if len(options) > maxButtons {
		options = options[:maxButtons]
	}
	buttons := make([]button, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, button{
			Type:  "reply",
			Reply: buttonReply{ID: opt, Title: opt},
		})
	}
	return c.post(ctx, interactiveMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: interactiveObj{
			Type:   "button",
			Body:   textObj{Body: body},
			Action: interactiveBtns{Buttons: buttons},
		},
	})
}

func (c *Client) post(ctx context.Context, payload any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: resolve token: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal message: %w", err)
	}

	url := c.baseURL + "/" + c.phoneID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	return nil
}
