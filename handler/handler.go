// Package handler adapts API Gateway proxy events to the use cases: webhook
// verification and message intake, the build entry point, and the cleanup
// sweep.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"sitegen-agent/internal/usecase"
)

const triggerTimeout = 5 * time.Second

// IntakeUseCase advances a conversation for one inbound message.
type IntakeUseCase interface {
	HandleMessage(ctx context.Context, in usecase.InboundMessage) (string, error)
}

// BuildUseCase runs one build to a terminal state.
type BuildUseCase interface {
	StartBuild(ctx context.Context, id string) error
}

// CleanupUseCase performs one cleanup sweep.
type CleanupUseCase interface {
	Run(ctx context.Context) (int, error)
}

// BuildTrigger hands an accepted build to the build endpoint without making
// the webhook wait for the build itself.
type BuildTrigger interface {
	Trigger(ctx context.Context, buildID string) error
}

// webhookPayload is the subset of the WhatsApp webhook envelope we consume.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text *struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive *struct {
						ButtonReply *struct {
							ID string `json:"id"`
						} `json:"button_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type buildRequestBody struct {
	ID string `json:"id"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	BuildID string `json:"buildId,omitempty"`
}

type buildResponse struct {
	Status string `json:"status"`
}

type cleanupResponse struct {
	Expired int `json:"expired"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	intake      IntakeUseCase
	builds      BuildUseCase
	janitor     CleanupUseCase
	trigger     BuildTrigger
	verifyToken string
}

func NewHandler(intake IntakeUseCase, builds BuildUseCase, janitor CleanupUseCase, trigger BuildTrigger, verifyToken string) (*Handler, error) {
	if intake == nil || builds == nil || janitor == nil || trigger == nil {
		return nil, errors.New("handler: dependencies must not be nil")
	}
	if strings.TrimSpace(verifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	return &Handler{
		intake:      intake,
		builds:      builds,
		janitor:     janitor,
		trigger:     trigger,
		verifyToken: verifyToken,
	}, nil
}

// Handle routes one API Gateway event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := slog.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	switch {
	case event.HTTPMethod == http.MethodGet && event.Path == "/webhook":
		return h.verifyWebhook(event, corrID, log), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/webhook":
		return h.receiveWebhook(ctx, event, corrID, log), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/build":
		return h.runBuild(ctx, event, corrID, log), nil
	case event.HTTPMethod == http.MethodPost && event.Path == "/cleanup":
		return h.runCleanup(ctx, corrID, log), nil
	}
	return errorResp(http.StatusNotFound, corrID, errorResponse{Error: "NOT_FOUND"}), nil
}

// verifyWebhook answers the Meta subscription handshake: echo the challenge
// when the verify token matches, reject otherwise.
func (h *Handler) verifyWebhook(event events.APIGatewayProxyRequest, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	mode := event.QueryStringParameters["hub.mode"]
	token := event.QueryStringParameters["hub.verify_token"]
	challenge := event.QueryStringParameters["hub.challenge"]

	if mode != "subscribe" || token != h.verifyToken {
		log.Warn("webhook verification rejected", "mode", mode)
		return errorResp(http.StatusForbidden, corrID, errorResponse{Error: "FORBIDDEN"})
	}
	log.Info("webhook verified")
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    textHeaders(corrID),
		Body:       challenge,
	}
}

// receiveWebhook ingests inbound messages. It answers 200 even when intake
// rejects a message: Meta redelivers anything else, and a rejected prompt is a
// conversation outcome, not a delivery failure.
func (h *Handler) receiveWebhook(ctx context.Context, event events.APIGatewayProxyRequest, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	var payload webhookPayload
	if err := json.Unmarshal([]byte(event.Body), &payload); err != nil {
		log.Warn("malformed webhook payload", "err", err)
		return errorResp(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorValidation), Reason: "malformed_payload"})
	}

	in, ok := inboundFromPayload(payload)
	if !ok {
		// Status updates, read receipts and other non-message events.
		return jsonResp(http.StatusOK, corrID, webhookResponse{Status: "ignored"})
	}

	buildID, err := h.intake.HandleMessage(ctx, in)
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorValidation {
			log.Info("message rejected", "reason", ucErr.Reason)
			return jsonResp(http.StatusOK, corrID, webhookResponse{Status: "rejected"})
		}
		log.Error("intake failed", "err", err)
		return jsonResp(http.StatusOK, corrID, webhookResponse{Status: "error"})
	}

	if buildID != "" {
		triggerCtx, cancel := context.WithTimeout(ctx, triggerTimeout)
		defer cancel()
		if err := h.trigger.Trigger(triggerCtx, buildID); err != nil {
			// The build stays pending; the scheduled sweep re-triggers it.
			log.Error("build trigger failed", "build_id", buildID, "err", err)
		}
	}
	return jsonResp(http.StatusOK, corrID, webhookResponse{Status: "accepted", BuildID: buildID})
}

func (h *Handler) runBuild(ctx context.Context, event events.APIGatewayProxyRequest, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	var body buildRequestBody
	if err := json.Unmarshal([]byte(event.Body), &body); err != nil || strings.TrimSpace(body.ID) == "" {
		return errorResp(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorValidation), Reason: "missing_build_id"})
	}

	if err := h.builds.StartBuild(ctx, body.ID); err != nil {
		log.Error("build run failed", "build_id", body.ID, "err", err)
		return errorFromUseCase(corrID, err)
	}
	return jsonResp(http.StatusOK, corrID, buildResponse{Status: "done"})
}

func (h *Handler) runCleanup(ctx context.Context, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	expired, err := h.janitor.Run(ctx)
	if err != nil {
		log.Error("cleanup sweep failed", "err", err)
		return errorFromUseCase(corrID, err)
	}
	return jsonResp(http.StatusOK, corrID, cleanupResponse{Expired: expired})
}

func inboundFromPayload(p webhookPayload) (usecase.InboundMessage, bool) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				in := usecase.InboundMessage{From: msg.From, MessageID: msg.ID}
				if msg.Text != nil {
					in.Text = msg.Text.Body
				}
				if msg.Interactive != nil && msg.Interactive.ButtonReply != nil {
					in.ButtonID = msg.Interactive.ButtonReply.ID
				}
				return in, true
			}
		}
	}
	return usecase.InboundMessage{}, false
}

func errorFromUseCase(corrID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return errorResp(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorValidation:
		status = http.StatusBadRequest
	case usecase.ErrorDuplicateRequest, usecase.ErrorInvalidTransition:
		status = http.StatusConflict
	case usecase.ErrorTransientProvider:
		status = http.StatusServiceUnavailable
	case usecase.ErrorTerminalProvider:
		status = http.StatusBadGateway
	}
	return errorResp(status, corrID, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResp(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    jsonHeaders(corrID),
			Body:       `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    jsonHeaders(corrID),
		Body:       string(raw),
	}
}

func errorResp(status int, corrID string, body errorResponse) events.APIGatewayProxyResponse {
	return jsonResp(status, corrID, body)
}

func jsonHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}

func textHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "text/plain",
		"X-Correlation-Id": corrID,
	}
}
