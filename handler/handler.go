package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"line-chat-relay/internal/integrations/line"
	"line-chat-relay/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerLineSignature = "X-Line-Signature"

	invalidSignatureText = "ERROR: Invalid signature. Please check your channel access token / channel secret."
)

// User-facing replies for failed requests.
const (
	replyDBError      = "DB Error"
	replyGPTError     = "GPT Error"
	replyInvalidInput = "INFO: テキストメッセージを送信してください。"
	replyInternal     = "Internal Error"
)

type Relayer interface {
	Relay(ctx context.Context, in usecase.RelayInput) (usecase.RelayOutput, error)
}

// Messenger is the messaging platform boundary.
type Messenger interface {
	VerifySignature(ctx context.Context, body []byte, signature string) error
	Reply(ctx context.Context, replyToken, text string) error
}

// Handler serves the LINE webhook behind API Gateway.
type Handler struct {
	relay     Relayer
	messenger Messenger
}

func NewHandler(r Relayer, m Messenger) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	if m == nil {
		return nil, errors.New("handler: messenger must not be nil")
	}
	return &Handler{relay: r, messenger: m}, nil
}

// Handle verifies the webhook signature and relays every user text event.
// Failures of individual events are answered to the user and logged; they
// never fail the invocation.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := slog.With("correlation_id", correlationID)

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			log.Warn("webhook body is not valid base64", "err", err)
			return textResponse(http.StatusBadRequest, "ERROR: malformed body", correlationID), nil
		}
		body = decoded
	}

	signature := headerValue(req.Headers, headerLineSignature)
	if signature == "" {
		log.Warn("webhook request without signature")
		return textResponse(http.StatusBadRequest, invalidSignatureText, correlationID), nil
	}
	if err := h.messenger.VerifySignature(ctx, body, signature); err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			log.Error(invalidSignatureText)
			return textResponse(http.StatusBadRequest, invalidSignatureText, correlationID), nil
		}
		log.Error("signature verification unavailable", "err", err)
		return textResponse(http.StatusInternalServerError, "ERROR: internal error", correlationID), nil
	}

	evts, err := line.ParseWebhook(body)
	if err != nil {
		log.Warn("malformed webhook body", "err", err)
		return textResponse(http.StatusBadRequest, "ERROR: malformed body", correlationID), nil
	}

	for _, e := range evts {
		if !e.IsUserText() {
			log.Debug("ignoring webhook event", "type", e.Type, "message_type", e.Message.Type)
			continue
		}
		h.handleText(ctx, log.With("user_id", e.Source.UserID), e)
	}

	return textResponse(http.StatusOK, "OK", correlationID), nil
}

func (h *Handler) handleText(ctx context.Context, log *slog.Logger, e line.Event) {
	out, err := h.relay.Relay(ctx, usecase.RelayInput{
		UserID:    e.Source.UserID,
		Timestamp: e.Timestamp,
		Content:   e.Message.Text,
	})
	text := out.Reply
	if err != nil {
		log.Error("relay failed", "code", usecase.CodeOf(err), "err", err)
		text = failureReply(err)
	}

	if err := h.messenger.Reply(ctx, e.ReplyToken, text); err != nil {
		log.Error("failed to send reply", "err", err)
	}
}

func failureReply(err error) string {
	switch usecase.CodeOf(err) {
	case usecase.ErrorStoreRead, usecase.ErrorStoreWrite:
		return replyDBError
	case usecase.ErrorCompletion:
		return replyGPTError
	case usecase.ErrorInvalidInput:
		return replyInvalidInput
	default:
		return replyInternal
	}
}

// headerValue looks a header up case-insensitively; API Gateway may
// lower-case header names.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func textResponse(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":      "text/plain",
			headerCorrelationID: correlationID,
		},
		Body: body,
	}
}
