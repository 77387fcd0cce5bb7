package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"line-chat-relay/internal/integrations/line"
	"line-chat-relay/internal/usecase"
)

const textEventBody = `{"destination":"Ubot","events":[{"type":"message","replyToken":"rt-1","timestamp":1700000000123,
	"source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"text","text":"hello"}}]}`

type stubRelay struct {
	out   usecase.RelayOutput
	err   error
	calls []usecase.RelayInput
}

func (s *stubRelay) Relay(_ context.Context, in usecase.RelayInput) (usecase.RelayOutput, error) {
	s.calls = append(s.calls, in)
	return s.out, s.err
}

type sentReply struct {
	token string
	text  string
}

type stubMessenger struct {
	verifyErr error
	replyErr  error
	gotSig    string
	gotBody   string
	replies   []sentReply
}

func (s *stubMessenger) VerifySignature(_ context.Context, body []byte, signature string) error {
	s.gotSig = signature
	s.gotBody = string(body)
	return s.verifyErr
}

func (s *stubMessenger) Reply(_ context.Context, replyToken, text string) error {
	s.replies = append(s.replies, sentReply{token: replyToken, text: text})
	return s.replyErr
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/callback",
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Line-Signature": "sig",
		},
		Body: body,
	}
}

func newTestHandler(t *testing.T, r Relayer, m Messenger) *Handler {
	t.Helper()
	h, err := NewHandler(r, m)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubMessenger{})
	require.Error(t, err)
	_, err = NewHandler(&stubRelay{}, nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	relay := &stubRelay{out: usecase.RelayOutput{Reply: "Hi there"}}
	msgr := &stubMessenger{}
	h := newTestHandler(t, relay, msgr)

	resp, err := h.Handle(context.Background(), makeEvent(textEventBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", resp.Body)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, "sig", msgr.gotSig)
	require.Equal(t, []usecase.RelayInput{{UserID: "U1", Timestamp: 1700000000123, Content: "hello"}}, relay.calls)
	require.Equal(t, []sentReply{{token: "rt-1", text: "Hi there"}}, msgr.replies)
}

func TestHandle_Base64Body(t *testing.T) {
	relay := &stubRelay{out: usecase.RelayOutput{Reply: "ok"}}
	msgr := &stubMessenger{}
	h := newTestHandler(t, relay, msgr)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(textEventBody)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, textEventBody, msgr.gotBody)
	require.Len(t, relay.calls, 1)

	event = makeEvent("%%%")
	event.IsBase64Encoded = true
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_SignatureFailures(t *testing.T) {
	relay := &stubRelay{}
	h := newTestHandler(t, relay, &stubMessenger{verifyErr: line.ErrInvalidSignature})
	resp, err := h.Handle(context.Background(), makeEvent(textEventBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, resp.Body, "Invalid signature")

	event := makeEvent(textEventBody)
	delete(event.Headers, "X-Line-Signature")
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h = newTestHandler(t, relay, &stubMessenger{verifyErr: errors.New("ssm unavailable")})
	resp, err = h.Handle(context.Background(), makeEvent(textEventBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	require.Empty(t, relay.calls)
}

func TestHandle_LowercaseSignatureHeader(t *testing.T) {
	msgr := &stubMessenger{}
	h := newTestHandler(t, &stubRelay{out: usecase.RelayOutput{Reply: "ok"}}, msgr)

	event := makeEvent(textEventBody)
	delete(event.Headers, "X-Line-Signature")
	event.Headers["x-line-signature"] = "lower-sig"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "lower-sig", msgr.gotSig)
}

func TestHandle_MalformedBody(t *testing.T) {
	relay := &stubRelay{}
	h := newTestHandler(t, relay, &stubMessenger{})
	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, relay.calls)
}

func TestHandle_IgnoresNonTextEvents(t *testing.T) {
	body := `{"events":[
		{"type":"follow","replyToken":"rt-1","timestamp":1,"source":{"type":"user","userId":"U1"}},
		{"type":"message","replyToken":"rt-2","timestamp":2,"source":{"type":"user","userId":"U1"},"message":{"type":"sticker"}}
	]}`
	relay := &stubRelay{}
	msgr := &stubMessenger{}
	h := newTestHandler(t, relay, msgr)

	resp, err := h.Handle(context.Background(), makeEvent(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, relay.calls)
	require.Empty(t, msgr.replies)
}

func TestHandle_MapsRelayErrorsToReplies(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "store read", err: &usecase.Error{Code: usecase.ErrorStoreRead, Reason: "dynamodb_read_error"}, want: replyDBError},
		{name: "store write", err: &usecase.Error{Code: usecase.ErrorStoreWrite, Reason: "dynamodb_erase_error"}, want: replyDBError},
		{name: "completion", err: &usecase.Error{Code: usecase.ErrorCompletion, Reason: "agent_error"}, want: replyGPTError},
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, want: replyInvalidInput},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected"}, want: replyInternal},
		{name: "unexpected", err: errors.New("boom"), want: replyInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgr := &stubMessenger{}
			h := newTestHandler(t, &stubRelay{err: tc.err}, msgr)

			resp, err := h.Handle(context.Background(), makeEvent(textEventBody))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, []sentReply{{token: "rt-1", text: tc.want}}, msgr.replies)
		})
	}
}

func TestHandle_ReplyFailureIsNotRetried(t *testing.T) {
	msgr := &stubMessenger{replyErr: &line.HTTPStatusError{StatusCode: http.StatusBadRequest}}
	h := newTestHandler(t, &stubRelay{out: usecase.RelayOutput{Reply: "ok"}}, msgr)

	resp, err := h.Handle(context.Background(), makeEvent(textEventBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, msgr.replies, 1)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubRelay{out: usecase.RelayOutput{Reply: "ok"}}, &stubMessenger{})

	event := makeEvent(textEventBody)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
