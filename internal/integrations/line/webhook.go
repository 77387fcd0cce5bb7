package line

import (
	"encoding/json"
	"fmt"
)

// Event is the subset of a LINE webhook event the relay consumes.
type Event struct {
	Type       string  `json:"type"`
	ReplyToken string  `json:"replyToken"`
	Timestamp  int64   `json:"timestamp"`
	Source     Source  `json:"source"`
	Message    Message `json:"message"`
}

type Source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// IsUserText reports whether e is a text message sent by a user.
func (e Event) IsUserText() bool {
	return e.Type == "message" && e.Message.Type == "text" && e.Source.UserID != "" && e.ReplyToken != ""
}

// ParseWebhook decodes a webhook request body. Signature verification must
// happen before this is called.
func ParseWebhook(body []byte) ([]Event, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("line: decode webhook: %w", err)
	}
	return wb.Events, nil
}
