// Package agent runs a language model over a conversation memory, either as
// a single completion or as a tool-calling loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"line-chat-relay/internal/domain"
)

// ErrEmptyAnswer is returned when the model produces no final text.
var ErrEmptyAnswer = errors.New("agent: model returned an empty answer")

// LLM is the chat completion capability agents are built on.
type LLM interface {
	Chat(ctx context.Context, in domain.ChatRequest) (domain.ChatMessage, error)
}

// Agent answers input given the conversation in mem. On success the input
// and the answer are appended to mem.
type Agent interface {
	Run(ctx context.Context, mem *Memory, input string) (string, error)
}

// Direct answers with one completion call and no tools.
type Direct struct {
	llm   LLM
	model string
}

var _ Agent = (*Direct)(nil)

func NewDirect(llm LLM, model string) (*Direct, error) {
	if llm == nil {
		return nil, errors.New("agent: llm must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("agent: model must not be empty")
	}
	return &Direct{llm: llm, model: model}, nil
}

func (d *Direct) Run(ctx context.Context, mem *Memory, input string) (string, error) {
	resp, err := d.llm.Chat(ctx, domain.ChatRequest{
		Model:       d.model,
		Messages:    withInput(mem, input),
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("agent: chat: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyAnswer
	}
	remember(mem, input, resp.Content)
	return resp.Content, nil
}

func withInput(mem *Memory, input string) []domain.ChatMessage {
	return append(mem.Messages(), domain.ChatMessage{Role: string(domain.RoleUser), Content: input})
}

func remember(mem *Memory, input, answer string) {
	mem.AddUserMessage(input)
	mem.AddAIMessage(answer)
}
