package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"line-chat-relay/internal/domain"
)

const defaultMaxSteps = 5

// ErrMaxSteps is returned when the model keeps calling tools past the step budget.
var ErrMaxSteps = errors.New("agent: step limit reached without a final answer")

// Tool is an external text-in, text-out capability the model may consult.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (string, error)
}

type toolArgs struct {
	Input string `json:"input"`
}

// ToolLoop lets the model call tools repeatedly before it answers.
type ToolLoop struct {
	llm      LLM
	model    string
	tools    map[string]Tool
	specs    []domain.ToolSpec
	maxSteps int
}

var _ Agent = (*ToolLoop)(nil)

func NewToolLoop(llm LLM, model string, tools []Tool, maxSteps int) (*ToolLoop, error) {
	if llm == nil {
		return nil, errors.New("agent: llm must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("agent: model must not be empty")
	}
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	l := &ToolLoop{
		llm:      llm,
		model:    model,
		tools:    make(map[string]Tool, len(tools)),
		maxSteps: maxSteps,
	}
	for _, t := range tools {
		if t == nil {
			return nil, errors.New("agent: tool must not be nil")
		}
		if _, dup := l.tools[t.Name()]; dup {
			return nil, fmt.Errorf("agent: duplicate tool %q", t.Name())
		}
		l.tools[t.Name()] = t
		l.specs = append(l.specs, toolSpec(t))
	}
	return l, nil
}

func toolSpec(t Tool) domain.ToolSpec {
	return domain.ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{
					"type":        "string",
					"description": "What to look up, in natural language.",
				},
			},
			"required":             []string{"input"},
			"additionalProperties": false,
		},
	}
}

func (l *ToolLoop) Run(ctx context.Context, mem *Memory, input string) (string, error) {
	convo := withInput(mem, input)

	for step := 0; step < l.maxSteps; step++ {
		resp, err := l.llm.Chat(ctx, domain.ChatRequest{
			Model:       l.model,
			Messages:    convo,
			Temperature: 0,
			Tools:       l.specs,
		})
		if err != nil {
			return "", fmt.Errorf("agent: chat step %d: %w", step, err)
		}

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) == "" {
				return "", ErrEmptyAnswer
			}
			remember(mem, input, resp.Content)
			return resp.Content, nil
		}

		resp.Role = string(domain.RoleAssistant)
		convo = append(convo, resp)
		for _, call := range resp.ToolCalls {
			out, err := l.invoke(ctx, call)
			if err != nil {
				return "", err
			}
			convo = append(convo, domain.ChatMessage{
				Role:       string(domain.RoleTool),
				Content:    out,
				ToolCallID: call.ID,
			})
		}
	}
	return "", ErrMaxSteps
}

// invoke runs one tool call. Malformed calls are reported back to the model
// as the tool result; a failing tool aborts the run.
func (l *ToolLoop) invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	tool, ok := l.tools[call.Function.Name]
	if !ok {
		slog.Warn("agent: model requested unknown tool", "tool", call.Function.Name)
		return fmt.Sprintf("error: unknown tool %q", call.Function.Name), nil
	}
	var args toolArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Input) == "" {
		return `error: arguments must be a JSON object with a non-empty "input" string`, nil
	}

	slog.Info("agent: tool call", "tool", tool.Name())
	out, err := tool.Invoke(ctx, args.Input)
	if err != nil {
		return "", fmt.Errorf("agent: tool %s: %w", tool.Name(), err)
	}
	return out, nil
}
