package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"line-chat-relay/internal/agent"
	"line-chat-relay/internal/domain"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// CompletionResult is the outcome of one agent invocation.
type CompletionResult struct {
	ReplyText string
	// CompletedAt is epoch seconds.
	CompletedAt int64
}

// Orchestrator turns a user's recent history and new message into one agent
// invocation. It holds no per-user state.
type Orchestrator struct {
	params      ParamGetter
	agent       agent.Agent
	paramPrefix string
	now         func() time.Time

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
}

func NewOrchestrator(p ParamGetter, a agent.Agent, paramPrefix string) (*Orchestrator, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if a == nil {
		return nil, errors.New("usecase: agent must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &Orchestrator{
		params:      p,
		agent:       a,
		paramPrefix: paramPrefix,
		now:         time.Now,
	}, nil
}

// Complete seeds a fresh memory with the persona and priorTurns, runs the
// agent on newUserContent and returns its answer. It does not retry.
func (o *Orchestrator) Complete(ctx context.Context, priorTurns []domain.ChatMessage, newUserContent string) (CompletionResult, error) {
	persona, err := o.ensurePersona(ctx)
	if err != nil {
		return CompletionResult{}, newError(ErrorCompletion, "ssm_load_error", err)
	}

	mem := agent.NewMemory(persona)
	replayTurns(mem, priorTurns)

	reply, err := o.agent.Run(ctx, mem, newUserContent)
	if err != nil {
		return CompletionResult{}, completionError(err)
	}

	return CompletionResult{
		ReplyText:   reply,
		CompletedAt: o.now().Unix(),
	}, nil
}

// replayTurns appends user and assistant turns to mem in order. Turns with
// any other role are skipped.
func replayTurns(mem *agent.Memory, turns []domain.ChatMessage) {
	for _, t := range turns {
		switch domain.Role(t.Role) {
		case domain.RoleUser:
			mem.AddUserMessage(t.Content)
		case domain.RoleAssistant:
			mem.AddAIMessage(t.Content)
		default:
			slog.Warn("skipping history turn with unknown role", "role", t.Role, "content_len", len(t.Content))
		}
	}
}

func completionError(err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorCompletion, "openai_rate_limited", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorCompletion, "agent_timeout", err)
	}
	return newError(ErrorCompletion, "agent_error", err)
}

func (o *Orchestrator) ensurePersona(ctx context.Context) (string, error) {
	o.cacheMu.RLock()
	if o.cacheLoaded {
		defer o.cacheMu.RUnlock()
		return o.persona, nil
	}
	o.cacheMu.RUnlock()

	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	if o.cacheLoaded {
		return o.persona, nil
	}

	persona, err := o.params.GetParameter(ctx, o.paramPrefix+"/persona")
	if err != nil {
		return "", fmt.Errorf("usecase: load persona: %w", err)
	}
	persona = strings.TrimSpace(persona)
	if persona == "" {
		return "", errors.New("usecase: persona parameter is empty")
	}

	o.persona = persona
	o.cacheLoaded = true
	return persona, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
