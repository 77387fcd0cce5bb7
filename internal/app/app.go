// Package app assembles the relay from its configuration. Both the Lambda
// entrypoint and relayctl build on it.
package app

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"line-chat-relay/internal/agent"
	"line-chat-relay/internal/integrations/googlesearch"
	"line-chat-relay/internal/integrations/line"
	"line-chat-relay/internal/integrations/openai"
	"line-chat-relay/internal/integrations/paramstore"
	"line-chat-relay/internal/repository"
	"line-chat-relay/internal/usecase"
)

type App struct {
	Config Config
	Store  *repository.Client
	Relay  *usecase.RelayService
	LINE   *line.Client
}

func New(awsCfg aws.Config, cfg Config) (*App, error) {
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: ssm client: %w", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName)
	if err != nil {
		return nil, fmt.Errorf("app: session store: %w", err)
	}
	llm, err := openai.NewClient(params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: openai client: %w", err)
	}
	lineClient, err := line.NewClient(params, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: line client: %w", err)
	}

	var search agent.Searcher
	if cfg.AgentMode == AgentModeTools {
		search, err = googlesearch.NewClient(params, cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("app: search client: %w", err)
		}
	}
	backend, err := NewAgent(cfg, llm, search)
	if err != nil {
		return nil, err
	}

	orchestrator, err := usecase.NewOrchestrator(params, backend, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: orchestrator: %w", err)
	}
	var moderator usecase.Moderator
	if cfg.ModerationEnabled {
		moderator = llm
	}
	relay, err := usecase.NewRelayService(store, orchestrator, moderator, usecase.RelayConfig{
		WindowSize:   cfg.HistoryWindow,
		EraseCommand: cfg.EraseCommand,
	})
	if err != nil {
		return nil, fmt.Errorf("app: relay service: %w", err)
	}

	return &App{Config: cfg, Store: store, Relay: relay, LINE: lineClient}, nil
}

// NewAgent builds the backend named by cfg.AgentMode. search is only used
// by the tools backend.
func NewAgent(cfg Config, llm agent.LLM, search agent.Searcher) (agent.Agent, error) {
	switch cfg.AgentMode {
	case AgentModeDirect:
		d, err := agent.NewDirect(llm, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("app: direct agent: %w", err)
		}
		return d, nil
	case AgentModeTools:
		ws, err := agent.NewWebSearch(llm, cfg.Model, search, 0)
		if err != nil {
			return nil, fmt.Errorf("app: web search tool: %w", err)
		}
		loop, err := agent.NewToolLoop(llm, cfg.Model, []agent.Tool{ws}, cfg.MaxAgentSteps)
		if err != nil {
			return nil, fmt.Errorf("app: tool loop: %w", err)
		}
		return loop, nil
	default:
		return nil, fmt.Errorf("app: unknown agent mode %q", cfg.AgentMode)
	}
}
