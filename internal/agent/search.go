package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"line-chat-relay/internal/domain"
	"line-chat-relay/internal/integrations/googlesearch"
)

const queryPrompt = "Rewrite the user's request as one short web search query. " +
	"Reply with the query only, without quotes or explanation."

// Searcher is the web search backend used by WebSearch.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]googlesearch.Result, error)
}

// WebSearch is a Tool that turns a natural-language request into a search
// query with a secondary model call, then returns the top results as text.
type WebSearch struct {
	llm        LLM
	model      string
	searcher   Searcher
	maxResults int
}

var _ Tool = (*WebSearch)(nil)

func NewWebSearch(llm LLM, model string, searcher Searcher, maxResults int) (*WebSearch, error) {
	if llm == nil {
		return nil, errors.New("agent: llm must not be nil")
	}
	if searcher == nil {
		return nil, errors.New("agent: searcher must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("agent: model must not be empty")
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearch{llm: llm, model: model, searcher: searcher, maxResults: maxResults}, nil
}

func (w *WebSearch) Name() string { return "web_search" }

func (w *WebSearch) Description() string {
	return "Search the web. Use for current events or facts you are unsure about."
}

func (w *WebSearch) Invoke(ctx context.Context, input string) (string, error) {
	query, err := w.formulateQuery(ctx, input)
	if err != nil {
		return "", err
	}
	results, err := w.searcher.Search(ctx, query, w.maxResults)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	return formatResults(query, results), nil
}

func (w *WebSearch) formulateQuery(ctx context.Context, input string) (string, error) {
	resp, err := w.llm.Chat(ctx, domain.ChatRequest{
		Model: w.model,
		Messages: []domain.ChatMessage{
			{Role: string(domain.RoleSystem), Content: queryPrompt},
			{Role: string(domain.RoleUser), Content: input},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("web search: formulate query: %w", err)
	}
	query := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if query == "" {
		query = strings.TrimSpace(input)
	}
	return query, nil
}

func formatResults(query string, results []googlesearch.Result) string {
	if len(results) == 0 {
		return "No results found for: " + query
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n   %s\n", i+1, r.Title, r.Link, strings.TrimSpace(r.Snippet))
	}
	return sb.String()
}
