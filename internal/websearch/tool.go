package websearch

import (
	"context"
	"errors"

	"github.com/nugget/ponder/internal/tools"
)

// ToolName is the registry name of the web search tool.
const ToolName = "web_search"

// Tool searches the web. Every argument is part of the query.
type Tool struct {
	Provider Provider
	Count    int
}

// Description implements tools.Describer.
func (t Tool) Description() string {
	return "Search the web and list the top results. Usage: web_search <query>"
}

// Invoke implements tools.Tool.
func (t Tool) Invoke(ctx context.Context, args []tools.Token) (string, error) {
	query := tools.JoinArgs(args)
	if query == "" {
		return "", errors.New("query is required")
	}
	results, err := t.Provider.Search(ctx, query, t.Count)
	if err != nil {
		return "", err
	}
	return FormatResults(query, results), nil
}

// Register adds web_search backed by p to r.
func Register(r *tools.Registry, p Provider, count int) {
	r.Register(ToolName, Tool{Provider: p, Count: count})
}
