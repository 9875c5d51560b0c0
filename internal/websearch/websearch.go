// Package websearch provides the web_search tool and the search backends
// behind it. Each backend implements [Provider]; the tool uses exactly
// one, chosen by configuration.
package websearch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultCount is the number of results returned when none is configured.
const DefaultCount = 5

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Provider is a search backend.
type Provider interface {
	// Name identifies the backend in errors and logs.
	Name() string
	// Search returns at most count results for query.
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// New returns the provider called name. url is the SearXNG instance;
// apiKey is the Brave subscription token.
func New(name, url, apiKey string) (Provider, error) {
	switch name {
	case "searxng":
		if url == "" {
			return nil, fmt.Errorf("searxng: url is required")
		}
		return NewSearXNG(url), nil
	case "brave":
		if apiKey == "" {
			return nil, fmt.Errorf("brave: api key is required")
		}
		return NewBrave(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", name)
	}
}

// FormatResults renders results as a numbered list the model can read.
func FormatResults(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No web results for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Web results for %q:", query)
	for i, r := range results {
		b.WriteString("\n\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
