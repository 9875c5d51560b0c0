package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/ponder/internal/tools"
)

// ToolName is the name web_fetch registers under.
const ToolName = "web_fetch"

// Tool exposes a Fetcher as the web_fetch tool:
//
//	ACT: web_fetch https://go.dev/doc 2000
type Tool struct {
	Fetcher *Fetcher
}

// Description implements tools.Describer.
func (t Tool) Description() string {
	return "Fetch a web page and return its readable text. Usage: web_fetch <url> [max_chars]"
}

// Invoke implements tools.Tool.
func (t Tool) Invoke(ctx context.Context, args []tools.Token) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("url is required")
	}
	maxChars := 0
	if len(args) > 1 {
		n, ok := args[1].Int()
		if !ok {
			return "", fmt.Errorf("max_chars must be an integer, got %q", args[1].String())
		}
		maxChars = n
	}

	res, err := t.Fetcher.Fetch(ctx, args[0].String(), maxChars)
	if err != nil {
		return "", err
	}
	return formatResult(res), nil
}

func formatResult(r *Result) string {
	var b strings.Builder
	if r.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", r.Title)
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s", r.URL, r.Content)
	if r.Truncated {
		b.WriteString("\n[content truncated]")
	}
	return b.String()
}

// Register adds web_fetch to r.
func Register(r *tools.Registry, f *Fetcher) {
	r.Register(ToolName, Tool{Fetcher: f})
}
