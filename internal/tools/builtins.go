package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultCorpus is searched by the search tool when no corpus is
// configured.
var DefaultCorpus = []string{
	"Python is a programming language",
	"JavaScript is a front-end development language",
	"Java is an enterprise development language",
	"C++ is a systems programming language",
	"Go is a cloud-native development language",
}

// RegisterBuiltins registers add, search and terminate. An empty corpus
// falls back to DefaultCorpus.
func RegisterBuiltins(r *Registry, corpus []string) {
	if len(corpus) == 0 {
		corpus = DefaultCorpus
	}

	r.RegisterFunc("add",
		"Add two or more integers. Usage: add <a> <b> [...]",
		handleAdd)
	r.RegisterFunc("search",
		"Search the knowledge base for entries containing a phrase. Usage: search <query>",
		searchHandler(corpus))
	r.RegisterFunc("terminate",
		"End the task when it is complete. Usage: terminate [reason]",
		handleTerminate)
}

func handleAdd(_ context.Context, args []Token) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("expected at least 2 integers, got %d", len(args))
	}

	sum := 0
	for i, a := range args {
		n, ok := a.Int()
		if !ok {
			return "", fmt.Errorf("argument %d (%q) is not an integer", i+1, a.String())
		}
		sum += n
	}
	return strconv.Itoa(sum), nil
}

func searchHandler(corpus []string) Func {
	return func(_ context.Context, args []Token) (string, error) {
		query := strings.TrimSpace(JoinArgs(args))
		if query == "" {
			return "", fmt.Errorf("query is required")
		}

		needle := strings.ToLower(query)
		var matches []string
		for _, entry := range corpus {
			if strings.Contains(strings.ToLower(entry), needle) {
				matches = append(matches, entry)
			}
		}

		if len(matches) == 0 {
			return fmt.Sprintf("No entries found for %q", query), nil
		}
		return fmt.Sprintf("Found %d entries for %q:\n- %s", len(matches), query, strings.Join(matches, "\n- ")), nil
	}
}

func handleTerminate(_ context.Context, args []Token) (string, error) {
	if reason := JoinArgs(args); reason != "" {
		return "Task terminated: " + reason, nil
	}
	return "Task terminated.", nil
}
