package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nugget/ponder/internal/agent"
)

// replCommands leave the chat loop.
var replCommands = map[string]bool{"exit": true, "quit": true}

// runChat reads one line at a time from stdin and prints each answer.
// Logs go to stderr so they do not interleave with the conversation.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	logger.Debug("config loaded", "path", cfgPath)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	_, closeUsage, err := a.openUsage(ctx)
	if err != nil {
		return err
	}
	defer closeUsage()

	ag, err := a.newAgent("")
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s is ready. Type exit or quit to leave, /reset to start over.\n", cfg.Agent.Name)
	return chatLoop(ctx, stdin, stdout, ag, opts.output)
}

// chatLoop is the REPL proper. It ends on exit/quit, end of input or
// cancellation.
func chatLoop(ctx context.Context, stdin io.Reader, stdout io.Writer, ag agent.Agent, output string) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case replCommands[strings.ToLower(line)]:
			fmt.Fprintln(stdout, "Goodbye.")
			return nil
		case line == "/reset":
			if err := ag.Reset(); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintln(stdout, "Conversation cleared.")
			continue
		}

		resp := ag.Run(ctx, line)
		if err := printResponse(stdout, resp, output); err != nil {
			return err
		}
	}
}

// runAsk answers a single question and exits.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	ag, err := a.newAgent("")
	if err != nil {
		return err
	}

	return printResponse(stdout, ag.Run(ctx, strings.Join(args, " ")), opts.output)
}

type responseJSON struct {
	Content    string `json:"content"`
	Outcome    string `json:"outcome"`
	Iterations int    `json:"iterations"`
	RunID      string `json:"run_id,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Error      string `json:"error,omitempty"`
}

func printResponse(w io.Writer, resp *agent.Response, output string) error {
	if output != "json" {
		_, err := fmt.Fprintln(w, resp.Content)
		return err
	}
	out := responseJSON{
		Content:    resp.Content,
		Outcome:    string(resp.Outcome),
		Iterations: resp.Iterations,
		RunID:      resp.RunID,
		ElapsedMS:  resp.Elapsed.Milliseconds(),
	}
	if resp.Err != nil {
		out.Error = resp.Err.Error()
	}
	return json.NewEncoder(w).Encode(out)
}

// runTools lists the tools the configuration enables.
func runTools(stdout, stderr io.Writer, opts options) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	registry, err := newRegistry(cfg.Tools)
	if err != nil {
		return err
	}
	list := registry.List()

	if opts.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
	}
	return tw.Flush()
}
