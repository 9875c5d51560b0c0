// Ponder is a small think-act agent.
//
// It answers questions by alternating between a language model and a set
// of tools, and exposes the agent as a terminal chat, a one-shot command
// and an HTTP/websocket API. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]); with
// no file the built-in defaults are used.
//
// Usage:
//
//	ponder chat               Interactive chat in the terminal
//	ponder ask <question>     Ask a single question
//	ponder serve              Start the API server
//	ponder tools              List the available tools
//	ponder init [dir]         Write an example config and script
//	ponder version            Print version and build information
//	ponder -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nugget/ponder/internal/buildinfo"
	"github.com/nugget/ponder/internal/config"
)

// main only builds the OS-level environment and hands off to run, so the
// whole lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// options are the global flags.
type options struct {
	configPath string
	output     string // "text" or "json"
	logLevel   string // overrides the config file when set
}

// run is the real entry point. All OS-level dependencies are parameters;
// flags are parsed with a private FlagSet so concurrent tests do not share
// state.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options

	flags := pflag.NewFlagSet("ponder", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: auto-discover)")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	help := flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return printUsage(stdout, flags)
		}
		return err
	}
	if *help {
		return printUsage(stdout, flags)
	}
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return printUsage(stdout, flags)
	}
	command, cmdArgs := rest[0], rest[1:]

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, opts)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: ponder ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts, cmdArgs)
	case "serve":
		return runServe(ctx, stdout, opts)
	case "tools":
		return runTools(stdout, stderr, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.output)
	case "help":
		return printUsage(stdout, flags)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer, flags *pflag.FlagSet) error {
	fmt.Fprintln(w, "Ponder - a think-act agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ponder [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Interactive chat (exit or quit to leave, /reset to start over)")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  tools        List the available tools")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml and script.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, flags.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// newLogger creates a structured logger writing to w. Format must be
// "text" or "json"; anything else falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates, parses and validates the configuration. With no
// explicit path and no file in the search paths, the defaults are used and
// the returned path is empty.
func loadConfig(opts options) (*config.Config, string, error) {
	var cfg *config.Config
	cfgPath, err := config.FindConfig(opts.configPath)
	switch {
	case err == nil:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	case errors.Is(err, config.ErrNoConfig):
		if err := config.LoadEnvFiles(nil); err != nil {
			return nil, "", err
		}
		cfg = config.Default()
	default:
		return nil, "", err
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

// configuredLogger builds the logger the config asks for. Validate has
// already checked the level.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(w, level, cfg.LogFormat)
}
