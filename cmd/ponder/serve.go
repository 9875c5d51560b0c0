package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nugget/ponder/internal/api"
	"github.com/nugget/ponder/internal/buildinfo"
	"github.com/nugget/ponder/internal/connwatch"
	"github.com/nugget/ponder/internal/llm"
)

// maxSessions bounds the conversations one server keeps in memory.
const maxSessions = 1000

// runServe starts the API server and blocks until ctx is cancelled, then
// drains in-flight requests.
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting Ponder", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"mode", cfg.Agent.Mode,
		"max_iterations", cfg.Agent.MaxIterations,
		"on_limit", cfg.Agent.OnLimit,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	store, closeUsage, err := a.openUsage(ctx)
	if err != nil {
		return err
	}
	defer closeUsage()

	sessions := api.NewSessions(a.newAgent, maxSessions)
	srv := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, cfg.Agent.Name, sessions, logger)
	srv.SetRegistry(a.registry)
	srv.SetUsage(store)
	srv.SetEventBus(a.bus)
	srv.SetCORSOrigins(cfg.Listen.CORSOrigins)
	if p, ok := a.client.(llm.Pinger); ok {
		srv.SetPinger(p)
		w := connwatch.Start(ctx, "provider", p.Ping, connwatch.DefaultSchedule(), logger, a.bus)
		defer w.Stop()
		srv.SetWatcher(w)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
