// Package connwatch tracks whether a dependency, normally the model
// provider, is reachable. A [Watcher] probes in the background: with
// exponential backoff while the service is down, and at a fixed poll
// interval while it is up. Transitions are logged and published on the
// event bus.
//
// This is distinct from httpkit's transport-level retry, which absorbs
// sub-second dial errors inside a single request.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/ponder/internal/events"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing. Zero fields take the values from
// [DefaultSchedule].
type Schedule struct {
	// InitialDelay is the first retry delay after a failed probe.
	InitialDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// PollInterval is the delay between probes while the service is up.
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultSchedule retries after 2s, 4s, 8s ... up to a minute, and
// polls a healthy service once a minute.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay < s.InitialDelay {
		s.MaxDelay = max(d.MaxDelay, s.InitialDelay)
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

// Status is a point-in-time view of a watched service, shaped for the
// health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Checked   bool      `json:"checked"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	name     string
	probe    ProbeFunc
	schedule Schedule
	logger   *slog.Logger
	bus      *events.Bus

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

// Start probes name immediately and keeps probing until ctx is
// cancelled or Stop is called. bus may be nil.
func Start(ctx context.Context, name string, probe ProbeFunc, schedule Schedule, logger *slog.Logger, bus *events.Bus) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:     name,
		probe:    probe,
		schedule: schedule.withDefaults(),
		logger:   logger.With("service", name),
		bus:      bus,
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   Status{Name: name},
	}
	go w.run(ctx)
	return w
}

// Status returns the latest probe result.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	return w.Status().Ready
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.schedule.InitialDelay
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := w.schedule.PollInterval
		if err != nil {
			wait = delay
			delay = min(delay*2, w.schedule.MaxDelay)
		} else {
			delay = w.schedule.InitialDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe and records the result, reporting transitions.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.schedule.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.mu.Lock()
	first := !w.status.Checked
	wasReady := w.status.Ready
	w.status.Checked = true
	w.status.LastCheck = time.Now()
	w.status.Ready = err == nil
	if err != nil {
		w.status.LastError = err.Error()
		w.status.Failures++
	} else {
		w.status.LastError = ""
		w.status.Failures = 0
	}
	failures := w.status.Failures
	w.mu.Unlock()

	switch {
	case err == nil && (first || !wasReady):
		w.logger.Info("service reachable")
		w.bus.Emit(events.SourceConnwatch, events.KindServiceReady, map[string]any{"service": w.name})
	case err != nil && (first || wasReady):
		w.logger.Warn("service unreachable", "error", err)
		w.bus.Emit(events.SourceConnwatch, events.KindServiceDown, map[string]any{
			"service": w.name,
			"error":   err.Error(),
		})
	case err != nil:
		w.logger.Debug("service still unreachable", "failures", failures, "error", err)
	}
	return err
}
