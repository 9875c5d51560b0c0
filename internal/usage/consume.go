package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/ponder/internal/events"
)

// Consume records agent events from ch until ctx is done or ch is
// closed. Failures are logged and do not stop consumption.
func (s *Store) Consume(ctx context.Context, ch <-chan events.Event, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Handle(ctx, e); err != nil {
				logger.Warn("usage record failed", "kind", e.Kind, "error", err)
			}
		}
	}
}

// Handle records a single event. Events that carry nothing to audit are
// ignored.
func (s *Store) Handle(ctx context.Context, e events.Event) error {
	if e.Source != events.SourceAgent {
		return nil
	}
	d := e.Data

	switch e.Kind {
	case events.KindLLMResponse:
		return s.RecordLLMCall(ctx, LLMCall{
			Timestamp:      e.Timestamp,
			RunID:          str(d, "run_id"),
			ConversationID: str(d, "conversation_id"),
			Model:          str(d, "model"),
			Iteration:      num(d, "iter"),
			OK:             flag(d, "ok"),
			Duration:       time.Duration(num(d, "duration_ms")) * time.Millisecond,
			CharsIn:        num(d, "chars_in"),
			CharsOut:       num(d, "chars_out"),
			Error:          str(d, "error"),
		})
	case events.KindToolDone:
		return s.RecordToolCall(ctx, ToolCall{
			Timestamp:      e.Timestamp,
			RunID:          str(d, "run_id"),
			ConversationID: str(d, "conversation_id"),
			Tool:           str(d, "tool"),
			Iteration:      num(d, "iter"),
			OK:             flag(d, "ok"),
			Duration:       time.Duration(num(d, "duration_ms")) * time.Millisecond,
			Error:          str(d, "error"),
		})
	case events.KindRunComplete:
		return s.RecordRun(ctx, Run{
			Timestamp:      e.Timestamp,
			RunID:          str(d, "run_id"),
			ConversationID: str(d, "conversation_id"),
			Outcome:        str(d, "outcome"),
			Iterations:     num(d, "iterations"),
			Elapsed:        time.Duration(num(d, "elapsed_ms")) * time.Millisecond,
		})
	}
	return nil
}

func str(d map[string]any, key string) string {
	s, _ := d[key].(string)
	return s
}

// num accepts the integer types publishers use in-process and float64
// for events that went through JSON.
func num(d map[string]any, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func flag(d map[string]any, key string) bool {
	b, _ := d[key].(bool)
	return b
}
