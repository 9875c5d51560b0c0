// Package usage keeps an append-only SQLite audit of what agent runs did:
// every provider call, every tool call and every run outcome. It is fed
// from the event bus and answers aggregate queries for /v1/usage. It does
// not store conversation content.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// LLMCall is one provider round trip.
type LLMCall struct {
	ID             string
	Timestamp      time.Time
	RunID          string
	ConversationID string
	Model          string
	Iteration      int
	OK             bool
	Duration       time.Duration
	CharsIn        int
	CharsOut       int
	Error          string
}

// ToolCall is one tool dispatch.
type ToolCall struct {
	ID             string
	Timestamp      time.Time
	RunID          string
	ConversationID string
	Tool           string
	Iteration      int
	OK             bool
	Duration       time.Duration
	Error          string
}

// Run is the outcome of one agent run.
type Run struct {
	ID             string
	Timestamp      time.Time
	RunID          string
	ConversationID string
	Outcome        string
	Iterations     int
	Elapsed        time.Duration
}

// Summary holds aggregate totals over a time range.
type Summary struct {
	Runs            int            `json:"runs"`
	Outcomes        map[string]int `json:"outcomes"`
	LLMCalls        int            `json:"llm_calls"`
	LLMFailures     int            `json:"llm_failures"`
	ToolCalls       int            `json:"tool_calls"`
	ToolFailures    int            `json:"tool_failures"`
	EstInputTokens  int64          `json:"est_input_tokens"`
	EstOutputTokens int64          `json:"est_output_tokens"`
	AvgLLMMillis    float64        `json:"avg_llm_ms"`
}

// ToolStat aggregates calls to a single tool.
type ToolStat struct {
	Calls      int     `json:"calls"`
	Failures   int     `json:"failures"`
	AvgMillis  float64 `json:"avg_ms"`
	LastCalled string  `json:"last_called"`
}

// Store is an append-only SQLite store. All methods are safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	ownsDB bool
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewStore wraps an open database and creates the schema if needed. The
// caller keeps ownership of db.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS llm_calls (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		run_id          TEXT NOT NULL,
		conversation_id TEXT,
		model           TEXT,
		iteration       INTEGER NOT NULL,
		ok              INTEGER NOT NULL,
		duration_ms     INTEGER NOT NULL,
		chars_in        INTEGER NOT NULL,
		chars_out       INTEGER NOT NULL,
		error           TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_llm_calls_timestamp ON llm_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_llm_calls_run ON llm_calls(run_id);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		run_id          TEXT NOT NULL,
		conversation_id TEXT,
		tool            TEXT NOT NULL,
		iteration       INTEGER NOT NULL,
		ok              INTEGER NOT NULL,
		duration_ms     INTEGER NOT NULL,
		error           TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);

	CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		run_id          TEXT NOT NULL,
		conversation_id TEXT,
		outcome         TEXT NOT NULL,
		iterations      INTEGER NOT NULL,
		elapsed_ms      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	`)
	return err
}

// newID returns a time-ordered UUIDv7.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate record ID: %w", err)
	}
	return id.String(), nil
}

func fill(id *string, ts *time.Time) error {
	if *id == "" {
		v, err := newID()
		if err != nil {
			return err
		}
		*id = v
	}
	if ts.IsZero() {
		*ts = time.Now()
	}
	return nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// RecordLLMCall stores a provider call.
func (s *Store) RecordLLMCall(ctx context.Context, c LLMCall) error {
	if err := fill(&c.ID, &c.Timestamp); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_calls
			(id, timestamp, run_id, conversation_id, model, iteration, ok,
			 duration_ms, chars_in, chars_out, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, stamp(c.Timestamp), c.RunID, c.ConversationID, c.Model, c.Iteration,
		c.OK, c.Duration.Milliseconds(), c.CharsIn, c.CharsOut, c.Error,
	)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

// RecordToolCall stores a tool dispatch.
func (s *Store) RecordToolCall(ctx context.Context, c ToolCall) error {
	if err := fill(&c.ID, &c.Timestamp); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls
			(id, timestamp, run_id, conversation_id, tool, iteration, ok, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, stamp(c.Timestamp), c.RunID, c.ConversationID, c.Tool, c.Iteration,
		c.OK, c.Duration.Milliseconds(), c.Error,
	)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// RecordRun stores a run outcome.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if err := fill(&r.ID, &r.Timestamp); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, timestamp, run_id, conversation_id, outcome, iterations, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, stamp(r.Timestamp), r.RunID, r.ConversationID, r.Outcome, r.Iterations,
		r.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Summary returns aggregate totals for records within [start, end).
// Token counts are estimated at four characters per token.
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	from, to := stamp(start), stamp(end)
	sum := &Summary{Outcomes: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0),
		        COALESCE(SUM(chars_in), 0) / 4,
		        COALESCE(SUM(chars_out), 0) / 4,
		        COALESCE(AVG(duration_ms), 0)
		 FROM llm_calls WHERE timestamp >= ? AND timestamp < ?`,
		from, to,
	).Scan(&sum.LLMCalls, &sum.LLMFailures, &sum.EstInputTokens, &sum.EstOutputTokens, &sum.AvgLLMMillis)
	if err != nil {
		return nil, fmt.Errorf("query llm summary: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0)
		 FROM tool_calls WHERE timestamp >= ? AND timestamp < ?`,
		from, to,
	).Scan(&sum.ToolCalls, &sum.ToolFailures)
	if err != nil {
		return nil, fmt.Errorf("query tool summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM runs
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY outcome`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query run outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan run outcome: %w", err)
		}
		sum.Outcomes[outcome] = n
		sum.Runs += n
	}
	return sum, rows.Err()
}

// ToolStats returns per-tool totals for records within [start, end).
func (s *Store) ToolStats(ctx context.Context, start, end time.Time) (map[string]*ToolStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, COUNT(*),
		        COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0),
		        COALESCE(AVG(duration_ms), 0),
		        MAX(timestamp)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY tool
		 ORDER BY COUNT(*) DESC`,
		stamp(start), stamp(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query tool stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*ToolStat)
	for rows.Next() {
		var (
			name string
			st   ToolStat
		)
		if err := rows.Scan(&name, &st.Calls, &st.Failures, &st.AvgMillis, &st.LastCalled); err != nil {
			return nil, fmt.Errorf("scan tool stats: %w", err)
		}
		stats[name] = &st
	}
	return stats, rows.Err()
}
