package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/nugget/ponder/internal/agent"
	"github.com/nugget/ponder/internal/events"
	"github.com/nugget/ponder/internal/memory"
)

// ChatRequest is the body of POST /v1/chat and each inbound websocket
// frame on /v1/ws.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the result of one agent run.
type ChatResponse struct {
	Response       string `json:"response"`
	HTML           string `json:"html,omitempty"`
	Outcome        string `json:"outcome"`
	Iterations     int    `json:"iterations"`
	RunID          string `json:"run_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	ElapsedMillis  int64  `json:"elapsed_ms"`
	Error          string `json:"error,omitempty"`
}

// renderMarkdown converts a model answer to an HTML fragment. Rendering
// failures leave the fragment empty; the plain text is always sent.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// newChatResponse converts an agent response for the wire.
func newChatResponse(convID string, resp *agent.Response) ChatResponse {
	out := ChatResponse{
		Response:       resp.Content,
		HTML:           renderMarkdown(resp.Content),
		Outcome:        string(resp.Outcome),
		Iterations:     resp.Iterations,
		RunID:          resp.RunID,
		ConversationID: convID,
		ElapsedMillis:  resp.Elapsed.Milliseconds(),
	}
	if resp.Err != nil {
		out.Error = resp.Err.Error()
	}
	return out
}

// handleChat runs one turn of a conversation.
// POST /v1/chat {"message": "what is 15 + 27?"}
//
// Agent failures are part of the conversation and come back as 200 with
// an outcome; only malformed requests and session errors are HTTP errors.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	a, convID, err := s.sessions.Get(req.ConversationID)
	if err != nil {
		s.sessionError(w, err)
		return
	}

	resp := a.Run(r.Context(), req.Message)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, newChatResponse(convID, resp), s.logger)
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrSessionLimit) {
		s.errorResponse(w, http.StatusTooManyRequests, err.Error())
		return
	}
	s.logger.Error("session setup failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "could not start conversation")
}

// handleSessionReset clears a conversation back to its system prompt.
// POST /v1/session/reset {"conversation_id": "..."}
func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" {
		s.errorResponse(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	a, ok := s.sessions.Lookup(req.ConversationID)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err := a.Reset(); err != nil {
		s.logger.Error("session reset failed", "conversation_id", req.ConversationID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "reset failed")
		return
	}

	s.logger.Info("session reset", "conversation_id", req.ConversationID)
	s.bus.Emit(events.SourceAPI, events.KindSessionReset, map[string]any{
		"conversation_id": req.ConversationID,
	})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":          "reset",
		"conversation_id": req.ConversationID,
	}, s.logger)
}

// handleSessionHistory returns a conversation's messages.
// GET /v1/session/history?conversation_id=...
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("conversation_id")
	if id == "" {
		s.errorResponse(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	a, ok := s.sessions.Lookup(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs := a.History()
	if r.URL.Query().Get("system") != "true" && len(msgs) > 0 && msgs[0].Role == memory.RoleSystem {
		msgs = msgs[1:]
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation_id": id,
		"count":           len(msgs),
		"messages":        msgs,
	}, s.logger)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.IDs()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"count": len(ids), "conversations": ids}, s.logger)
}
