package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsEventQueue = 256
)

// upgrader returns the websocket upgrader for this server. With no CORS
// origins configured, gorilla's same-host check applies; otherwise the
// Origin header must be one of the configured origins, or "*" allows any.
func (s *Server) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(s.corsOrigins) > 0 {
		u.CheckOrigin = s.allowedOrigin
	}
	return u
}

// allowedOrigin reports whether r's Origin is in the CORS allow list.
// Requests without an Origin header do not come from a browser.
func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.corsOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	s.logger.Warn("websocket origin rejected", "origin", origin, "path", r.URL.Path)
	return false
}

// socketError is sent in place of a ChatResponse when a frame cannot be
// run.
type socketError struct {
	Error string `json:"error"`
}

// handleChatSocket runs one agent turn per inbound JSON frame. The first
// frame may omit conversation_id; the assigned ID is returned in every
// reply and reused for the rest of the connection.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	convID := r.URL.Query().Get("conversation_id")

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("chat socket closed", "conversation_id", convID)
			} else {
				s.logger.Debug("chat socket read failed", "conversation_id", convID, "error", err)
			}
			return
		}

		if req.ConversationID == "" {
			req.ConversationID = convID
		}
		if req.Message == "" {
			if !s.writeSocket(conn, socketError{Error: "message is required"}) {
				return
			}
			continue
		}

		a, id, err := s.sessions.Get(req.ConversationID)
		if err != nil {
			s.logger.Warn("chat socket session failed", "error", err)
			if !s.writeSocket(conn, socketError{Error: err.Error()}) {
				return
			}
			continue
		}
		convID = id

		resp := a.Run(ctx, req.Message)
		if !s.writeSocket(conn, newChatResponse(id, resp)) {
			return
		}
	}
}

func (s *Server) writeSocket(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("socket write failed", "error", err)
		return false
	}
	return true
}

// handleEventSocket streams bus events as JSON frames until the client
// goes away. ?conversation_id= limits the stream to one conversation.
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	// Subscribe before the handshake completes so a client that acts
	// right after connecting sees its own events.
	ch := s.bus.Subscribe(wsEventQueue)
	defer s.bus.Unsubscribe(ch)

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := r.URL.Query().Get("conversation_id")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only services control frames and notices the close.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	s.logger.Debug("event subscriber connected", "conversation_id", filter)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			if filter != "" && e.Data["conversation_id"] != filter {
				continue
			}
			if !s.writeSocket(conn, e) {
				return
			}
		}
	}
}
