package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/boat-builder/meetingpod"
)

const (
	wsReadLimit   = 512 * 1024
	wsReadTimeout = 5 * time.Minute
	wsWriteWait   = 10 * time.Second
)

func (s *Server) upgrader() websocket.Upgrader {
	origins := s.opts.AllowOrigins
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 45 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			for _, allowed := range origins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleWebsocket runs chat turns for one session over a websocket. Each {"type":"message"}
// frame is answered with one {"type":"message"} frame carrying the reply.
func (s *Server) handleWebsocket(c *gin.Context) {
	id := c.Param("session_id")
	if _, err := s.store.GetSession(c.Request.Context(), id); err != nil {
		abortWithError(c, err, "Session not found. Please upload a transcript first.", "Websocket error")
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "sessionID", id, "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("Websocket connected", "sessionID", id, "remote", c.ClientIP())

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	ctx := c.Request.Context()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("Websocket closed unexpectedly", "sessionID", id, "error", err)
			} else {
				s.logger.Info("Websocket disconnected", "sessionID", id)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		out := s.handleFrame(c, id, data)
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(out); err != nil {
			s.logger.Warn("Websocket write failed", "sessionID", id, "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) handleFrame(c *gin.Context, sessionID string, data []byte) WSMessage {
	var in WSMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return WSMessage{Type: "error", Content: "Invalid message format"}
	}

	switch in.Type {
	case "ping":
		return WSMessage{Type: "pong"}
	case "message", "":
		reply, err := s.Chat(c.Request.Context(), sessionID, in.Content)
		switch {
		case errors.Is(err, meetingpod.ErrEmptyMessage):
			return WSMessage{Type: "error", Content: "Message is required"}
		case errors.Is(err, meetingpod.ErrSessionNotFound):
			return WSMessage{Type: "error", Content: "Session not found. Please upload a transcript first."}
		}
		if err != nil {
			s.logger.Error("Websocket chat failed", "sessionID", sessionID, "error", err)
			return WSMessage{Type: "error", Content: "Chat error: " + err.Error()}
		}
		return WSMessage{Type: "message", Content: reply.Text, State: string(reply.State)}
	default:
		return WSMessage{Type: "error", Content: "Unsupported message type: " + in.Type}
	}
}
