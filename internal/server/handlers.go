package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/boat-builder/meetingpod"
)

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}

// abortWithError maps store errors onto HTTP statuses. prefix labels unexpected failures.
func abortWithError(c *gin.Context, err error, notFound, prefix string) {
	if errors.Is(err, meetingpod.ErrSessionNotFound) {
		abortWithDetail(c, http.StatusNotFound, notFound)
		return
	}
	c.Error(err)
	abortWithDetail(c, http.StatusInternalServerError, fmt.Sprintf("%s: %s", prefix, err))
}

func (s *Server) handleUpload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sess, err := meetingpod.NewSession(req.SessionID, req.Transcript)
	switch {
	case errors.Is(err, meetingpod.ErrTranscriptRequired):
		abortWithDetail(c, http.StatusBadRequest, "Transcript is required")
		return
	case errors.Is(err, meetingpod.ErrTranscriptTooShort):
		abortWithDetail(c, http.StatusBadRequest, "Transcript too short. Please provide a valid meeting transcript.")
		return
	case err != nil:
		abortWithError(c, err, "", "Server error")
		return
	}

	unlock := s.locks.Lock(sess.ID)
	defer unlock()
	if err := s.store.SaveSession(c.Request.Context(), sess); err != nil {
		abortWithError(c, err, "", "Server error")
		return
	}
	s.registry.Clear(sess.ID)

	c.JSON(http.StatusOK, UploadResponse{
		Message:          "Transcript uploaded successfully",
		SessionID:        sess.ID,
		TranscriptLength: sess.Summary().TranscriptLength,
	})
}

func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		abortWithDetail(c, http.StatusBadRequest, "Message and session_id are required")
		return
	}

	reply, err := s.Chat(c.Request.Context(), req.SessionID, req.Message)
	if errors.Is(err, meetingpod.ErrEmptyMessage) {
		abortWithDetail(c, http.StatusBadRequest, "Message and session_id are required")
		return
	}
	if err != nil {
		abortWithError(c, err, "Session not found. Please upload a transcript first.", "Chat error")
		return
	}
	c.JSON(http.StatusOK, ChatResponse{Response: reply.Text, SessionID: req.SessionID})
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("session_id")
	sess, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err, "Session not found", "Session error")
		return
	}

	info := s.registry.Info(id)
	resp := SessionResponse{SessionSummary: sess.Summary(), Memory: info}
	model := info.Model
	if model == "" {
		model = s.opts.Model
	}
	if cost, ok := info.Usage.Cost(model); ok {
		resp.Cost = cost
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetHistory(c *gin.Context) {
	id := c.Param("session_id")
	sess, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err, "Session not found", "History error")
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{SessionID: id, ChatHistory: sess.History})
}

func (s *Server) handleGetInsights(c *gin.Context) {
	id := c.Param("session_id")
	sess, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err, "Session not found", "Insights error")
		return
	}
	c.JSON(http.StatusOK, InsightsResponse{SessionID: id, KeyInfo: meetingpod.ExtractKeyInfo(sess.Transcript)})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("session_id")
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.store.DeleteSession(c.Request.Context(), id); err != nil {
		abortWithError(c, err, "Session not found", "Delete error")
		return
	}
	s.registry.Clear(id)
	c.JSON(http.StatusOK, MessageResponse{Message: "Session deleted successfully"})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		abortWithError(c, err, "", "List error")
		return
	}
	c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions, TotalSessions: len(sessions)})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:           "healthy",
		MemorySessions:   s.registry.Len(),
		APIKeyConfigured: s.opts.APIKeyConfigured,
		Provider:         s.opts.Provider,
		Time:             time.Now().UTC(),
	}
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		s.logger.Error("Health check could not list sessions", "error", err)
		resp.Status = "degraded"
	}
	resp.ActiveSessions = len(sessions)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClearAll(c *gin.Context) {
	n, err := s.store.ClearSessions(c.Request.Context())
	if err != nil {
		abortWithError(c, err, "", "Clear error")
		return
	}
	s.registry.ClearAll()
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Cleared %d sessions successfully", n)})
}

func (s *Server) handleSchemas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"TranscriptUpload": meetingpod.GenerateSchema[UploadRequest](),
		"ChatMessage":      meetingpod.GenerateSchema[ChatRequest](),
		"HistoryEntry":     meetingpod.GenerateSchema[meetingpod.HistoryEntry](),
		"WebsocketMessage": meetingpod.GenerateSchema[WSMessage](),
	})
}

// blank reports whether s is empty once whitespace is removed.
func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
