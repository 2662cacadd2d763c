// Package server exposes the meeting chat over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boat-builder/meetingpod"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Addr         string
	AllowOrigins []string
	// Provider and APIKeyConfigured are reported by /health.
	Provider         string
	APIKeyConfigured bool
	// Model prices the per-session usage reported by GET /session/:id.
	Model string
}

// Server wires the session store and the orchestrator to HTTP routes.
type Server struct {
	opts         Options
	store        meetingpod.Storage
	orchestrator *meetingpod.ResponseOrchestrator
	registry     *meetingpod.SessionMemoryRegistry
	locks        *keyedMutex
	engine       *gin.Engine
	logger       *slog.Logger
}

func New(store meetingpod.Storage, orchestrator *meetingpod.ResponseOrchestrator, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:         opts,
		store:        store,
		orchestrator: orchestrator,
		registry:     orchestrator.Registry(),
		locks:        newKeyedMutex(),
		engine:       gin.New(),
		logger:       slog.Default(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.engine
	e.Use(gin.Recovery(), requestID(), requestLogger(s.logger), cors(s.opts.AllowOrigins))

	e.POST("/upload", s.handleUpload)
	e.POST("/chat", s.handleChat)
	e.GET("/session/:session_id", s.handleGetSession)
	e.GET("/session/:session_id/history", s.handleGetHistory)
	e.GET("/session/:session_id/insights", s.handleGetInsights)
	e.DELETE("/session/:session_id", s.handleDeleteSession)
	e.GET("/sessions", s.handleListSessions)
	e.GET("/health", s.handleHealth)
	e.POST("/clear-all", s.handleClearAll)
	e.GET("/schemas", s.handleSchemas)
	e.GET("/ws/:session_id", s.handleWebsocket)
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on opts.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Chat runs one chat turn: it records the user message, asks the orchestrator and records the
// reply. Turns on the same session are serialized. Once the user message is stored the reply is
// recorded even if ctx is cancelled, so the stored history stays user/bot paired.
func (s *Server) Chat(ctx context.Context, sessionID, message string) (meetingpod.Reply, error) {
	if blank(message) {
		return meetingpod.Reply{}, meetingpod.ErrEmptyMessage
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := time.Now().UTC()
	if err := s.store.Touch(ctx, sessionID, now); err != nil {
		return meetingpod.Reply{}, err
	}
	userEntry := meetingpod.HistoryEntry{Sender: meetingpod.SenderUser, Content: message, Timestamp: now}
	if err := s.store.AppendHistory(ctx, sessionID, userEntry); err != nil {
		return meetingpod.Reply{}, err
	}

	record := context.WithoutCancel(ctx)
	sess, err := s.store.GetSession(record, sessionID)
	if err != nil {
		return meetingpod.Reply{}, s.forget(sessionID, err)
	}

	reply := s.orchestrator.Respond(meetingpod.WithSessionID(ctx, sessionID), message, sess.Context())

	botEntry := meetingpod.HistoryEntry{Sender: meetingpod.SenderBot, Content: reply.Text, Timestamp: time.Now().UTC()}
	if err := s.store.AppendHistory(record, sessionID, botEntry); err != nil {
		return reply, s.forget(sessionID, err)
	}
	return reply, nil
}

// forget drops the memory of a session that was deleted while its turn was running, so the
// registry does not keep an entry the store no longer has.
func (s *Server) forget(sessionID string, err error) error {
	if errors.Is(err, meetingpod.ErrSessionNotFound) {
		s.registry.Clear(sessionID)
		s.logger.Info("Session removed during chat turn", "sessionID", sessionID)
	}
	return err
}
