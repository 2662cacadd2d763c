package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boat-builder/meetingpod"
)

const transcript = "Alice: Welcome to the planning meeting.\nBob: We decided to launch on Friday.\nAlice: Great, Bob owns the rollout."

type recordingLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (r *recordingLLM) Generate(_ context.Context, prompt string, _ []meetingpod.Turn) (*meetingpod.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	if r.err != nil {
		return nil, r.err
	}
	return &meetingpod.Generation{
		Text:  r.reply,
		Model: "gpt-4o-mini",
		Usage: meetingpod.Usage{InputTokens: 1000, OutputTokens: 100},
	}, nil
}

func newTestServer(t *testing.T, llm meetingpod.LLM) *Server {
	t.Helper()
	registry := meetingpod.NewSessionMemoryRegistry()
	orch := meetingpod.NewResponseOrchestrator(registry, llm)
	return New(meetingpod.NewMemoryStorage(), orch, Options{
		AllowOrigins:     []string{"*"},
		Provider:         meetingpod.ProviderOpenAI,
		APIKeyConfigured: true,
		Model:            "gpt-4o-mini",
	})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func upload(t *testing.T, s *Server, sessionID string) UploadResponse {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/upload", UploadRequest{Transcript: transcript, SessionID: sessionID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[UploadResponse](t, rec)
}

func TestUpload(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})

	resp := upload(t, s, "")
	assert.Equal(t, "Transcript uploaded successfully", resp.Message)
	assert.Len(t, resp.SessionID, 36, "generated uuid")
	assert.Equal(t, len(transcript), resp.TranscriptLength)

	resp = upload(t, s, "my-session")
	assert.Equal(t, "my-session", resp.SessionID)
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})

	rec := do(t, s, http.MethodPost, "/upload", UploadRequest{Transcript: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Transcript is required", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodPost, "/upload", UploadRequest{Transcript: strings.Repeat(" ", 12)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Transcript is required", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodPost, "/upload", UploadRequest{Transcript: "too short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Detail, "Transcript too short")

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("{not json"))
	out := httptest.NewRecorder()
	s.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnprocessableEntity, out.Code)
}

func TestChatFlow(t *testing.T) {
	llm := &recordingLLM{reply: "The team decided to launch on Friday."}
	s := newTestServer(t, llm)
	id := upload(t, s, "s1").SessionID

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "Hello", SessionID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ChatResponse{Response: "The team decided to launch on Friday.", SessionID: id}, decode[ChatResponse](t, rec))

	rec = do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "What decisions were made?", SessionID: id})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, llm.prompts, 2)
	second := llm.prompts[1]
	history := second[strings.Index(second, "CONVERSATION HISTORY:"):strings.Index(second, "USER QUERY:")]
	assert.Contains(t, history, "Human: Hello")
	assert.Contains(t, history, "Assistant: The team decided to launch on Friday.")
	assert.NotContains(t, history, "What decisions were made?")
	assert.Contains(t, second, "USER QUERY: What decisions were made?")

	rec = do(t, s, http.MethodGet, "/session/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[HistoryResponse](t, rec)
	require.Len(t, hist.ChatHistory, 4)
	assert.Equal(t, meetingpod.SenderUser, hist.ChatHistory[0].Sender)
	assert.Equal(t, meetingpod.SenderBot, hist.ChatHistory[1].Sender)
	assert.Equal(t, "What decisions were made?", hist.ChatHistory[2].Content)

	rec = do(t, s, http.MethodGet, "/session/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[SessionResponse](t, rec)
	assert.Equal(t, 4, info.MessageCount)
	assert.True(t, info.Memory.Exists)
	assert.Equal(t, 6, info.Memory.TurnCount)
	require.NotNil(t, info.Cost)
	assert.Equal(t, int64(2000), info.Cost.InputTokens)
	assert.InDelta(t, 2*(1000*0.15+100*0.60)/1e6, info.Cost.TotalCost, 1e-12)
}

func TestChatErrors(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "", SessionID: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message and session_id are required", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "hi", SessionID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found. Please upload a transcript first.", decode[ErrorResponse](t, rec).Detail)
}

func TestChatDegradedReplyIsRecorded(t *testing.T) {
	s := newTestServer(t, &recordingLLM{err: errors.New("invalid api key")})
	id := upload(t, s, "s1").SessionID

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "Give me a summary", SessionID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ChatResponse](t, rec)
	assert.Contains(t, resp.Response, "asking for a summary")

	hist := decode[HistoryResponse](t, do(t, s, http.MethodGet, "/session/"+id+"/history", nil))
	require.Len(t, hist.ChatHistory, 2)
	assert.Equal(t, resp.Response, hist.ChatHistory[1].Content)
}

func TestReuploadClearsMemory(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})
	id := upload(t, s, "s1").SessionID
	do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "Hello", SessionID: id})
	require.True(t, s.registry.Info(id).Exists)

	upload(t, s, id)
	assert.False(t, s.registry.Info(id).Exists)
	hist := decode[HistoryResponse](t, do(t, s, http.MethodGet, "/session/"+id+"/history", nil))
	assert.Empty(t, hist.ChatHistory)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})
	a := upload(t, s, "a").SessionID
	upload(t, s, "b")
	do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "Hello", SessionID: a})

	list := decode[SessionListResponse](t, do(t, s, http.MethodGet, "/sessions", nil))
	assert.Equal(t, 2, list.TotalSessions)

	health := decode[HealthResponse](t, do(t, s, http.MethodGet, "/health", nil))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.ActiveSessions)
	assert.Equal(t, 1, health.MemorySessions)
	assert.True(t, health.APIKeyConfigured)

	rec := do(t, s, http.MethodDelete, "/session/"+a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Session deleted successfully", decode[MessageResponse](t, rec).Message)
	assert.False(t, s.registry.Info(a).Exists)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/session/"+a, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/session/"+a, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/session/"+a+"/history", nil).Code)

	rec = do(t, s, http.MethodPost, "/clear-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cleared 1 sessions successfully", decode[MessageResponse](t, rec).Message)
	assert.Equal(t, 0, decode[SessionListResponse](t, do(t, s, http.MethodGet, "/sessions", nil)).TotalSessions)
}

func TestInsights(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})
	id := upload(t, s, "s1").SessionID

	rec := do(t, s, http.MethodGet, "/session/"+id+"/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	insights := decode[InsightsResponse](t, rec)
	assert.Equal(t, []string{"Alice", "Bob"}, insights.Participants)
	assert.Equal(t, 3, insights.Lines)
}

func TestSchemas(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})
	rec := do(t, s, http.MethodGet, "/schemas", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	schemas := decode[map[string]map[string]any](t, rec)
	upload, ok := schemas["TranscriptUpload"]
	require.True(t, ok)
	props, ok := upload["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "transcript")
	assert.Contains(t, props, "session_id")
	assert.Contains(t, schemas, "ChatMessage")
	assert.Contains(t, schemas, "HistoryEntry")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestConcurrentChatsKeepHistoryPaired(t *testing.T) {
	s := newTestServer(t, &recordingLLM{reply: "ok"})
	id := upload(t, s, "s1").SessionID

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "hi", SessionID: id})
		}()
	}
	wg.Wait()

	hist := decode[HistoryResponse](t, do(t, s, http.MethodGet, "/session/"+id+"/history", nil))
	require.Len(t, hist.ChatHistory, 20)
	for i, e := range hist.ChatHistory {
		want := meetingpod.SenderUser
		if i%2 == 1 {
			want = meetingpod.SenderBot
		}
		assert.Equal(t, want, e.Sender, "entry %d", i)
	}
}

func TestChatBlankMessage(t *testing.T) {
	llm := &recordingLLM{reply: "ok"}
	s := newTestServer(t, llm)
	id := upload(t, s, "s1").SessionID

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "   ", SessionID: id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message and session_id are required", decode[ErrorResponse](t, rec).Detail)

	_, err := s.Chat(context.Background(), id, "\n\t")
	assert.ErrorIs(t, err, meetingpod.ErrEmptyMessage)
	assert.Empty(t, llm.prompts)
}

func TestChatCancelledMidTurnKeepsHistoryPaired(t *testing.T) {
	store, err := meetingpod.NewGormStorage(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	disconnecting := meetingpod.LLMFunc(func(c context.Context, _ string, _ []meetingpod.Turn) (*meetingpod.Generation, error) {
		cancel()
		return nil, c.Err()
	})
	s := New(store, meetingpod.NewResponseOrchestrator(meetingpod.NewSessionMemoryRegistry(), disconnecting), Options{})

	sess, err := meetingpod.NewSession("s1", transcript)
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(context.Background(), sess))

	reply, err := s.Chat(ctx, "s1", "Who attended?")
	require.NoError(t, err)
	assert.Equal(t, meetingpod.StateDegraded, reply.State)

	stored, err := store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	assert.Equal(t, meetingpod.SenderUser, stored.History[0].Sender)
	assert.Equal(t, meetingpod.SenderBot, stored.History[1].Sender)
	assert.Equal(t, reply.Text, stored.History[1].Content)
}

// vanishingStore deletes every session right after the chat turn has read it, as a concurrent
// clear-all or idle sweep would.
type vanishingStore struct {
	*meetingpod.MemoryStorage
	registry *meetingpod.SessionMemoryRegistry
}

func (v *vanishingStore) GetSession(ctx context.Context, id string) (*meetingpod.Session, error) {
	sess, err := v.MemoryStorage.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := v.MemoryStorage.ClearSessions(ctx); err != nil {
		return nil, err
	}
	v.registry.ClearAll()
	return sess, nil
}

func TestChatOnRemovedSessionLeavesNoMemory(t *testing.T) {
	registry := meetingpod.NewSessionMemoryRegistry()
	store := &vanishingStore{MemoryStorage: meetingpod.NewMemoryStorage(), registry: registry}
	s := New(store, meetingpod.NewResponseOrchestrator(registry, &recordingLLM{reply: "ok"}), Options{})

	sess, err := meetingpod.NewSession("s1", transcript)
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(context.Background(), sess))

	_, err = s.Chat(context.Background(), "s1", "Hello")
	assert.ErrorIs(t, err, meetingpod.ErrSessionNotFound)
	assert.False(t, registry.Info("s1").Exists)
	assert.Equal(t, 0, registry.Len())
}
