package meetingpod

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	history [][]Turn
	reply   string
	err     error
	usage   Usage
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, history []Turn) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.history = append(s.history, history)
	if s.err != nil {
		return nil, s.err
	}
	return &Generation{Text: s.reply, Model: "gpt-4o-mini", Usage: s.usage}, nil
}

func (s *stubLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubLLM) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[len(s.prompts)-1]
}

func userEntry(content string) HistoryEntry {
	return HistoryEntry{Sender: SenderUser, Content: content, Timestamp: testNow}
}

func botEntry(content string) HistoryEntry {
	return HistoryEntry{Sender: SenderBot, Content: content, Timestamp: testNow}
}

func TestRespondWithoutTranscript(t *testing.T) {
	llm := &stubLLM{reply: "unused"}
	reg := NewSessionMemoryRegistry()
	orch := NewResponseOrchestrator(reg, llm)

	for _, transcript := range []string{"", "   \n\t"} {
		for _, query := range []string{"summarize", "who was there?", "anything"} {
			reply := orch.Respond(context.Background(), query, SessionContext{
				SessionID:  "s1",
				Transcript: transcript,
				History:    []HistoryEntry{userEntry(query)},
			})
			assert.Equal(t, NoTranscriptReply, reply.Text)
			assert.Equal(t, StateNoTranscript, reply.State)
		}
	}
	assert.Equal(t, 0, llm.Calls())
	assert.Equal(t, 0, reg.Len())
}

func TestRespondAnswersVerbatimAndRecordsExchange(t *testing.T) {
	llm := &stubLLM{reply: "  The launch is on Friday.\n", usage: Usage{InputTokens: 120, OutputTokens: 8}}
	reg := NewSessionMemoryRegistry()
	orch := NewResponseOrchestrator(reg, llm)

	reply := orch.Respond(context.Background(), "When is the launch?", SessionContext{
		SessionID:  "s1",
		Transcript: sampleTranscript,
		History:    []HistoryEntry{userEntry("When is the launch?")},
	})

	require.Equal(t, StateAnswered, reply.State)
	assert.Equal(t, "  The launch is on Friday.\n", reply.Text)
	assert.NoError(t, reply.Err)
	assert.Equal(t, 1, llm.Calls())

	turns := reg.GetOrCreate("s1", sampleTranscript).Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, "When is the launch?", turns[2].Content)
	assert.Equal(t, "  The launch is on Friday.\n", turns[3].Content)

	info := reg.Info("s1")
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 8}, info.Usage)
	assert.Equal(t, "gpt-4o-mini", info.Model)
}

func TestRespondPromptExcludesCurrentQueryFromHistory(t *testing.T) {
	llm := &stubLLM{reply: "We decided to ship Friday."}
	orch := NewResponseOrchestrator(NewSessionMemoryRegistry(), llm)

	query := "What decisions were made?"
	orch.Respond(context.Background(), query, SessionContext{
		SessionID:  "s1",
		Transcript: sampleTranscript,
		History: []HistoryEntry{
			userEntry("Hello"),
			botEntry("Hi"),
			userEntry(query),
		},
	})

	prompt := llm.LastPrompt()
	history := between(t, prompt, "CONVERSATION HISTORY:\n", "\n\nUSER QUERY:")
	assert.Contains(t, history, "Human: Hello")
	assert.Contains(t, history, "Assistant: Hi")
	assert.NotContains(t, history, query)
	assert.True(t, strings.HasPrefix(history, "Human: "+bootstrapUserText))
	assert.Contains(t, prompt, "USER QUERY: "+query+"\n")
	assert.Contains(t, prompt, "MEETING TRANSCRIPT:\n"+sampleTranscript+"\n")

	require.Len(t, llm.history[0], 4)
}

func TestRespondRebuildsFromHistoryEveryTurn(t *testing.T) {
	llm := &stubLLM{reply: "answer"}
	reg := NewSessionMemoryRegistry()
	orch := NewResponseOrchestrator(reg, llm)
	sc := SessionContext{SessionID: "s1", Transcript: sampleTranscript}

	sc.History = []HistoryEntry{userEntry("first")}
	orch.Respond(context.Background(), "first", sc)

	// The caller's durable history diverges from what memory recorded.
	sc.History = []HistoryEntry{userEntry("first"), botEntry("edited answer"), userEntry("second")}
	orch.Respond(context.Background(), "second", sc)

	history := between(t, llm.LastPrompt(), "CONVERSATION HISTORY:\n", "\n\nUSER QUERY:")
	assert.Contains(t, history, "Assistant: edited answer")
	assert.Equal(t, 1, strings.Count(history, bootstrapUserText))
	assert.Equal(t, 1, strings.Count(history, "Human: first"))
}

func TestRespondFallbackRules(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"Can you give me a summary?", "asking for a summary"},
		{"Please SUMMARIZE the meeting", "asking for a summary"},
		{"Who spoke first?", "asking about participants"},
		{"List the participants", "asking about participants"},
		{"What did they decide?", "asking about decisions"},
		{"Any decision on pricing?", "asking about decisions"},
		{"Summarize who decided what", "asking for a summary"},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			llm := &stubLLM{err: errors.New("connection refused")}
			orch := NewResponseOrchestrator(NewSessionMemoryRegistry(), llm)

			reply := orch.Respond(context.Background(), tc.query, SessionContext{
				SessionID:  "s1",
				Transcript: sampleTranscript,
				History:    []HistoryEntry{userEntry(tc.query)},
			})
			assert.Equal(t, StateDegraded, reply.State)
			assert.Contains(t, reply.Text, tc.want)
			assert.Contains(t, reply.Text, "API key")
			assert.NotContains(t, reply.Text, "connection refused")
		})
	}
}

func TestRespondGenericFailureCarriesCause(t *testing.T) {
	llm := &stubLLM{err: errors.New("quota exceeded")}
	reg := NewSessionMemoryRegistry()
	orch := NewResponseOrchestrator(reg, llm)

	reply := orch.Respond(context.Background(), "When is the launch?", SessionContext{
		SessionID:  "s1",
		Transcript: sampleTranscript,
		History:    []HistoryEntry{userEntry("When is the launch?")},
	})

	assert.Equal(t, StateDegraded, reply.State)
	assert.True(t, reply.Degraded())
	assert.Equal(t, "I apologize, but I encountered an error while processing your request: quota exceeded", reply.Text)
	assert.EqualError(t, reply.Err, "quota exceeded")
	assert.Equal(t, 1, llm.Calls(), "no retry")
	assert.Equal(t, 2, reg.Info("s1").TurnCount, "failed turns are not recorded")
}

func TestRespondPromptBuildFailureDegrades(t *testing.T) {
	llm := &stubLLM{reply: "unused"}
	orch := NewResponseOrchestrator(NewSessionMemoryRegistry(), llm,
		WithAssembler(PromptAssemblerFunc(func(string, []Turn, string) (string, error) {
			return "", errors.New("template broken")
		})),
	)

	reply := orch.Respond(context.Background(), "hello", SessionContext{SessionID: "s1", Transcript: sampleTranscript})
	assert.Equal(t, StateDegraded, reply.State)
	assert.Contains(t, reply.Text, "template broken")
	assert.Equal(t, 0, llm.Calls())
}

func TestRespondTimeoutDegrades(t *testing.T) {
	slow := LLMFunc(func(ctx context.Context, _ string, _ []Turn) (*Generation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	orch := NewResponseOrchestrator(NewSessionMemoryRegistry(), slow, WithTimeout(10*time.Millisecond))

	reply := orch.Respond(context.Background(), "anything new?", SessionContext{SessionID: "s1", Transcript: sampleTranscript})
	assert.Equal(t, StateDegraded, reply.State)
	assert.ErrorIs(t, reply.Err, context.DeadlineExceeded)
}

func TestRespondPassesSessionIDToLLM(t *testing.T) {
	var seen string
	llm := LLMFunc(func(ctx context.Context, _ string, _ []Turn) (*Generation, error) {
		seen, _ = SessionIDFrom(ctx)
		return &Generation{Text: "ok"}, nil
	})
	orch := NewResponseOrchestrator(NewSessionMemoryRegistry(), llm)
	orch.Respond(context.Background(), "hi", SessionContext{SessionID: "abc", Transcript: sampleTranscript})
	assert.Equal(t, "abc", seen)
}

func TestRespondSerializesSameSession(t *testing.T) {
	var inFlight, maxInFlight int32
	llm := LLMFunc(func(ctx context.Context, _ string, _ []Turn) (*Generation, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &Generation{Text: "ok"}, nil
	})
	reg := NewSessionMemoryRegistry()
	orch := NewResponseOrchestrator(reg, llm)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orch.Respond(context.Background(), "q", SessionContext{SessionID: "same", Transcript: sampleTranscript})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	// Every turn rebuilt from an empty history, then appended its exchange.
	assert.Equal(t, 4, reg.Info("same").TurnCount)
}

func TestFallbackReplyOrder(t *testing.T) {
	err := errors.New("boom")
	assert.Contains(t, FallbackReply("who made the decision", err), "participants")
	assert.Contains(t, FallbackReply("decide on a summary", err), "summary")
	assert.Equal(t, "I apologize, but I encountered an error while processing your request: boom", FallbackReply("hello", err))
}

func between(t *testing.T, s, start, end string) string {
	t.Helper()
	i := strings.Index(s, start)
	require.GreaterOrEqual(t, i, 0, "missing %q", start)
	rest := s[i+len(start):]
	j := strings.Index(rest, end)
	require.GreaterOrEqual(t, j, 0, "missing %q", end)
	return rest[:j]
}

func TestRespondLogsFailuresToConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	orch := NewResponseOrchestrator(NewSessionMemoryRegistry(), &stubLLM{err: errors.New("quota exceeded")},
		WithLogger(logger))

	reply := orch.Respond(context.Background(), "hello", SessionContext{
		SessionID:  "s1",
		Transcript: sampleTranscript,
		History:    []HistoryEntry{userEntry("hello")},
	})

	assert.True(t, reply.Degraded())
	assert.Contains(t, buf.String(), "sessionID=s1")
	assert.Contains(t, buf.String(), "quota exceeded")
}
