package meetingpod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoTranscriptReply is returned when a session has no transcript to reason about.
const NoTranscriptReply = "Please upload a meeting transcript first so I can help you analyze it."

const tracerName = "github.com/boat-builder/meetingpod"

// SessionContext is everything the orchestrator needs to know about the session for one turn.
type SessionContext struct {
	SessionID  string
	Transcript string
	// History is the authoritative chat history. Its final entry is the current user message.
	History []HistoryEntry
}

type fallbackRule struct {
	keywords []string
	reply    string
}

// fallbackRules are checked in order against the lowercased query when the LLM fails.
var fallbackRules = []fallbackRule{
	{
		keywords: []string{"summary", "summarize"},
		reply:    "I can see you're asking for a summary. Please ensure your LLM API key is properly configured, and try again.",
	},
	{
		keywords: []string{"participants", "who"},
		reply:    "I can see you're asking about participants. Please ensure your LLM API key is properly configured, and try again.",
	},
	{
		keywords: []string{"decision", "decide"},
		reply:    "I can see you're asking about decisions. Please ensure your LLM API key is properly configured, and try again.",
	},
}

// FallbackReply picks the degraded reply for query after err.
func FallbackReply(query string, err error) string {
	lowered := strings.ToLower(query)
	for _, rule := range fallbackRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return rule.reply
			}
		}
	}
	return fmt.Sprintf("I apologize, but I encountered an error while processing your request: %s", err)
}

// ResponseOrchestrator drives one chat turn: it syncs session memory with the external history,
// assembles the prompt, calls the LLM and records the exchange.
type ResponseOrchestrator struct {
	registry  *SessionMemoryRegistry
	llm       LLM
	assembler PromptAssembler
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *slog.Logger
}

type OrchestratorOption func(*ResponseOrchestrator)

// WithTimeout bounds each LLM call. Zero means no bound beyond the caller's context.
func WithTimeout(d time.Duration) OrchestratorOption {
	return func(o *ResponseOrchestrator) { o.timeout = d }
}

func WithAssembler(a PromptAssembler) OrchestratorOption {
	return func(o *ResponseOrchestrator) { o.assembler = a }
}

func WithTracer(t trace.Tracer) OrchestratorOption {
	return func(o *ResponseOrchestrator) { o.tracer = t }
}

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *ResponseOrchestrator) { o.logger = l }
}

func NewResponseOrchestrator(registry *SessionMemoryRegistry, llm LLM, opts ...OrchestratorOption) *ResponseOrchestrator {
	o := &ResponseOrchestrator{
		registry:  registry,
		llm:       llm,
		assembler: MeetingAnalystAssembler{},
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the registry the orchestrator keeps memory in.
func (o *ResponseOrchestrator) Registry() *SessionMemoryRegistry {
	return o.registry
}

// Respond produces the reply to query. It never returns an error: LLM failures become a
// degraded reply whose Err carries the cause.
func (o *ResponseOrchestrator) Respond(ctx context.Context, query string, sc SessionContext) Reply {
	ctx, span := o.tracer.Start(ctx, "meetingpod.respond", trace.WithAttributes(
		attribute.String("session.id", sc.SessionID),
		attribute.Int("history.length", len(sc.History)),
	))
	defer span.End()

	reply := o.respond(ctx, query, sc)

	span.SetAttributes(
		attribute.String("reply.state", string(reply.State)),
		attribute.Int64("llm.input_tokens", reply.Usage.InputTokens),
		attribute.Int64("llm.output_tokens", reply.Usage.OutputTokens),
	)
	if reply.Err != nil {
		span.RecordError(reply.Err)
		span.SetStatus(codes.Error, reply.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return reply
}

func (o *ResponseOrchestrator) respond(ctx context.Context, query string, sc SessionContext) Reply {
	if strings.TrimSpace(sc.Transcript) == "" {
		return Reply{Text: NoTranscriptReply, State: StateNoTranscript}
	}

	memory, release := o.registry.Acquire(sc.SessionID, sc.Transcript)
	defer release()

	prior := sc.History
	if len(prior) > 0 {
		prior = prior[:len(prior)-1]
	}
	if skipped := memory.RebuildFrom(prior); skipped > 0 {
		o.logger.Warn("Ignored malformed history entries", "sessionID", sc.SessionID, "skipped", skipped)
	}

	turns := memory.Turns()
	prompt, err := o.assembler.Build(sc.Transcript, turns, query)
	if err != nil {
		return o.degrade(sc.SessionID, query, fmt.Errorf("building prompt: %w", err))
	}

	llmCtx := WithSessionID(ctx, sc.SessionID)
	if o.timeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(llmCtx, o.timeout)
		defer cancel()
	}
	generation, err := o.llm.Generate(llmCtx, prompt, turns)
	if err == nil && generation == nil {
		err = ErrEmptyCompletion
	}
	if err != nil {
		return o.degrade(sc.SessionID, query, err)
	}

	memory.Append(RoleUser, query)
	memory.Append(RoleAssistant, generation.Text)
	o.registry.RecordUsage(sc.SessionID, generation.Model, generation.Usage)

	return Reply{Text: generation.Text, State: StateAnswered, Usage: generation.Usage}
}

func (o *ResponseOrchestrator) degrade(sessionID, query string, err error) Reply {
	o.logger.Error("Error generating response", "sessionID", sessionID, "error", err)
	return Reply{Text: FallbackReply(query, err), State: StateDegraded, Err: err}
}
