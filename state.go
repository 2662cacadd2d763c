package meetingpod

// ReplyState is the terminal state of one orchestrated turn.
type ReplyState string

const (
	// StateNoTranscript means the session has no transcript and the LLM was not consulted.
	StateNoTranscript ReplyState = "no-transcript"
	// StateAnswered means the LLM answer is returned verbatim.
	StateAnswered ReplyState = "answered"
	// StateDegraded means the LLM call failed and a fallback text is returned.
	StateDegraded ReplyState = "degraded"
)
