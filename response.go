package meetingpod

// Reply is what the orchestrator hands back to the caller for one user query.
type Reply struct {
	Text  string
	State ReplyState
	// Err is the LLM failure behind a degraded reply.
	Err   error
	Usage Usage
}

// Degraded reports whether the reply is a fallback text.
func (r Reply) Degraded() bool {
	return r.State == StateDegraded
}
