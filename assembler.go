package meetingpod

import (
	"github.com/boat-builder/meetingpod/prompts"
)

// PromptAssembler turns a transcript, the conversation so far and the current query into the
// single instruction sent to the LLM.
type PromptAssembler interface {
	Build(transcript string, history []Turn, input string) (string, error)
}

// MeetingAnalystAssembler fills the fixed meeting analyst template.
type MeetingAnalystAssembler struct{}

var _ PromptAssembler = MeetingAnalystAssembler{}

func (MeetingAnalystAssembler) Build(transcript string, history []Turn, input string) (string, error) {
	return prompts.MeetingAnalystPrompt(prompts.MeetingAnalystPromptData{
		Transcript: transcript,
		History:    FormatTurns(history),
		Input:      input,
	})
}

// PromptAssemblerFunc adapts a plain function to PromptAssembler.
type PromptAssemblerFunc func(transcript string, history []Turn, input string) (string, error)

func (f PromptAssemblerFunc) Build(transcript string, history []Turn, input string) (string, error) {
	return f(transcript, history, input)
}
