package meetingpod

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// maxSpeakerLength bounds what is taken as a speaker label in a "Speaker: text" line.
const maxSpeakerLength = 50

// KeyInfo is an advisory summary of a transcript's shape.
type KeyInfo struct {
	Participants []string `json:"participants"`
	Length       int      `json:"length"`
	Lines        int      `json:"lines"`
}

// ExtractKeyInfo guesses participants from lines of the form "Speaker: text".
func ExtractKeyInfo(transcript string) KeyInfo {
	lines := strings.Split(transcript, "\n")
	seen := make(map[string]struct{})
	for _, line := range lines {
		speaker, _, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		speaker = strings.TrimSpace(speaker)
		if speaker == "" || utf8.RuneCountInString(speaker) >= maxSpeakerLength {
			continue
		}
		seen[speaker] = struct{}{}
	}

	participants := make([]string, 0, len(seen))
	for speaker := range seen {
		participants = append(participants, speaker)
	}
	sort.Strings(participants)

	return KeyInfo{
		Participants: participants,
		Length:       utf8.RuneCountInString(transcript),
		Lines:        len(lines),
	}
}
