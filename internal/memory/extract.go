package memory

import (
	"fmt"
	"regexp"
	"strings"
)

// semanticSignals marks self-referential or durable statements: first
// person possessive/identity markers, explicit "remember", and
// absolute-frequency words.
var semanticSignals = regexp.MustCompile(`(?i)\b(my|i am|i'm|i prefer|remember|always|never)\b`)

// minMemorableLen: messages at or below this length are never extracted.
const minMemorableLen = 20

// Memorable reports whether a user message qualifies for memory
// extraction. Short messages and slash commands never do.
func Memorable(userMessage string) bool {
	if len(userMessage) <= minMemorableLen {
		return false
	}
	return !strings.HasPrefix(userMessage, "/")
}

// ClassifySector picks the sector for a memorable message.
func ClassifySector(userMessage string) string {
	if semanticSignals.MatchString(userMessage) {
		return "semantic"
	}
	return "episodic"
}

// RecordTurn persists a completed turn: both transcript rows, then memory
// extraction from the user side. Called only after the agent responded; a
// failed turn records nothing. Synthetic turns (context replays and other
// system-injected prompts) skip the transcript to avoid feedback loops.
func (e *Engine) RecordTurn(chatID, userMessage, reply, sessionID string, synthetic bool) error {
	if !synthetic {
		if err := e.store.AppendTurn(chatID, "user", userMessage, sessionID); err != nil {
			return fmt.Errorf("log user turn: %w", err)
		}
		if err := e.store.AppendTurn(chatID, "assistant", reply, sessionID); err != nil {
			return fmt.Errorf("log assistant turn: %w", err)
		}
	}

	if !Memorable(userMessage) {
		return nil
	}
	if err := e.store.SaveMemory(chatID, userMessage, ClassifySector(userMessage), ""); err != nil {
		return fmt.Errorf("extract memory: %w", err)
	}
	return nil
}
