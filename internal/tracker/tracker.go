// Package tracker watches per-turn token usage and warns before the agent
// session runs out of context. Heuristic and process-local: a restart
// resets every baseline, which is accepted.
package tracker

import (
	"fmt"
	"sync"

	"github.com/justSteve/claudeclaw/internal/agent"
)

// warnThreshold is the fraction of the usable budget at which a warning
// fires.
const warnThreshold = 0.75

// CompactWarning is returned whenever the runtime reports it had to
// auto-summarize, regardless of token counts.
const CompactWarning = "Context was auto-compacted this turn. Older parts of the conversation are now summarized; use /newchat to start fresh if replies degrade."

// Tracker keeps the first-turn input token count per session as the fixed
// overhead baseline, and measures conversational growth against the
// remainder of the context limit.
type Tracker struct {
	limit int

	mu        sync.Mutex
	baselines map[string]int
	last      map[string]agent.Usage
}

func New(contextLimit int) *Tracker {
	return &Tracker{
		limit:     contextLimit,
		baselines: make(map[string]int),
		last:      make(map[string]agent.Usage),
	}
}

// key prefers the session id; a turn without one is tracked per chat.
func key(chatID, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return "chat:" + chatID
}

// RecordAndWarn ingests one usage report and returns a warning string, or
// "" when there is nothing to say. Malformed or missing usage degrades to
// no warning; this must never block or fail a turn.
func (t *Tracker) RecordAndWarn(chatID, sessionID string, u *agent.Usage) string {
	if u == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(chatID, sessionID)
	t.last[k] = *u

	if u.Compacted {
		return CompactWarning
	}

	baseline, seen := t.baselines[k]
	if !seen {
		// First turn of the session: its input size is the fixed
		// overhead (system prompt, tools, memory context). Nothing to
		// compare against yet.
		t.baselines[k] = u.LastCallInputTokens
		return ""
	}

	available := t.limit - baseline
	if available <= 0 {
		return ""
	}
	grown := u.LastCallInputTokens - baseline
	if grown < 0 {
		return ""
	}
	pct := float64(grown) / float64(available)
	if pct < warnThreshold {
		return ""
	}
	return fmt.Sprintf(
		"Context is %d%% used (%d of %d conversation tokens). Consider /newchat to reset the session.",
		int(pct*100), grown, available,
	)
}

// LastUsage returns the most recent usage snapshot for a session, if any.
func (t *Tracker) LastUsage(chatID, sessionID string) (agent.Usage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.last[key(chatID, sessionID)]
	return u, ok
}

// Forget drops the baseline and last usage for a cleared session so a
// fresh session recomputes its own overhead.
func (t *Tracker) Forget(chatID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range []string{key(chatID, sessionID), "chat:" + chatID} {
		delete(t.baselines, k)
		delete(t.last, k)
	}
}
