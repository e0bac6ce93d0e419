package memory

import (
	"fmt"
	"strings"

	"github.com/justSteve/claudeclaw/internal/store"
)

const (
	contextOpenMarker  = "[Memory context]"
	contextCloseMarker = "[End memory context]"

	searchLimit = 3
	recentLimit = 5
)

// Engine composes the memory ledger and the conversation log into the
// per-turn behavior of the bridge: building the context block injected
// ahead of each user message, and recording completed turns.
type Engine struct {
	store *store.Store
}

func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// BuildContext assembles the memory block to prepend to a user message.
// Two layers, always both consulted: a lexical search against the message
// (topically related facts, however old) and plain access recency (what
// the user discussed last, keyword match or not). Merged first-seen by id
// with the search layer ordered first. Every surfaced memory is touched,
// so retrieval reinforces survival. Returns "" when nothing surfaced.
func (e *Engine) BuildContext(chatID, userMessage string) (string, error) {
	searched, err := e.store.SearchMemories(chatID, userMessage, searchLimit)
	if err != nil {
		return "", fmt.Errorf("search layer: %w", err)
	}
	recent, err := e.store.RecentMemories(chatID, recentLimit)
	if err != nil {
		return "", fmt.Errorf("recency layer: %w", err)
	}

	seen := make(map[int64]struct{}, len(searched)+len(recent))
	lines := make([]string, 0, len(searched)+len(recent))
	add := func(mems []store.Memory) error {
		for _, m := range mems {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			if err := e.store.TouchMemory(m.ID); err != nil {
				return err
			}
			lines = append(lines, fmt.Sprintf("- %s (%s)", m.Content, m.Sector))
		}
		return nil
	}
	if err := add(searched); err != nil {
		return "", fmt.Errorf("touch searched: %w", err)
	}
	if err := add(recent); err != nil {
		return "", fmt.Errorf("touch recent: %w", err)
	}

	if len(lines) == 0 {
		return "", nil
	}
	return contextOpenMarker + "\n" + strings.Join(lines, "\n") + "\n" + contextCloseMarker, nil
}
