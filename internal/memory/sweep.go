package memory

import (
	"context"
	"log"
	"time"
)

const (
	// sweepInterval is how often decay and log pruning run after startup.
	sweepInterval = 24 * time.Hour

	// logKeepGlobal bounds the conversation log across all chats.
	logKeepGlobal = 500
)

// RunSweep decays old memories, evicts the faded ones, and prunes the
// conversation log. Best effort: failures are logged, never raised, so a
// hiccup in maintenance cannot take down the message path.
func (e *Engine) RunSweep() {
	if err := e.store.DecayMemories(); err != nil {
		log.Printf("[memory] decay sweep warning: %v", err)
	}
	if err := e.store.PruneTurns(logKeepGlobal); err != nil {
		log.Printf("[memory] log prune warning: %v", err)
	}
}

// StartSweeper runs one sweep immediately, then every 24 hours until ctx
// is done. Runs concurrently with ordinary reads/writes; WAL handles the
// interleaving.
func (e *Engine) StartSweeper(ctx context.Context) {
	e.RunSweep()

	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.RunSweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}
