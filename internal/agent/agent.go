// Package agent wraps the conversational agent runtime behind the one
// interface the rest of the bridge is allowed to see.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	coreevents "github.com/cexll/agentsdk-go/pkg/core/events"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"

	"github.com/justSteve/claudeclaw/internal/config"
)

// Usage is the token accounting reported for one completed invocation.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	LastCallInputTokens int
	CacheReadTokens     int
	// CostUSD stays zero until the runtime reports dollar cost.
	CostUSD float64
	// Compacted is set when the runtime auto-summarized the session
	// context during this turn. The tracker treats it as a hard warning.
	Compacted bool
}

// Result is the outcome of one agent invocation.
type Result struct {
	Text      string
	SessionID string
	Usage     *Usage
}

// Invoker is the narrow seam between the bridge and the agent runtime.
// sessionID empty means "start a fresh session"; the returned Result
// carries the handle to persist. onProgress, when non-nil, is called as
// the invocation proceeds (the Telegram channel uses it to refresh the
// typing indicator) and may be nil.
type Invoker interface {
	Invoke(ctx context.Context, prompt, sessionID string, onProgress func()) (*Result, error)
}

// Runner is the production Invoker over the agent SDK runtime.
type Runner struct {
	rt *api.Runtime
}

// NewRunner builds the runtime with the configured model provider.
func NewRunner(cfg *config.Config) (*Runner, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'claudeclaw onboard' or set CLAUDECLAW_API_KEY / ANTHROPIC_API_KEY")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		MaxIterations: cfg.Agent.MaxToolIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &Runner{rt: rt}, nil
}

func (r *Runner) Close() {
	r.rt.Close()
}

// Invoke runs one prompt through the runtime. An empty sessionID mints a
// fresh handle; the runtime keys its conversation state by that handle, so
// reusing it resumes the session across messages.
func (r *Runner) Invoke(ctx context.Context, prompt, sessionID string, onProgress func()) (*Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	if onProgress != nil {
		onProgress()
	}

	resp, err := r.rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}

	result := &Result{SessionID: sessionID}
	if resp == nil || resp.Result == nil {
		log.Printf("[agent] empty result for session %s", sessionID)
		return result, nil
	}

	result.Text = resp.Result.Output
	result.Usage = usageFromResponse(resp)
	return result, nil
}

// usageFromResponse flattens the SDK's usage stats and lifecycle events
// into the bridge's Usage. Missing data degrades to nil rather than
// guessing; the tracker treats nil as "nothing to record".
func usageFromResponse(resp *api.Response) *Usage {
	if resp == nil || resp.Result == nil {
		return nil
	}
	u := resp.Result.Usage
	usage := &Usage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		LastCallInputTokens: u.InputTokens,
		CacheReadTokens:     u.CacheReadTokens,
	}
	for _, ev := range resp.HookEvents {
		// Exhaustive over the kinds the bridge cares about; everything
		// else is runtime-internal lifecycle noise.
		switch ev.Type {
		case coreevents.ContextCompacted:
			usage.Compacted = true
		case coreevents.SessionStart, coreevents.SessionEnd, coreevents.TokenUsage:
			// informational only
		}
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && !usage.Compacted {
		return nil
	}
	return usage
}
