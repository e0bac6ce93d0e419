package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justSteve/claudeclaw/internal/agent"
	"github.com/justSteve/claudeclaw/internal/bus"
	"github.com/justSteve/claudeclaw/internal/config"
)

type fakeInvoker struct {
	prompts  []string
	sessions []string
	result   *agent.Result
	err      error
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt, sessionID string, onProgress func()) (*agent.Result, error) {
	f.prompts = append(f.prompts, prompt)
	f.sessions = append(f.sessions, sessionID)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestGateway(t *testing.T, inv *fakeInvoker) *Gateway {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Telegram.AllowedChatID = "42"

	g, err := NewWithOptions(cfg, Options{
		InvokerFactory: func(cfg *config.Config) (agent.Invoker, error) { return inv, nil },
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() { g.store.Close() })
	return g
}

func drainOutbound(t *testing.T, g *Gateway) []bus.OutboundMessage {
	t.Helper()
	var msgs []bus.OutboundMessage
	for {
		select {
		case m := <-g.bus.Outbound:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func inbound(chatID, content string) bus.InboundMessage {
	return bus.InboundMessage{ChatID: chatID, Content: content}
}

func TestHandleMessage_HappyPathPersistsEverything(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "Dark mode it is.", SessionID: "sess-1"}}
	g := newTestGateway(t, inv)

	g.handleMessage(context.Background(), inbound("42", "I prefer dark mode in every editor"))

	msgs := drainOutbound(t, g)
	if len(msgs) != 1 || msgs[0].Content != "Dark mode it is." {
		t.Fatalf("outbound = %+v", msgs)
	}

	id, ok, err := g.store.Session("42")
	if err != nil || !ok || id != "sess-1" {
		t.Errorf("session = (%q, %v, %v), want sess-1", id, ok, err)
	}

	turns, _ := g.store.RecentTurns("42", 10)
	if len(turns) != 2 {
		t.Errorf("transcript rows = %d, want 2", len(turns))
	}
	mems, _ := g.store.RecentMemories("42", 10)
	if len(mems) != 1 {
		t.Errorf("memories = %d, want 1", len(mems))
	}
}

func TestHandleMessage_ResumesStoredSession(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "ok", SessionID: "sess-old"}}
	g := newTestGateway(t, inv)
	if err := g.store.SetSession("42", "sess-old"); err != nil {
		t.Fatalf("SetSession error: %v", err)
	}

	g.handleMessage(context.Background(), inbound("42", "carry on from before"))

	if len(inv.sessions) != 1 || inv.sessions[0] != "sess-old" {
		t.Errorf("invoked with sessions %v, want stored handle", inv.sessions)
	}
}

func TestHandleMessage_MemoryContextPrepended(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "Rex!", SessionID: "s"}}
	g := newTestGateway(t, inv)
	if err := g.store.SaveMemory("42", "my dog's name is Rex", "semantic", ""); err != nil {
		t.Fatalf("SaveMemory error: %v", err)
	}

	g.handleMessage(context.Background(), inbound("42", "what's my dog called?"))

	if len(inv.prompts) != 1 {
		t.Fatalf("prompts = %v", inv.prompts)
	}
	prompt := inv.prompts[0]
	if !strings.HasPrefix(prompt, "[Memory context]") {
		t.Errorf("prompt missing context block:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "what's my dog called?") {
		t.Errorf("user message not last:\n%s", prompt)
	}
}

func TestHandleMessage_AgentErrorPersistsNothing(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("model overloaded")}
	g := newTestGateway(t, inv)

	g.handleMessage(context.Background(), inbound("42", "I prefer dark mode in every editor"))

	msgs := drainOutbound(t, g)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Sorry") {
		t.Fatalf("outbound = %+v, want apology", msgs)
	}
	if turns, _ := g.store.RecentTurns("42", 10); len(turns) != 0 {
		t.Errorf("failed turn wrote %d transcript rows", len(turns))
	}
	if mems, _ := g.store.RecentMemories("42", 10); len(mems) != 0 {
		t.Errorf("failed turn wrote %d memories", len(mems))
	}
	if _, ok, _ := g.store.Session("42"); ok {
		t.Error("failed turn stored a session")
	}
}

func TestHandleMessage_ContextExhaustionHint(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("request exceeds the maximum context length")}
	g := newTestGateway(t, inv)

	g.handleMessage(context.Background(), inbound("42", "keep going please"))

	msgs := drainOutbound(t, g)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "/newchat") {
		t.Fatalf("outbound = %+v, want /newchat hint", msgs)
	}
}

func TestHandleMessage_ContextWarningIsSeparateMessage(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{
		Text:      "fine",
		SessionID: "sess-1",
		Usage:     &agent.Usage{InputTokens: 10, OutputTokens: 1, LastCallInputTokens: 10, Compacted: true},
	}}
	g := newTestGateway(t, inv)

	g.handleMessage(context.Background(), inbound("42", "hello there friend"))

	msgs := drainOutbound(t, g)
	if len(msgs) != 2 {
		t.Fatalf("outbound = %+v, want reply then warning", msgs)
	}
	if msgs[0].Content != "fine" {
		t.Errorf("first message = %q, want the reply", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "compacted") {
		t.Errorf("second message = %q, want compaction warning", msgs[1].Content)
	}
}

func TestAuthorize_UnclaimedBridgeRepliesWithChatID(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "x", SessionID: "s"}}
	g := newTestGateway(t, inv)
	g.cfg.Telegram.AllowedChatID = ""

	g.handleMessage(context.Background(), inbound("7", "hello?"))

	msgs := drainOutbound(t, g)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "7") {
		t.Fatalf("outbound = %+v, want setup guidance with chat id", msgs)
	}
	if len(inv.prompts) != 0 {
		t.Error("unclaimed bridge invoked the agent")
	}
}

func TestAuthorize_StrangerIgnored(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "x", SessionID: "s"}}
	g := newTestGateway(t, inv)

	g.handleMessage(context.Background(), inbound("666", "let me in"))

	if msgs := drainOutbound(t, g); len(msgs) != 0 {
		t.Errorf("stranger got a reply: %+v", msgs)
	}
	if len(inv.prompts) != 0 {
		t.Error("stranger reached the agent")
	}
}

func TestCommand_NewChatClearsSessionAndBaseline(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "x", SessionID: "s"}}
	g := newTestGateway(t, inv)
	if err := g.store.SetSession("42", "sess-old"); err != nil {
		t.Fatalf("SetSession error: %v", err)
	}
	g.tracker.RecordAndWarn("42", "sess-old", &agent.Usage{InputTokens: 5, LastCallInputTokens: 5})

	g.handleMessage(context.Background(), inbound("42", "/newchat"))

	msgs := drainOutbound(t, g)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "reset") {
		t.Fatalf("outbound = %+v", msgs)
	}
	if _, ok, _ := g.store.Session("42"); ok {
		t.Error("session survived /newchat")
	}
	if _, ok := g.tracker.LastUsage("42", "sess-old"); ok {
		t.Error("tracker state survived /newchat")
	}
	if len(inv.prompts) != 0 {
		t.Error("command reached the agent")
	}
}

func TestCommand_MemoryAndTasks(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "x", SessionID: "s"}}
	g := newTestGateway(t, inv)
	if err := g.store.SaveMemory("42", "I prefer dark mode in every editor", "semantic", ""); err != nil {
		t.Fatalf("SaveMemory error: %v", err)
	}

	g.handleMessage(context.Background(), inbound("42", "/memory"))
	msgs := drainOutbound(t, g)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "dark mode") {
		t.Fatalf("/memory reply = %+v", msgs)
	}

	g.handleMessage(context.Background(), inbound("42", "/tasks"))
	msgs = drainOutbound(t, g)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "No scheduled tasks") {
		t.Fatalf("/tasks reply = %+v", msgs)
	}
}

func TestCommand_BotSuffixAccepted(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "x", SessionID: "s"}}
	g := newTestGateway(t, inv)

	g.handleMessage(context.Background(), inbound("42", "/chatid@claudeclaw_bot"))

	msgs := drainOutbound(t, g)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "42") {
		t.Fatalf("outbound = %+v, want chat id reply", msgs)
	}
}

func TestCommand_UnknownFallsThroughToAgent(t *testing.T) {
	inv := &fakeInvoker{result: &agent.Result{Text: "no idea", SessionID: "s"}}
	g := newTestGateway(t, inv)

	g.handleMessage(context.Background(), inbound("42", "/weather tomorrow"))

	if len(inv.prompts) != 1 {
		t.Fatalf("unknown command did not reach the agent: %v", inv.prompts)
	}
}
