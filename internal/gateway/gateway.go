// Package gateway wires the store, memory engine, context tracker,
// scheduler, and Telegram channel into the running bridge.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/justSteve/claudeclaw/internal/agent"
	"github.com/justSteve/claudeclaw/internal/bus"
	"github.com/justSteve/claudeclaw/internal/channel"
	"github.com/justSteve/claudeclaw/internal/config"
	"github.com/justSteve/claudeclaw/internal/memory"
	"github.com/justSteve/claudeclaw/internal/scheduler"
	"github.com/justSteve/claudeclaw/internal/store"
	"github.com/justSteve/claudeclaw/internal/tracker"
)

// InvokerFactory creates the agent Invoker (allows mocking in tests).
type InvokerFactory func(cfg *config.Config) (agent.Invoker, error)

// Options for creating a Gateway with test seams.
type Options struct {
	InvokerFactory InvokerFactory
	BotFactory     channel.BotFactory
	SignalChan     chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg      *config.Config
	store    *store.Store
	engine   *memory.Engine
	tracker  *tracker.Tracker
	bus      *bus.MessageBus
	invoker  agent.Invoker
	sched    *scheduler.Service
	telegram *channel.Telegram

	botFactory channel.BotFactory
	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	factory := opts.InvokerFactory
	if factory == nil {
		factory = func(cfg *config.Config) (agent.Invoker, error) {
			return agent.NewRunner(cfg)
		}
	}

	invoker, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	g := &Gateway{
		cfg:        cfg,
		store:      st,
		engine:     memory.NewEngine(st),
		tracker:    tracker.New(cfg.Agent.ContextLimit),
		bus:        bus.NewMessageBus(100),
		invoker:    invoker,
		botFactory: opts.BotFactory,
		signalChan: opts.SignalChan,
	}

	g.sched = scheduler.New(st, invoker, g.notifyOwner,
		time.Duration(cfg.Scheduler.PollSeconds)*time.Second)

	return g, nil
}

// notifyOwner delivers scheduler output to the allowed chat. Without a
// configured chat it can only log.
func (g *Gateway) notifyOwner(text string) error {
	if g.cfg.Telegram.AllowedChatID == "" {
		log.Printf("[gateway] task notice (no owner chat configured): %s", truncate(text, 120))
		return nil
	}
	g.bus.Outbound <- bus.OutboundMessage{ChatID: g.cfg.Telegram.AllowedChatID, Content: text}
	return nil
}

// Run starts every component and blocks until SIGINT/SIGTERM.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if g.cfg.Telegram.Enabled {
		tg, err := channelForConfig(g.cfg.Telegram, g.bus, g.botFactory)
		if err != nil {
			return fmt.Errorf("create telegram channel: %w", err)
		}
		if err := tg.Start(ctx); err != nil {
			return fmt.Errorf("start telegram channel: %w", err)
		}
		g.telegram = tg
	} else {
		log.Printf("[gateway] telegram disabled; scheduler-only mode")
	}

	g.engine.StartSweeper(ctx)
	g.sched.Start(ctx)
	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func channelForConfig(cfg config.TelegramConfig, b *bus.MessageBus, factory channel.BotFactory) (*channel.Telegram, error) {
	if factory != nil {
		return channel.NewTelegramWithFactory(cfg, b, factory)
	}
	return channel.NewTelegram(cfg, b)
}

func (g *Gateway) Shutdown() error {
	if g.telegram != nil {
		g.telegram.Stop()
	}
	if closer, ok := g.invoker.(interface{ Close() }); ok {
		closer.Close()
	}
	if err := g.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s: %s", msg.ChatID, truncate(msg.Content, 80))
			g.handleMessage(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	if !g.authorize(msg) {
		return
	}

	text := strings.TrimSpace(msg.Content)
	if strings.HasPrefix(text, "/") {
		if reply := g.handleCommand(msg.ChatID, text); reply != "" {
			g.reply(msg.ChatID, reply)
			return
		}
		// Unrecognized commands fall through to the agent.
	}

	g.handleTurn(ctx, msg.ChatID, text)
}

// authorize gates on the single allowed chat. An unconfigured bridge
// answers every chat with setup guidance; a configured one silently
// ignores strangers.
func (g *Gateway) authorize(msg bus.InboundMessage) bool {
	allowed := g.cfg.Telegram.AllowedChatID
	if allowed == "" {
		g.reply(msg.ChatID, fmt.Sprintf(
			"This bridge is not claimed yet. Your chat id is %s.\nSet it with CLAUDECLAW_ALLOWED_CHAT_ID or in %s, then restart.",
			msg.ChatID, config.ConfigPath()))
		return false
	}
	if msg.ChatID != allowed {
		log.Printf("[gateway] ignoring message from unauthorized chat %s", msg.ChatID)
		return false
	}
	return true
}

// handleCommand returns the reply for a built-in command, or "" when the
// text is not one.
func (g *Gateway) handleCommand(chatID, text string) string {
	cmd := text
	if idx := strings.IndexAny(cmd, " \t"); idx > 0 {
		cmd = cmd[:idx]
	}
	if idx := strings.Index(cmd, "@"); idx > 0 {
		cmd = cmd[:idx]
	}

	switch cmd {
	case "/start":
		return "claudeclaw is up.\n" +
			"/chatid - show this chat's id\n" +
			"/newchat - reset the agent session\n" +
			"/forget - reset the agent session\n" +
			"/memory - recent memories\n" +
			"/tasks - scheduled tasks"
	case "/chatid":
		return fmt.Sprintf("Chat id: %s", chatID)
	case "/newchat", "/forget":
		return g.resetSession(chatID)
	case "/memory":
		return g.renderMemories(chatID)
	case "/tasks":
		return g.renderTasks()
	}
	return ""
}

func (g *Gateway) resetSession(chatID string) string {
	sessionID, _, err := g.store.Session(chatID)
	if err != nil {
		log.Printf("[gateway] session lookup warning: %v", err)
	}
	if err := g.store.ClearSession(chatID); err != nil {
		return fmt.Sprintf("Could not reset the session: %v", err)
	}
	g.tracker.Forget(chatID, sessionID)
	return "Session reset. The next message starts a fresh conversation."
}

func (g *Gateway) renderMemories(chatID string) string {
	mems, err := g.store.RecentMemories(chatID, 10)
	if err != nil {
		return fmt.Sprintf("Could not read memories: %v", err)
	}
	if len(mems) == 0 {
		return "No memories for this chat yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent memories (%d):\n", len(mems))
	for _, m := range mems {
		fmt.Fprintf(&b, "- [%s %.2f] %s\n", m.Sector, m.Salience, truncate(m.Content, 120))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (g *Gateway) renderTasks() string {
	tasks, err := g.store.Tasks()
	if err != nil {
		return fmt.Sprintf("Could not read tasks: %v", err)
	}
	if len(tasks) == 0 {
		return "No scheduled tasks. Create one with 'claudeclaw schedule create'."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled tasks (%d):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s [%s] %q next %s\n",
			t.ID, t.Status, truncate(t.Prompt, 60),
			time.Unix(t.NextRun, 0).Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleTurn runs one ordinary conversation turn end to end.
func (g *Gateway) handleTurn(ctx context.Context, chatID, text string) {
	memCtx, err := g.engine.BuildContext(chatID, text)
	if err != nil {
		log.Printf("[memory] context build warning: %v", err)
		memCtx = ""
	}
	prompt := text
	if memCtx != "" {
		prompt = memCtx + "\n\n" + text
	}

	sessionID, _, err := g.store.Session(chatID)
	if err != nil {
		log.Printf("[gateway] session lookup warning: %v", err)
	}

	result, err := g.invoker.Invoke(ctx, prompt, sessionID, g.progressFor(chatID))
	if err != nil {
		// Failed turns leave no trace in the log or the memory ledger.
		log.Printf("[gateway] agent error: %v", err)
		g.reply(chatID, errorReply(err))
		return
	}

	if result.SessionID != "" && result.SessionID != sessionID {
		if err := g.store.SetSession(chatID, result.SessionID); err != nil {
			log.Printf("[gateway] session save warning: %v", err)
		}
	}

	if err := g.engine.RecordTurn(chatID, text, result.Text, result.SessionID, false); err != nil {
		log.Printf("[memory] record turn warning: %v", err)
	}

	reply := strings.TrimSpace(result.Text)
	if reply == "" {
		reply = "(no output)"
	}
	g.reply(chatID, reply)

	if warning := g.tracker.RecordAndWarn(chatID, result.SessionID, result.Usage); warning != "" {
		g.reply(chatID, warning)
	}
}

func (g *Gateway) progressFor(chatID string) func() {
	if g.telegram == nil {
		return nil
	}
	return func() { g.telegram.Typing(chatID) }
}

// errorReply maps an agent failure to the user-facing message.
// Context-exhaustion failures get an actionable hint instead of the
// generic apology.
func errorReply(err error) string {
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{"context limit", "context length", "too long", "maximum context", "prompt is too large"} {
		if strings.Contains(msg, sig) {
			return "The conversation has outgrown the model's context. Send /newchat to start a fresh session."
		}
	}
	return "Sorry, I encountered an error processing your message."
}

func (g *Gateway) reply(chatID, content string) {
	g.bus.Outbound <- bus.OutboundMessage{ChatID: chatID, Content: content}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
