// Package channel adapts the Telegram front end to the message bus. Thin
// glue: transport only, no conversation logic.
package channel

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/justSteve/claudeclaw/internal/bus"
	"github.com/justSteve/claudeclaw/internal/config"
)

// maxMessageLength is Telegram's hard limit per message.
const maxMessageLength = 4096

// TelegramBot is the slice of the bot API the channel uses; mockable in
// tests.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token string) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type Telegram struct {
	token      string
	bus        *bus.MessageBus
	bot        TelegramBot
	botFactory BotFactory
	cancel     context.CancelFunc
}

func NewTelegram(cfg config.TelegramConfig, b *bus.MessageBus) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramWithFactory creates a Telegram channel with a custom bot
// factory (for testing).
func NewTelegramWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &Telegram{token: cfg.Token, bus: b, botFactory: factory}, nil
}

// Start authorizes the bot, registers the outbound sender, and begins the
// long-polling loop.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := t.botFactory(t.token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)

	t.bus.SetSender(t.send)

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := bot.GetUpdatesChan(updateCfg)

	go t.pollLoop(runCtx, updates)
	return nil
}

func (t *Telegram) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

func (t *Telegram) pollLoop(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			t.bus.Inbound <- bus.InboundMessage{
				ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
				Content:   update.Message.Text,
				Timestamp: time.Unix(int64(update.Message.Date), 0),
			}
		case <-ctx.Done():
			return
		}
	}
}

// Typing sends a typing action. Best effort; Telegram expires the
// indicator after about five seconds, so callers refresh it while the
// agent works.
func (t *Telegram) Typing(chatID string) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || t.bot == nil {
		return
	}
	if _, err := t.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		log.Printf("[telegram] typing action warning: %v", err)
	}
}

func (t *Telegram) send(msg bus.OutboundMessage) error {
	id, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", msg.ChatID, err)
	}
	for _, part := range splitMessage(msg.Content) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitMessage chunks a long reply at Telegram's limit, preferring a
// newline boundary in the back half of the chunk.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var parts []string
	remaining := text
	for len(remaining) > maxMessageLength {
		chunk := remaining[:maxMessageLength]
		splitAt := maxMessageLength
		if idx := strings.LastIndex(chunk, "\n"); idx > maxMessageLength/2 {
			splitAt = idx
		}
		parts = append(parts, remaining[:splitAt])
		remaining = strings.TrimLeft(remaining[splitAt:], "\n ")
	}
	if remaining != "" {
		parts = append(parts, remaining)
	}
	return parts
}
