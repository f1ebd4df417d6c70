// Package bot relays notifications to a Telegram chat and answers a few
// read-only commands about the scanner.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cnsniper/internal/config"
	"cnsniper/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Clicker handles a click on a relayed notification.
type Clicker interface {
	NotificationClick(ctx context.Context, id string) error
}

// Backend is the scanner API used by the commands.
type Backend interface {
	Dashboard(ctx context.Context) (*model.Dashboard, error)
	GetInterval(ctx context.Context) (int, error)
	SetInterval(ctx context.Context, seconds int) error
}

// Numbers reads and toggles the highlighted numbers.
type Numbers interface {
	HighlightNumbers() []int
	ToggleNumber(ctx context.Context, n int) ([]int, error)
}

// Deps are the collaborators the bot acts on.
type Deps struct {
	Clicker Clicker
	Backend Backend
	Numbers Numbers
}

// Bot is the Telegram relay. It implements worker.Notifier.
type Bot struct {
	api    telegramAPI
	cfg    *config.Config
	deps   Deps
	chatID int64
	log    *slog.Logger

	mu   sync.Mutex
	sent map[string]int
}

// New creates a Bot for the configured token and chat.
func New(cfg *config.Config, deps Deps, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, cfg, deps, log), nil
}

func newBot(api telegramAPI, cfg *config.Config, deps Deps, log *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		cfg:    cfg,
		deps:   deps,
		chatID: cfg.TelegramChatID,
		log:    log,
		sent:   make(map[string]int),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case cmdNumbers:
		b.handleNumbers(chatID)
	case cmdToggle:
		b.handleToggle(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
