package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cnsniper/internal/worker"
)

const (
	cmdNumbers = "numbers"
	cmdToggle  = "toggle"
	cbOpen     = "open"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
		b.answer(cb.ID, "Access denied.")
		return
	}

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		b.answer(cb.ID, "")
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cbOpen:
		err := b.deps.Clicker.NotificationClick(ctx, arg)
		switch {
		case err == nil:
			b.answer(cb.ID, "")
		case errors.Is(err, worker.ErrUnknownNotification):
			b.answer(cb.ID, "This notification has expired.")
		default:
			b.log.Error("notification click", "id", arg, "error", err)
			b.answer(cb.ID, "Could not open the offer.")
		}
	case cmdToggle:
		n, err := strconv.Atoi(arg)
		if err != nil {
			b.answer(cb.ID, "")
			return
		}
		numbers, err := b.deps.Numbers.ToggleNumber(ctx, n)
		if err != nil {
			b.answer(cb.ID, err.Error())
			return
		}
		b.answer(cb.ID, "")
		if cb.Message != nil {
			edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, numbersKeyboard(numbers))
			if _, err := b.api.Send(edit); err != nil {
				b.log.Error("update numbers keyboard", "error", err)
			}
		}
	default:
		b.answer(cb.ID, "")
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}
