package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cnsniper/internal/model"
	"cnsniper/internal/worker"
)

var _ worker.Notifier = (*Bot)(nil)

// Show sends the notification to the configured chat with an "Open" button.
func (b *Bot) Show(_ context.Context, n model.Notification) error {
	msg := tgbotapi.NewMessage(b.chatID, FormatNotification(n))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = notificationKeyboard(n)

	sent, err := b.api.Send(msg)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	b.mu.Lock()
	b.sent[n.ID] = sent.MessageID
	b.mu.Unlock()
	return nil
}

// Close deletes the message of a relayed notification.
func (b *Bot) Close(_ context.Context, id string) error {
	b.mu.Lock()
	msgID, ok := b.sent[id]
	delete(b.sent, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(b.chatID, msgID)); err != nil {
		return fmt.Errorf("delete notification message: %w", err)
	}
	return nil
}

func notificationKeyboard(n model.Notification) tgbotapi.InlineKeyboardMarkup {
	row := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Open", cbOpen+":"+n.ID),
	)
	if link := worker.ClickURL(n.Data); strings.HasPrefix(link, "https://") {
		row = append(row, tgbotapi.NewInlineKeyboardButtonURL("Link", link))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
