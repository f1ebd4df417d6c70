package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cnsniper/internal/api"
	"cnsniper/internal/session"
	"cnsniper/internal/stats"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to CN Sniper!

New offers matching the scanner show up here as notifications.
Press "Open" on a notification to jump to the offer in the app.

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/stats — scanner statistics
/interval — show the scan interval
/interval <seconds> — change the scan interval (min 30)
/numbers — pick highlighted numbers
/toggle <n> — toggle a highlighted number (1-40)`)
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	d, err := b.deps.Backend.Dashboard(ctx)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	b.reply(chatID, stats.Text(d))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	if args == "" {
		sec, err := b.deps.Backend.GetInterval(ctx)
		if err != nil {
			b.reply(chatID, errorText(err))
			return
		}
		b.reply(chatID, FormatInterval(sec))
		return
	}

	sec, err := ParseIntervalArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := b.deps.Backend.SetInterval(ctx, sec); err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Scan interval set to %d s.", sec))
}

func (b *Bot) handleNumbers(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, FormatNumbers(b.deps.Numbers.HighlightNumbers()))
	msg.ReplyMarkup = numbersKeyboard(b.deps.Numbers.HighlightNumbers())
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send numbers keyboard", "error", err)
	}
}

func (b *Bot) handleToggle(ctx context.Context, chatID int64, args string) {
	n, err := ParseNumberArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	numbers, err := b.deps.Numbers.ToggleNumber(ctx, n)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatNumbers(numbers))
}

// errorText maps API failures to a reply.
func errorText(err error) string {
	if msg := session.Message(err); msg != "" {
		return msg
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Backend error (%d): %s", apiErr.Status, apiErr.Detail)
	}
	if errors.Is(err, api.ErrValidation) {
		return err.Error()
	}
	return fmt.Sprintf("Error: %v", err)
}
