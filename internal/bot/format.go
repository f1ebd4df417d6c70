package bot

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cnsniper/internal/model"
	"cnsniper/internal/settings"
)

// numbersPerRow is the width of the highlighted numbers keyboard.
const numbersPerRow = 8

// FormatNotification formats a notification as a Telegram message.
func FormatNotification(n model.Notification) string {
	var b strings.Builder
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(n.Body)
	}
	return b.String()
}

// FormatInterval formats the scan interval.
func FormatInterval(sec int) string {
	return fmt.Sprintf("Scan interval: %d s.", sec)
}

// FormatNumbers lists the highlighted numbers.
func FormatNumbers(numbers []int) string {
	if len(numbers) == 0 {
		return "No highlighted numbers. Use /numbers or /toggle <n> to pick some."
	}
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(n)
	}
	return "Highlighted numbers: " + strings.Join(parts, ", ")
}

// numbersKeyboard shows every selectable number; selected ones are marked.
func numbersKeyboard(selected []int) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for n := settings.MinNumber; n <= settings.MaxNumber; n++ {
		label := strconv.Itoa(n)
		if slices.Contains(selected, n) {
			label = "• " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%d", cmdToggle, n)))
		if len(row) == numbersPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
