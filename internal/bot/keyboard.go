package bot

import (
	"fmt"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/familycal/internal/domain"
)

const dayLayout = "2006-01-02"

// Day view keyboard: one delete button per event plus day navigation
func dayKeyboard(date time.Time, events []domain.Event) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	for _, e := range events {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				"🗑 "+truncate(e.Title, 25),
				fmt.Sprintf("del:%d", e.ID),
			),
		))
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("◀️", "day:"+date.Format(dayLayout)+":prev"),
		tgbotapi.NewInlineKeyboardButtonData("🔔 Upcoming", "upcoming"),
		tgbotapi.NewInlineKeyboardButtonData("▶️", "day:"+date.Format(dayLayout)+":next"),
	))

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
