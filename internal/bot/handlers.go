package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/familycal/internal/log"
)

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || callback.Message.Chat == nil || callback.Message.Chat.ID != b.chatID {
		return
	}

	// Acknowledge so the client stops the spinner
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		log.Debug("callback ack failed", "err", err)
	}

	data := callback.Data
	switch {
	case data == "upcoming":
		b.cmdUpcoming()

	case strings.HasPrefix(data, "del:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, "del:"), 10, 64)
		if err != nil {
			return
		}
		b.deleteEvent(ctx, id)

	case strings.HasPrefix(data, "day:"):
		date, ok := parseDayCallback(strings.TrimPrefix(data, "day:"), b.loc)
		if !ok {
			return
		}
		b.cmdDay(date)

	default:
		log.Debug("unknown callback", "data", data)
	}
}

// parseDayCallback reads "YYYY-MM-DD:prev" or "YYYY-MM-DD:next".
func parseDayCallback(s string, loc *time.Location) (time.Time, bool) {
	day, dir, found := strings.Cut(s, ":")
	if !found {
		return time.Time{}, false
	}
	date, err := time.ParseInLocation(dayLayout, day, loc)
	if err != nil {
		return time.Time{}, false
	}
	switch dir {
	case "prev":
		return date.AddDate(0, 0, -1), true
	case "next":
		return date.AddDate(0, 0, 1), true
	}
	return time.Time{}, false
}
