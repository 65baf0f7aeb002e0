package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/familycal/internal/domain"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.cmdHelp()
	case "today":
		b.cmdDay(b.today())
	case "tomorrow":
		b.cmdDay(b.today().AddDate(0, 0, 1))
	case "upcoming":
		b.cmdUpcoming()
	case "status":
		b.cmdStatus()
	case "open":
		b.cmdOpen(ctx, args)
	case "delete":
		b.cmdDelete(ctx, args)
	default:
		b.SendMessage(b.chatID, "Unknown command. /help for the list of commands")
	}
}

func (b *Bot) cmdHelp() {
	text := `<b>Commands:</b>

<b>Calendar</b>
/today - events today
/tomorrow - events tomorrow
/upcoming - pending reminders
/status - open calendar

<b>Manage</b>
/open CODE - open a calendar by share code
/delete ID - delete an event`

	b.SendMessage(b.chatID, text)
}

func (b *Bot) cmdDay(date time.Time) {
	name := b.calendarName()
	if name == "" {
		b.SendMessage(b.chatID, "No calendar open. /open CODE")
		return
	}

	events := b.events.EventsOn(date)
	text := fmt.Sprintf("📅 <b>%s</b>\n%s\n\n", date.Format("Mon, 02 Jan"), html.EscapeString(name))
	if len(events) == 0 {
		text += "Nothing planned."
	} else {
		text += formatEvents(events, b.loc)
	}

	b.SendMessageWithKeyboard(b.chatID, text, dayKeyboard(date, events))
}

func (b *Bot) cmdUpcoming() {
	st := b.reminders.Status()
	if len(st.Upcoming) == 0 {
		b.SendMessage(b.chatID, "🔔 No pending reminders")
		return
	}

	var sb strings.Builder
	sb.WriteString("🔔 <b>Next reminders</b>\n\n")
	for _, u := range st.Upcoming {
		fmt.Fprintf(&sb, "%s - %s (in %s)\n",
			u.FireTime.In(b.loc).Format("Mon 15:04"),
			html.EscapeString(u.Title),
			formatMinutes(u.MinutesUntil))
	}
	b.SendMessage(b.chatID, sb.String())
}

func (b *Bot) cmdStatus() {
	name := b.calendarName()
	if name == "" {
		b.SendMessage(b.chatID, "No calendar open. /open CODE")
		return
	}

	st := b.reminders.Status()
	running := "stopped"
	if st.Running {
		running = "running"
	}
	b.SendMessage(b.chatID, fmt.Sprintf("ℹ️ <b>%s</b>\nReminders: %d tracked, scheduler %s",
		html.EscapeString(name), st.Count, running))
}

func (b *Bot) cmdOpen(ctx context.Context, args string) {
	if args == "" {
		b.SendMessage(b.chatID, "Give the share code: /open ABCD1234")
		return
	}

	cal, err := b.session.Open(ctx, args)
	if err != nil {
		b.SendMessage(b.chatID, "❌ Could not open calendar: "+html.EscapeString(err.Error()))
		return
	}
	b.SendMessage(b.chatID, fmt.Sprintf("✅ Opened <b>%s</b>", html.EscapeString(cal.Name)))
}

func (b *Bot) cmdDelete(ctx context.Context, args string) {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		b.SendMessage(b.chatID, "Give the event ID: /delete 42")
		return
	}
	b.deleteEvent(ctx, id)
}

func (b *Bot) deleteEvent(ctx context.Context, id int64) {
	e, ok := b.events.Get(id)
	if !ok {
		b.SendMessage(b.chatID, fmt.Sprintf("Event #%d not found", id))
		return
	}
	if err := b.session.DeleteEvent(ctx, id); err != nil {
		b.SendMessage(b.chatID, "❌ Error: "+html.EscapeString(err.Error()))
		return
	}
	b.SendMessage(b.chatID, fmt.Sprintf("🗑 Deleted <b>%s</b>", html.EscapeString(e.Title)))
}

func formatEvents(events []domain.Event, loc *time.Location) string {
	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "<code>%s</code> %s <i>#%d</i>\n", e.FormatTime(loc), html.EscapeString(e.Title), e.ID)
		if e.HasReminder() {
			fmt.Fprintf(&sb, "   🔔 %s\n", domain.FormatReminder(e.ReminderMinutes))
		}
	}
	return sb.String()
}

func formatMinutes(m int) string {
	switch {
	case m <= 0:
		return "now"
	case m < 60:
		return fmt.Sprintf("%d min", m)
	case m < 1440:
		return fmt.Sprintf("%dh %02dm", m/60, m%60)
	default:
		return fmt.Sprintf("%dd", m/1440)
	}
}
