// Package bot is the agent's Telegram command interface: the family chat can
// look at the open calendar, switch calendars and see pending reminders.
package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
	"github.com/tazhate/familycal/internal/notify"
	"github.com/tazhate/familycal/internal/reminder"
)

// Session is the part of *agent.Session the bot drives.
type Session interface {
	Current() (domain.Calendar, bool)
	Open(ctx context.Context, shareCode string) (*domain.Calendar, error)
	DeleteEvent(ctx context.Context, id int64) error
}

// Events reads the open calendar. *eventstore.Store satisfies it.
type Events interface {
	EventsOn(date time.Time) []domain.Event
	Get(eventID int64) (domain.Event, bool)
}

// Reminders reports scheduler state. *reminder.Scheduler satisfies it.
type Reminders interface {
	Status() reminder.Status
}

type Bot struct {
	api       notify.BotAPI
	chatID    int64
	session   Session
	events    Events
	reminders Reminders
	loc       *time.Location
	now       func() time.Time
}

func New(api notify.BotAPI, chatID int64, session Session, events Events, reminders Reminders, loc *time.Location) *Bot {
	if loc == nil {
		loc = time.UTC
	}
	return &Bot{
		api:       api,
		chatID:    chatID,
		session:   session,
		events:    events,
		reminders: reminders,
		loc:       loc,
		now:       time.Now,
	}
}

// SetCommands publishes the command menu.
func (b *Bot) SetCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "today", Description: "📅 Events today"},
		{Command: "tomorrow", Description: "🗓 Events tomorrow"},
		{Command: "upcoming", Description: "🔔 Pending reminders"},
		{Command: "status", Description: "ℹ️ Open calendar"},
		{Command: "open", Description: "🔑 Open calendar by share code"},
		{Command: "help", Description: "❓ Help"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		log.Warn("failed to set bot commands", "err", err)
	}
}

// Start handles updates until ctx is done or the channel closes.
func (b *Bot) Start(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		if update.Message.Chat == nil || update.Message.Chat.ID != b.chatID {
			log.Debug("ignoring message from foreign chat")
			return
		}
		if update.Message.IsCommand() {
			b.handleCommand(ctx, update.Message)
			return
		}
		b.SendMessage(b.chatID, "Send /help for the list of commands")
	}
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := b.api.Send(msg)
	if err != nil {
		log.Warn("send bot message failed", "err", err)
	}
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	if err != nil {
		log.Warn("send bot message failed", "err", err)
	}
	return err
}

func (b *Bot) today() time.Time {
	now := b.now().In(b.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.loc)
}

func (b *Bot) calendarName() string {
	cal, ok := b.session.Current()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s (%s)", cal.Name, cal.ShareCode)
}
