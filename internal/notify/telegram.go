package notify

import (
	"context"
	"fmt"
	"html"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
)

// BotAPI is the subset of *tgbotapi.BotAPI the channel uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramChannel is the system-level channel. A repeated notification with
// the same correlation id deletes the previous message first, so the chat
// shows one message per event.
type TelegramChannel struct {
	api    BotAPI
	chatID int64

	mu   sync.Mutex
	sent map[string]int
}

func NewTelegramChannel(api BotAPI, chatID int64) *TelegramChannel {
	return &TelegramChannel{
		api:    api,
		chatID: chatID,
		sent:   make(map[string]int),
	}
}

// DialTelegram authorizes the bot token and returns the client together
// with a ready channel for chatID.
func DialTelegram(token string, chatID int64) (*tgbotapi.BotAPI, *TelegramChannel, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("telegram channel authorized", "bot", api.Self.UserName)
	return api, NewTelegramChannel(api, chatID), nil
}

func (c *TelegramChannel) Name() string { return "system" }

func (c *TelegramChannel) Deliver(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	prev, ok := c.sent[n.CorrelationID]
	c.mu.Unlock()

	if ok && n.CorrelationID != "" {
		if _, err := c.api.Request(tgbotapi.NewDeleteMessage(c.chatID, prev)); err != nil {
			// The old message may already be gone; still send the new one.
			log.Debug("delete previous reminder message", "message_id", prev, "err", err)
		}
	}

	msg := tgbotapi.NewMessage(c.chatID, formatTelegram(n))
	msg.ParseMode = "HTML"
	sent, err := c.api.Send(msg)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	if n.CorrelationID != "" {
		c.mu.Lock()
		c.sent[n.CorrelationID] = sent.MessageID
		c.mu.Unlock()
	}
	return nil
}

func formatTelegram(n domain.Notification) string {
	return fmt.Sprintf("🔔 <b>%s</b>\n\n%s", html.EscapeString(n.Title), html.EscapeString(n.Body))
}
