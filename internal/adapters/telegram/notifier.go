// Package telegram delivers alert-only signals and risk notices to a
// Telegram chat.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/majiajue/longbridge-sub000/internal/events"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Config holds bot credentials and the target chat.
type Config struct {
	Token  string
	ChatID int64
}

// Notifier sends notifications through a Telegram bot. Send failures are
// logged, never propagated: notification delivery must not disturb the
// trading path.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *logger.Logger
}

// NewNotifier authenticates the bot.
func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "telegram token and chat id are required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "authenticate telegram bot")
	}
	return &Notifier{
		api:    api,
		chatID: cfg.ChatID,
		log:    logger.Get().With("component", "telegram"),
	}, nil
}

// Notify formats and sends a notification.
func (n *Notifier) Notify(ctx context.Context, p events.NotificationPayload) {
	text := fmt.Sprintf("*%s*\n%s", escape(p.Title), escape(p.Body))
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.api.Send(msg); err != nil {
		n.log.Warnw("Telegram send failed", "title", p.Title, "error", err)
		return
	}
	n.log.Debugw("Notification sent", "title", p.Title, "symbol", p.Symbol)
}

func escape(s string) string {
	r := []rune(s)
	out := make([]rune, 0, len(r))
	for _, c := range r {
		if c == '_' || c == '*' || c == '`' || c == '[' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
