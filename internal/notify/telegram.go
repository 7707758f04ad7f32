package notify

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v3"
)

// Telegram sends messages to one chat through the Bot API.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
}

// NewTelegram builds the sender; it validates the token against the
// API before returning.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chat: &tele.Chat{ID: chatID}}, nil
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	text := fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body)
	if _, err := t.bot.Send(t.chat, text, tele.ModeMarkdown); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
