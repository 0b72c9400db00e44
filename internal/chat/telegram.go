// Package chat delivers build notifications to the chat surface.
package chat

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends messages to originating chats. Implementations must be
// safe for concurrent use.
type Notifier interface {
	SendHTML(chatID int64, html string) error
}

type telegramNotifier struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram creates a Notifier backed by the Telegram bot API.
func NewTelegram(token string) (Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &telegramNotifier{bot: bot}, nil
}

func (n *telegramNotifier) SendHTML(chatID int64, html string) error {
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
