package bot

import (
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrInvalidToken is returned when Telegram rejects the bot token.
var ErrInvalidToken = errors.New("telegram token invalid or expired; get one from @BotFather")

// sender is the part of tgbotapi.BotAPI used to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Init connects to Telegram with the given token.
func Init(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set, check the .env file")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		if err.Error() == "Unauthorized" {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	api.Debug = false
	slog.Info("telegram bot authorized", "username", api.Self.UserName)
	return api, nil
}

// sendHTML sends an HTML message, retrying as plain text if Telegram rejects
// the markup.
func sendHTML(api sender, chatID int64, text string, logger *slog.Logger) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := api.Send(msg); err != nil {
		logger.Warn("html message rejected, sending as plain text", "error", err)
		msg.ParseMode = ""
		if _, err2 := api.Send(msg); err2 != nil {
			return fmt.Errorf("send message: %w", err2)
		}
	}
	return nil
}
