package delivery

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramClient delivers text messages through the Telegram Bot API.
// Used when the assistant is bound to a Telegram bot instead of WhatsApp.
type TelegramClient struct {
	bot *telego.Bot
}

// NewTelegramClient creates a Bot API delivery client.
func NewTelegramClient(token string) (*TelegramClient, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramClient{bot: bot}, nil
}

func (c *TelegramClient) Name() string { return "telegram" }

func (c *TelegramClient) Deliver(ctx context.Context, recipient, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", recipient, err)
	}
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}
