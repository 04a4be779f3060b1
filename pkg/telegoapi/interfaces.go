package telegoapi

import (
	"context"

	"github.com/mymmrac/telego"
)

// BotAPI is the part of the Telegram Bot API used for operator alerts.
// It is satisfied by *telego.Bot and by test mocks.
type BotAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	GetMe(ctx context.Context) (*telego.User, error)
}

// NewBot creates a Telegram bot client for token.
func NewBot(token string, opts ...telego.BotOption) (BotAPI, error) {
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, err
	}
	return bot, nil
}
