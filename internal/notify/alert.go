// Package notify sends short operator alerts about the mirror's lifecycle.
package notify

import (
	"context"
	"fmt"
	"time"

	tu "github.com/mymmrac/telego/telegoutil"

	"skymirror/internal/locales"
	"skymirror/internal/observe"
	"skymirror/pkg/telegoapi"
)

// Alert message IDs, resolved through the locales bundle.
const (
	AlertStarted         = "MsgAlertStarted"
	AlertUserUnavailable = "MsgAlertUserUnavailable"
	AlertCycleFailed     = "MsgAlertCycleFailed"
	AlertPublished       = "MsgAlertPublished"
)

const sendTimeout = 10 * time.Second

// Alerter delivers an alert. Delivery failures are the alerter's concern,
// never the caller's.
type Alerter interface {
	Alert(ctx context.Context, msgID string, data map[string]any)
}

// NopAlerter drops every alert.
type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, string, map[string]any) {}

// TelegramAlerter posts localized alerts into one Telegram chat.
type TelegramAlerter struct {
	bot    telegoapi.BotAPI
	chatID int64
	lang   string
	log    observe.Logger
}

// NewTelegramAlerter returns an Alerter writing to chatID in language lang.
func NewTelegramAlerter(bot telegoapi.BotAPI, chatID int64, lang string, sink observe.Sink) *TelegramAlerter {
	if lang == "" {
		lang = locales.DefaultLanguage
	}
	return &TelegramAlerter{
		bot:    bot,
		chatID: chatID,
		lang:   lang,
		log:    observe.NewLogger(sink, "notify"),
	}
}

func (a *TelegramAlerter) Alert(ctx context.Context, msgID string, data map[string]any) {
	text := locales.Message(a.lang, msgID, data)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(a.chatID), text)); err != nil {
		a.log.WarnErr(fmt.Errorf("send alert to chat %d: %w", a.chatID, err), "Alert not delivered", "alert", msgID)
		return
	}
	a.log.Debug("Alert sent", "alert", msgID)
}
