// Package monitoring carries the operational side channels: Telegram
// alerts for failed runs and a health snapshot for the HTTP surface.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Alerter pushes operator alerts to a Telegram chat. With no token
// configured it stays enabled-off and every Alert is a silent no-op.
type Alerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewAlerter builds an Alerter. An empty token disables alerting rather
// than failing, so deployments without Telegram keep working.
func NewAlerter(token string, chatID int64, logger *slog.Logger) (*Alerter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Alerter{chatID: chatID, logger: logger.With("component", "alerts")}

	if token == "" || chatID == 0 {
		a.logger.Info("telegram alerting disabled")
		return a, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bot = bot
	a.logger.Info("telegram alerting enabled", "bot", bot.Self.UserName)
	return a, nil
}

// Enabled reports whether alerts actually go anywhere.
func (a *Alerter) Enabled() bool {
	return a.bot != nil
}

// Alert sends a message to the configured chat. Delivery failures are
// logged, never propagated; alerting must not break the workflow.
func (a *Alerter) Alert(ctx context.Context, message string) {
	if a.bot == nil {
		return
	}
	if err := ctx.Err(); err != nil {
		return
	}
	if _, err := a.bot.Send(tgbotapi.NewMessage(a.chatID, message)); err != nil {
		a.logger.Error("alert delivery failed", "error", err)
	}
}
