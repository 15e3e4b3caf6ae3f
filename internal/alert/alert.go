// Package alert delivers operator alerts over Telegram. Alerts are
// best-effort operational signals (dropped feed records, startup
// problems), not user notifications; those go through the push pipeline.
package alert

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "taskping/pkg/logx"
)

type Alerter interface {
	Alert(ctx context.Context, text string)
}

type Config struct {
	Token  string
	ChatID int64
}

// New builds a Telegram-backed alerter, or a no-op one when the config
// is incomplete.
func New(cfg Config, log logx.Logger) (Alerter, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return Nop(), nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: false,
		Poller:  nil, // send-only; no update polling
		Client:  nil,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telegram alert error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &telegramAlerter{bot: bot, chat: &tele.Chat{ID: cfg.ChatID}, log: log}, nil
}

type telegramAlerter struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

func (a *telegramAlerter) Alert(ctx context.Context, text string) {
	if text == "" {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := a.bot.Send(a.chat, text); err != nil {
			a.log.Warn("alert send failed", logx.Err(err))
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
	}
}

// Nop returns an alerter that drops everything.
func Nop() Alerter { return nopAlerter{} }

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, string) {}
