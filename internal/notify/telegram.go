package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"dmvwatch/internal/envutil"
	"dmvwatch/pkg/logx"
)

// Telegram broadcasts to a single chat via a bot token. Like the webhook
// channel it has one shared target, but it keeps its own dedup namespace
// so both broadcasts decide freshness independently.
//
// The bot connects lazily on the first send, so a channel enabled through
// a config reload starts working without a restart.
type Telegram struct {
	tokenEnv string
	chatEnv  string
	log      logx.Logger

	mu     sync.Mutex
	bot    *tele.Bot
	chatID int64
}

func NewTelegram(tokenEnv, chatEnv string, log logx.Logger) *Telegram {
	return &Telegram{tokenEnv: tokenEnv, chatEnv: chatEnv, log: log}
}

func (t *Telegram) Name() string { return "telegram" }

// Configured checks credential presence only; connecting is deferred to
// the first send.
func (t *Telegram) Configured() bool {
	return envutil.String(t.tokenEnv) != "" && envutil.String(t.chatEnv) != ""
}

func (t *Telegram) Send(ctx context.Context, ev Event) error {
	if !t.Configured() {
		return nil
	}

	bot, chatID, err := t.ensureBot()
	if err != nil {
		return err
	}

	text := "NC DMV availability at " + ev.Office + ": " + ev.Signature
	if ev.OfficeURL != "" {
		text += "\n" + ev.OfficeURL
	}
	_, err = bot.Send(tele.ChatID(chatID), text)
	return err
}

// ensureBot initializes the bot on first use. A failed attempt surfaces as
// a send error and is retried on the next send rather than disabling the
// channel for the process lifetime.
func (t *Telegram) ensureBot() (*tele.Bot, int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, t.chatID, nil
	}

	chatID, err := strconv.ParseInt(envutil.String(t.chatEnv), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram chat id in %s is not numeric", t.chatEnv)
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  envutil.String(t.tokenEnv),
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("telegram bot init: %w", err)
	}

	t.bot = bot
	t.chatID = chatID
	t.log.Info("telegram bot connected")
	return bot, chatID, nil
}
