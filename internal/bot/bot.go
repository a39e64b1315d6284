// Package bot routes Telegram chat commands to the inbox service.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tracyhatemice/mailbot/internal/notify"
	"github.com/tracyhatemice/mailbot/internal/state"
)

// longPollSeconds is the getUpdates long-poll timeout.
const longPollSeconds = 30

// httpTimeout bounds every Bot API request and must exceed the long poll.
const httpTimeout = (longPollSeconds + 15) * time.Second

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot receives updates and answers commands, one update at a time. /check
// runs in the background so a slow sweep does not hold up other chats.
type Bot struct {
	api      API
	commands *Commands
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New creates a Bot.
func New(api API, commands *Commands, logger *slog.Logger) *Bot {
	return &Bot{api: api, commands: commands, logger: logger}
}

// NewAPI connects to the Bot API at endpoint (tgbotapi.APIEndpoint when
// empty) and routes the library's logging through logger.
func NewAPI(token, endpoint string, logger *slog.Logger) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if err := tgbotapi.SetLogger(slogAdapter{logger: logger}); err != nil {
		return nil, fmt.Errorf("setting telegram logger: %w", err)
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: httpTimeout})
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	logger.Info("authorized on telegram", "bot", api.Self.UserName)
	return api, nil
}

// Run handles updates until ctx is cancelled, then waits for background
// checks to finish.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = longPollSeconds
	updates := b.api.GetUpdatesChan(cfg)

	b.logger.Info("bot started")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("bot stopped")
			return
		case upd, ok := <-updates:
			if !ok {
				b.logger.Info("update channel closed")
				return
			}
			b.handle(ctx, upd)
		}
	}
}

func (b *Bot) handle(ctx context.Context, upd tgbotapi.Update) {
	m := upd.Message
	if m == nil || m.Chat == nil {
		return
	}
	user := state.UserID(m.Chat.ID)

	if !m.IsCommand() {
		b.reply(user, "Send /help to see what I can do.")
		return
	}

	cmd, args := m.Command(), m.CommandArguments()
	b.logger.Debug("command received", "user", user, "command", cmd)

	if cmd == "check" {
		b.reply(user, "🔄 Checking your inboxes…")
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.reply(user, b.commands.Dispatch(ctx, user, cmd, args))
		}()
		return
	}

	b.reply(user, b.commands.Dispatch(ctx, user, cmd, args))
}

func (b *Bot) reply(user state.UserID, text string) {
	msg := tgbotapi.NewMessage(int64(user), notify.Truncate(text, 4096))
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("reply failed", "user", user, "error", err)
	}
}

// slogAdapter satisfies tgbotapi.BotLogger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Println(v ...interface{}) {
	a.logger.Debug(fmt.Sprint(v...), "component", "telegram")
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...), "component", "telegram")
}
