package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tracyhatemice/mailbot/internal/state"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

// DefaultSendTimeout bounds a single sendMessage call.
const DefaultSendTimeout = 10 * time.Second

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends notifications as chat messages. The chat ID is the user ID.
type Telegram struct {
	api     Sender
	timeout time.Duration
	logger  *slog.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(api Sender, logger *slog.Logger) *Telegram {
	return &Telegram{api: api, timeout: DefaultSendTimeout, logger: logger}
}

func (t *Telegram) Notify(ctx context.Context, user state.UserID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(int64(user), Truncate(text, maxMessageRunes))
	msg.DisableWebPagePreview = true

	if err := t.send(ctx, msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
			t.logger.Warn("chat unavailable, bot blocked or removed", "user", user, "error", apiErr.Message)
		}
		return fmt.Errorf("telegram send to %s: %w", user, err)
	}
	return nil
}

// send runs Send in the background so a stalled request cannot outlive ctx or
// the send timeout. The request itself is abandoned, not cancelled.
func (t *Telegram) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := t.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
