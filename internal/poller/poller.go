// Package poller reconciles tracked addresses against the mail provider and
// notifies users about mail they have not seen yet.
package poller

import (
	"context"
	"log/slog"

	"github.com/tracyhatemice/mailbot/internal/notify"
	"github.com/tracyhatemice/mailbot/internal/provider"
	"github.com/tracyhatemice/mailbot/internal/state"
)

// DefaultAttachmentPageSize is the attachment page fetched per cycle.
const DefaultAttachmentPageSize = 50

// Result counts the notifications one cycle produced.
type Result struct {
	Messages    int
	Attachments int
}

// Poller runs one poll cycle for a (user, address) pair.
type Poller struct {
	registry *state.Registry
	provider provider.Provider
	notifier notify.Notifier
	pageSize int
	logger   *slog.Logger
}

// New creates a Poller. A non-positive pageSize selects the default.
func New(registry *state.Registry, prov provider.Provider, notifier notify.Notifier, pageSize int, logger *slog.Logger) *Poller {
	if pageSize <= 0 {
		pageSize = DefaultAttachmentPageSize
	}
	return &Poller{
		registry: registry,
		provider: prov,
		notifier: notifier,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Poll fetches the address's messages and notifies each unseen one, followed
// by its attachments. Each message is marked seen before it is sent and the
// snapshot is persisted after it. Failures are logged; Poll never aborts the
// caller's sweep.
func (p *Poller) Poll(ctx context.Context, user state.UserID, address string) Result {
	var res Result

	if !p.registry.EnsureSeen(user, address) {
		p.logger.Debug("address no longer tracked, skipping", "user", user, "address", address)
		return res
	}

	msgs := p.provider.ListMessages(ctx, address)
	if len(msgs) == 0 {
		p.logger.Debug("no messages", "user", user, "address", address)
		return res
	}

	var page []provider.Attachment
	pageLoaded := false

	for _, m := range msgs {
		if ctx.Err() != nil {
			p.logger.Debug("poll cancelled", "user", user, "address", address)
			break
		}

		if !p.registry.MarkSeen(user, address, m.ID) {
			continue
		}

		p.send(ctx, user, address, m.ID, notify.FormatMessage(address, m))
		res.Messages++

		if m.HasAttachments {
			if !pageLoaded {
				page = p.provider.ListAttachments(ctx, address, p.pageSize, 0)
				pageLoaded = true
			}
			for _, a := range attachmentsFor(page, m.ID) {
				p.send(ctx, user, address, m.ID, notify.FormatAttachment(address, a))
				res.Attachments++
			}
		}

		if err := p.registry.Persist(ctx); err != nil {
			p.logger.Warn("state not persisted, will retry on next change",
				"user", user, "address", address, "msg_id", m.ID, "error", err)
		}
	}

	if res.Messages > 0 {
		p.logger.Info("notified new mail",
			"user", user,
			"address", address,
			"messages", res.Messages,
			"attachments", res.Attachments,
		)
	}
	return res
}

func (p *Poller) send(ctx context.Context, user state.UserID, address, msgID, text string) {
	if err := p.notifier.Notify(ctx, user, text); err != nil {
		p.logger.Error("notify failed",
			"user", user,
			"address", address,
			"msg_id", msgID,
			"error", err,
		)
	}
}

// attachmentsFor narrows page to msgID when the provider scopes attachments
// to messages. Otherwise the whole page is attributed to the message.
func attachmentsFor(page []provider.Attachment, msgID string) []provider.Attachment {
	scoped := false
	for _, a := range page {
		if a.MessageID != "" {
			scoped = true
			break
		}
	}
	if !scoped {
		return page
	}

	var out []provider.Attachment
	for _, a := range page {
		if a.MessageID == msgID {
			out = append(out, a)
		}
	}
	return out
}
