// Package notify delivers text notifications to users.
package notify

import (
	"context"
	"errors"

	"github.com/tracyhatemice/mailbot/internal/state"
)

// Notifier delivers text to a user. Callers log a returned error and move on.
type Notifier interface {
	Notify(ctx context.Context, user state.UserID, text string) error
}

// Multi fans a notification out to every notifier in order. All notifiers
// are attempted; their errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, user state.UserID, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, user, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
