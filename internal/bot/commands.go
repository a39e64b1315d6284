package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tracyhatemice/mailbot/internal/inbox"
	"github.com/tracyhatemice/mailbot/internal/state"
)

const helpText = `📬 Temp mail bot

/new - create a random address
/add <address> - track an existing address
/delete <address> - stop tracking an address
/list - show tracked addresses
/check - check all inboxes now
/clear - forget all addresses and history
/export - list addresses, one per line
/import <a1,a2,...> - track several addresses
/domains - show available domains
/help - show this message`

// Commands turns chat commands into inbox service calls and renders replies.
type Commands struct {
	svc *inbox.Service
}

// NewCommands creates the command router.
func NewCommands(svc *inbox.Service) *Commands {
	return &Commands{svc: svc}
}

// Dispatch runs command (without the leading slash) for user and returns the
// reply text. Any command registers the user.
func (c *Commands) Dispatch(ctx context.Context, user state.UserID, command, args string) string {
	args = strings.TrimSpace(args)
	c.svc.Start(user)

	switch command {
	case "start":
		return helpText
	case "help":
		return helpText
	case "new":
		return c.create(ctx, user)
	case "add":
		return c.add(ctx, user, args)
	case "delete":
		return c.remove(ctx, user, args)
	case "list":
		return c.list(user)
	case "check":
		return c.check(ctx, user)
	case "clear":
		if err := c.svc.ClearAll(ctx, user); err != nil {
			return "⚠️ Could not clear your data."
		}
		return "🧹 All addresses and history cleared."
	case "export":
		out := c.svc.Export(user)
		if out == "" {
			return "You are not tracking any addresses."
		}
		return out
	case "import":
		return c.importAll(ctx, user, args)
	case "domains":
		return c.domains(ctx)
	default:
		return "Unknown command. Send /help for the list."
	}
}

func (c *Commands) create(ctx context.Context, user state.UserID) string {
	addr, err := c.svc.CreateAddress(ctx, user)
	if errors.Is(err, inbox.ErrNoDomains) {
		return "⚠️ The mail service is unavailable right now. Try again later."
	}
	if err != nil {
		return "⚠️ Could not create an address."
	}
	return fmt.Sprintf("✅ New address: %s", addr)
}

func (c *Commands) add(ctx context.Context, user state.UserID, args string) string {
	if args == "" {
		return "Usage: /add <address>"
	}
	addr, added, err := c.svc.AddAddress(ctx, user, args)
	if errors.Is(err, inbox.ErrInvalidAddress) {
		return fmt.Sprintf("⚠️ %q is not a valid address.", args)
	}
	if err != nil {
		return "⚠️ Could not add the address."
	}
	if !added {
		return fmt.Sprintf("%s is already tracked.", addr)
	}
	return fmt.Sprintf("✅ Now tracking %s", addr)
}

func (c *Commands) remove(ctx context.Context, user state.UserID, args string) string {
	if args == "" {
		return "Usage: /delete <address>"
	}
	addr, removed, err := c.svc.RemoveAddress(ctx, user, args)
	if errors.Is(err, inbox.ErrInvalidAddress) {
		return fmt.Sprintf("⚠️ %q is not a valid address.", args)
	}
	if err != nil {
		return "⚠️ Could not remove the address."
	}
	if !removed {
		return fmt.Sprintf("%s is not tracked.", addr)
	}
	return fmt.Sprintf("🗑 Stopped tracking %s", addr)
}

func (c *Commands) list(user state.UserID) string {
	addrs := c.svc.ListAddresses(user)
	if len(addrs) == 0 {
		return "You are not tracking any addresses. Use /new or /add."
	}
	var b strings.Builder
	b.WriteString("📋 Tracked addresses:")
	for i, a := range addrs {
		fmt.Fprintf(&b, "\n%d. %s", i+1, a)
	}
	return b.String()
}

func (c *Commands) check(ctx context.Context, user state.UserID) string {
	sum := c.svc.CheckNow(ctx, user)
	if sum.Addresses == 0 {
		return "You are not tracking any addresses."
	}
	if sum.Messages == 0 {
		return fmt.Sprintf("No new mail in %d inbox(es).", sum.Addresses)
	}
	return fmt.Sprintf("Done: %d new message(s), %d attachment(s).", sum.Messages, sum.Attachments)
}

func (c *Commands) importAll(ctx context.Context, user state.UserID, args string) string {
	if args == "" {
		return "Usage: /import <a1,a2,...>"
	}
	res, err := c.svc.Import(ctx, user, args)
	if err != nil {
		return "⚠️ Could not import addresses."
	}
	msg := fmt.Sprintf("📥 Imported %d address(es).", res.Added)
	if len(res.Invalid) > 0 {
		msg += "\nSkipped invalid: " + strings.Join(res.Invalid, ", ")
	}
	return msg
}

func (c *Commands) domains(ctx context.Context) string {
	domains, err := c.svc.Domains(ctx)
	if err != nil {
		return "⚠️ The mail service is unavailable right now. Try again later."
	}
	return "🌐 Available domains:\n" + strings.Join(domains, "\n")
}
