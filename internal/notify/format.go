package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tracyhatemice/mailbot/internal/provider"
)

// FormatMessage renders the notification for a new message.
func FormatMessage(address string, m provider.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📧 New email at %s\n", address)
	fmt.Fprintf(&b, "From: %s\n", m.From)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	fmt.Fprintf(&b, "ID: %s", m.ID)
	if intro := strings.TrimSpace(m.Intro); intro != "" {
		fmt.Fprintf(&b, "\n\n%s", intro)
	}
	return b.String()
}

// FormatAttachment renders the notification for one attachment.
func FormatAttachment(address string, a provider.Attachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📎 Attachment at %s\n", address)
	fmt.Fprintf(&b, "File: %s", a.Filename)
	if a.Size > 0 {
		fmt.Fprintf(&b, " (%s)", humanize.Bytes(uint64(a.Size)))
	}
	if a.URL != "" {
		fmt.Fprintf(&b, "\nDownload: %s", a.URL)
	}
	return b.String()
}
