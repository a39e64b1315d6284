// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tracyhatemice/mailbot/internal/provider"
	"github.com/tracyhatemice/mailbot/internal/state"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRegistry returns a registry backed by a JSON file in a temp dir,
// along with the file path so tests can restart from it.
func NewTestRegistry(t *testing.T) (*state.Registry, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state.json")
	r := state.NewRegistry(context.Background(), state.NewFileStore(path), DiscardLogger())
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("closing test registry: %v", err)
		}
	})
	return r, path
}

// FakeProvider serves canned messages and attachments per address. An
// address marked failing returns empty results, like a provider outage.
type FakeProvider struct {
	mu          sync.Mutex
	domains     []string
	messages    map[string][]provider.Message
	attachments map[string][]provider.Attachment
	failing     map[string]bool

	messageCalls    map[string]int
	attachmentCalls map[string]int
}

// NewFakeProvider returns a provider serving domains.
func NewFakeProvider(domains ...string) *FakeProvider {
	return &FakeProvider{
		domains:         domains,
		messages:        make(map[string][]provider.Message),
		attachments:     make(map[string][]provider.Attachment),
		failing:         make(map[string]bool),
		messageCalls:    make(map[string]int),
		attachmentCalls: make(map[string]int),
	}
}

// SetDomains replaces the domain list.
func (f *FakeProvider) SetDomains(domains ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains = domains
}

// SetMessages replaces the messages reported for address.
func (f *FakeProvider) SetMessages(address string, msgs ...provider.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[address] = msgs
}

// SetAttachments replaces the attachments reported for address.
func (f *FakeProvider) SetAttachments(address string, atts ...provider.Attachment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments[address] = atts
}

// SetFailing toggles an outage for address.
func (f *FakeProvider) SetFailing(address string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[address] = failing
}

// MessageCalls returns how often ListMessages was called for address.
func (f *FakeProvider) MessageCalls(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messageCalls[address]
}

// AttachmentCalls returns how often ListAttachments was called for address.
func (f *FakeProvider) AttachmentCalls(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachmentCalls[address]
}

func (f *FakeProvider) ListDomains(context.Context) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.domains...)
}

func (f *FakeProvider) ListMessages(_ context.Context, address string) []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls[address]++
	if f.failing[address] {
		return []provider.Message{}
	}
	return append([]provider.Message{}, f.messages[address]...)
}

func (f *FakeProvider) ListAttachments(_ context.Context, address string, limit, offset int) []provider.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachmentCalls[address]++
	if f.failing[address] {
		return []provider.Attachment{}
	}
	all := f.attachments[address]
	if offset >= len(all) {
		return []provider.Attachment{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return append([]provider.Attachment{}, all...)
}

// Notification is one recorded delivery.
type Notification struct {
	User state.UserID
	Text string
}

// RecordingNotifier records every notification. Err, when set, is returned
// after recording.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
	Hook func(user state.UserID, text string)
}

func (n *RecordingNotifier) Notify(_ context.Context, user state.UserID, text string) error {
	n.mu.Lock()
	n.sent = append(n.sent, Notification{User: user, Text: text})
	hook, err := n.Hook, n.Err
	n.mu.Unlock()

	if hook != nil {
		hook(user, text)
	}
	return err
}

// Sent returns a copy of everything recorded so far.
func (n *RecordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification{}, n.sent...)
}

// Count returns the number of notifications for user.
func (n *RecordingNotifier) Count(user state.UserID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.User == user {
			c++
		}
	}
	return c
}

// Reset forgets recorded notifications.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}
