package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailbot/internal/provider"
	"github.com/tracyhatemice/mailbot/internal/state"
	"github.com/tracyhatemice/mailbot/internal/testutil"
)

const user state.UserID = 1001

func track(t *testing.T, r *state.Registry, id state.UserID, addrs ...string) {
	t.Helper()
	require.NoError(t, r.Update(context.Background(), id, func(u *state.UserState) error {
		for _, a := range addrs {
			u.AddEmail(a)
		}
		return nil
	}))
}

func msg(id string) provider.Message {
	return provider.Message{ID: id, From: "sender@example.com", Subject: "subject " + id}
}

type fixture struct {
	registry *state.Registry
	path     string
	prov     *testutil.FakeProvider
	notifier *testutil.RecordingNotifier
	poller   *Poller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r, path := testutil.NewTestRegistry(t)
	prov := testutil.NewFakeProvider("a.test")
	n := &testutil.RecordingNotifier{}
	return &fixture{
		registry: r,
		path:     path,
		prov:     prov,
		notifier: n,
		poller:   New(r, prov, n, 0, testutil.DiscardLogger()),
	}
}

func TestPollNotifiesOnlyNewMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	track(t, f.registry, user, "x@a.test")

	f.prov.SetMessages("x@a.test", msg("1"), msg("2"))
	res := f.poller.Poll(ctx, user, "x@a.test")
	assert.Equal(t, Result{Messages: 2}, res)
	assert.Equal(t, 2, f.notifier.Count(user))

	f.prov.SetMessages("x@a.test", msg("1"), msg("2"), msg("3"))
	res = f.poller.Poll(ctx, user, "x@a.test")
	assert.Equal(t, Result{Messages: 1}, res)

	sent := f.notifier.Sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[2].Text, "ID: 3")
}

func TestPollPreservesProviderOrder(t *testing.T) {
	f := newFixture(t)
	track(t, f.registry, user, "x@a.test")
	f.prov.SetMessages("x@a.test", msg("c"), msg("a"), msg("b"))

	f.poller.Poll(context.Background(), user, "x@a.test")

	var ids []string
	for _, n := range f.notifier.Sent() {
		ids = append(ids, n.Text[strings.LastIndex(n.Text, "ID: ")+4:])
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestPollEmptyHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	track(t, f.registry, user, "x@a.test")

	res := f.poller.Poll(context.Background(), user, "x@a.test")
	assert.Zero(t, res)
	assert.Empty(t, f.notifier.Sent())
	assert.Zero(t, f.prov.AttachmentCalls("x@a.test"))
}

func TestPollUntrackedAddress(t *testing.T) {
	f := newFixture(t)
	f.prov.SetMessages("ghost@a.test", msg("1"))

	res := f.poller.Poll(context.Background(), user, "ghost@a.test")
	assert.Zero(t, res)
	assert.Zero(t, f.prov.MessageCalls("ghost@a.test"))
}

func TestPollAttachmentsScopedToMessage(t *testing.T) {
	f := newFixture(t)
	track(t, f.registry, user, "x@a.test")

	withAtt := msg("2")
	withAtt.HasAttachments = true
	f.prov.SetMessages("x@a.test", msg("1"), withAtt)
	f.prov.SetAttachments("x@a.test",
		provider.Attachment{MessageID: "2", Filename: "mine.pdf", URL: "https://dl.test/a"},
		provider.Attachment{MessageID: "9", Filename: "other.pdf", URL: "https://dl.test/b"},
	)

	res := f.poller.Poll(context.Background(), user, "x@a.test")
	assert.Equal(t, Result{Messages: 2, Attachments: 1}, res)

	sent := f.notifier.Sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[2].Text, "mine.pdf")
	assert.Equal(t, 1, f.prov.AttachmentCalls("x@a.test"))
}

func TestPollAttachmentsUnscopedPage(t *testing.T) {
	f := newFixture(t)
	track(t, f.registry, user, "x@a.test")

	m := msg("1")
	m.HasAttachments = true
	f.prov.SetMessages("x@a.test", m)
	f.prov.SetAttachments("x@a.test",
		provider.Attachment{Filename: "a.txt", Size: 10, URL: "https://dl.test/a"},
		provider.Attachment{Filename: "b.txt", URL: "https://dl.test/b"},
	)

	res := f.poller.Poll(context.Background(), user, "x@a.test")
	assert.Equal(t, Result{Messages: 1, Attachments: 2}, res)
}

func TestPollNotifyFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.notifier.Err = errors.New("chat blocked")
	track(t, f.registry, user, "x@a.test")
	f.prov.SetMessages("x@a.test", msg("1"), msg("2"))

	res := f.poller.Poll(context.Background(), user, "x@a.test")
	assert.Equal(t, 2, res.Messages)
	assert.Len(t, f.notifier.Sent(), 2)

	// Commit-before-send: failed deliveries are not retried.
	f.notifier.Err = nil
	res = f.poller.Poll(context.Background(), user, "x@a.test")
	assert.Zero(t, res.Messages)
}

func TestPollSeenSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	track(t, f.registry, user, "x@a.test")
	f.prov.SetMessages("x@a.test", msg("m1"))
	f.poller.Poll(ctx, user, "x@a.test")
	require.Equal(t, 1, f.notifier.Count(user))

	restarted := state.NewRegistry(ctx, state.NewFileStore(f.path), testutil.DiscardLogger())
	n := &testutil.RecordingNotifier{}
	p := New(restarted, f.prov, n, 0, testutil.DiscardLogger())

	res := p.Poll(ctx, user, "x@a.test")
	assert.Zero(t, res.Messages)
	assert.Empty(t, n.Sent())
}

func TestPollClearThenReaddRenotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	track(t, f.registry, user, "x@a.test")
	f.prov.SetMessages("x@a.test", msg("m1"))
	f.poller.Poll(ctx, user, "x@a.test")

	require.NoError(t, f.registry.Update(ctx, user, func(u *state.UserState) error {
		u.Reset()
		return nil
	}))
	track(t, f.registry, user, "x@a.test")

	res := f.poller.Poll(ctx, user, "x@a.test")
	assert.Equal(t, 1, res.Messages)
	assert.Equal(t, 2, f.notifier.Count(user))
}

func TestPollRemovedMidCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	track(t, f.registry, user, "x@a.test")
	f.prov.SetMessages("x@a.test", msg("1"), msg("2"), msg("3"))

	var once sync.Once
	f.notifier.Hook = func(id state.UserID, _ string) {
		once.Do(func() {
			require.NoError(t, f.registry.Update(ctx, id, func(u *state.UserState) error {
				u.RemoveEmail("x@a.test")
				return nil
			}))
		})
	}

	res := f.poller.Poll(ctx, user, "x@a.test")
	assert.Equal(t, 1, res.Messages)

	u, ok := f.registry.Get(user)
	require.True(t, ok)
	assert.Empty(t, u.Emails)
	assert.NotContains(t, u.Seen, "x@a.test")
}

func TestPollProviderFailureIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	track(t, f.registry, user, "down@a.test", "up@a.test")
	f.prov.SetMessages("down@a.test", msg("1"))
	f.prov.SetMessages("up@a.test", msg("1"))
	f.prov.SetFailing("down@a.test", true)

	s := NewScheduler(f.registry, f.poller, time.Minute, 1, testutil.DiscardLogger())
	sum := s.SweepUser(ctx, user)
	assert.Equal(t, Summary{Users: 1, Addresses: 2, Messages: 1}, sum)

	u, _ := f.registry.Get(user)
	assert.Zero(t, u.SeenCount("down@a.test"))
	assert.Equal(t, 1, u.SeenCount("up@a.test"))

	f.prov.SetFailing("down@a.test", false)
	sum = s.SweepUser(ctx, user)
	assert.Equal(t, 1, sum.Messages)
}

func TestPollAtMostOnceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("each message id is notified exactly once across cycles", prop.ForAll(
		func(ids []int, cycles int) bool {
			f := newFixture(t)
			track(t, f.registry, user, "x@a.test")

			distinct := map[string]struct{}{}
			var msgs []provider.Message
			for _, id := range ids {
				key := fmt.Sprint(id)
				if _, dup := distinct[key]; dup {
					continue
				}
				distinct[key] = struct{}{}
				msgs = append(msgs, msg(key))
			}
			f.prov.SetMessages("x@a.test", msgs...)

			for i := 0; i < cycles; i++ {
				f.poller.Poll(context.Background(), user, "x@a.test")
			}
			return f.notifier.Count(user) == len(distinct)
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
