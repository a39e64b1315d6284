package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailbot/internal/inbox"
	"github.com/tracyhatemice/mailbot/internal/poller"
	"github.com/tracyhatemice/mailbot/internal/provider"
	"github.com/tracyhatemice/mailbot/internal/state"
	"github.com/tracyhatemice/mailbot/internal/testutil"
)

const chat state.UserID = 555

type fakeAPI struct {
	updates chan tgbotapi.Update

	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func command(id state.UserID, text string) tgbotapi.Update {
	cmd := text
	if i := strings.IndexByte(text, ' '); i > 0 {
		cmd = text[:i]
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: int64(id)},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

type harness struct {
	registry *state.Registry
	commands *Commands
	prov     *testutil.FakeProvider
	notifier *testutil.RecordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r, _ := testutil.NewTestRegistry(t)
	prov := testutil.NewFakeProvider("a.test")
	n := &testutil.RecordingNotifier{}
	logger := testutil.DiscardLogger()
	p := poller.New(r, prov, n, 0, logger)
	sched := poller.NewScheduler(r, p, time.Minute, 1, logger)
	svc := inbox.NewService(r, prov, sched, logger)
	return &harness{registry: r, commands: NewCommands(svc), prov: prov, notifier: n}
}

func TestDispatchAddressLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := func(cmd, args string) string { return h.commands.Dispatch(ctx, chat, cmd, args) }

	assert.Contains(t, d("start", ""), "/new")
	assert.Equal(t, "You are not tracking any addresses. Use /new or /add.", d("list", ""))

	assert.Equal(t, "✅ Now tracking x@a.test", d("add", " X@a.test "))
	assert.Equal(t, "x@a.test is already tracked.", d("add", "x@a.test"))
	assert.Contains(t, d("add", "nope"), "not a valid address")
	assert.Equal(t, "Usage: /add <address>", d("add", ""))

	created := d("new", "")
	require.True(t, strings.HasPrefix(created, "✅ New address: "), created)
	newAddr := strings.TrimPrefix(created, "✅ New address: ")
	assert.Regexp(t, `^[a-z0-9]{8}@a\.test$`, newAddr)

	assert.Equal(t, "📋 Tracked addresses:\n1. x@a.test\n2. "+newAddr, d("list", ""))
	assert.Equal(t, "x@a.test\n"+newAddr, d("export", ""))

	assert.Equal(t, "🗑 Stopped tracking x@a.test", d("delete", "x@a.test"))
	assert.Equal(t, "x@a.test is not tracked.", d("delete", "x@a.test"))

	assert.Equal(t, "🧹 All addresses and history cleared.", d("clear", ""))
	assert.Equal(t, "You are not tracking any addresses.", d("export", ""))
}

func TestDispatchImport(t *testing.T) {
	h := newHarness(t)
	got := h.commands.Dispatch(context.Background(), chat, "import", "a@a.test,b@a.test, bogus")
	assert.Equal(t, "📥 Imported 2 address(es).\nSkipped invalid: bogus", got)
}

func TestDispatchCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, "You are not tracking any addresses.", h.commands.Dispatch(ctx, chat, "check", ""))

	h.commands.Dispatch(ctx, chat, "add", "x@a.test")
	h.prov.SetMessages("x@a.test", provider.Message{ID: "1"}, provider.Message{ID: "2"})

	assert.Equal(t, "Done: 2 new message(s), 0 attachment(s).", h.commands.Dispatch(ctx, chat, "check", ""))
	assert.Equal(t, "No new mail in 1 inbox(es).", h.commands.Dispatch(ctx, chat, "check", ""))
	assert.Equal(t, 2, h.notifier.Count(chat))
}

func TestDispatchDomains(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, "🌐 Available domains:\na.test", h.commands.Dispatch(ctx, chat, "domains", ""))

	h.prov.SetDomains()
	assert.Contains(t, h.commands.Dispatch(ctx, chat, "domains", ""), "unavailable")
	assert.Contains(t, h.commands.Dispatch(ctx, chat, "new", ""), "unavailable")
}

func TestDispatchRegistersUser(t *testing.T) {
	for _, cmd := range []string{"help", "list", "export", "check", "domains", "frobnicate"} {
		t.Run(cmd, func(t *testing.T) {
			h := newHarness(t)
			_, ok := h.registry.Get(chat)
			require.False(t, ok)

			h.commands.Dispatch(context.Background(), chat, cmd, "")
			_, ok = h.registry.Get(chat)
			assert.True(t, ok)
		})
	}
}

func TestDispatchUnknown(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.commands.Dispatch(context.Background(), chat, "frobnicate", ""), "Unknown command")
}

func TestRunRoutesUpdates(t *testing.T) {
	h := newHarness(t)
	api := newFakeAPI()
	b := New(api, h.commands, testutil.DiscardLogger())

	api.updates <- command(chat, "/add x@a.test")
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: int64(chat)}, Text: "hello"}}
	api.updates <- tgbotapi.Update{}
	api.updates <- command(chat, "/list")
	close(api.updates)

	b.Run(context.Background())

	assert.Equal(t, []string{
		"✅ Now tracking x@a.test",
		"Send /help to see what I can do.",
		"📋 Tracked addresses:\n1. x@a.test",
	}, api.texts())
}

func TestRunCheckInBackground(t *testing.T) {
	h := newHarness(t)
	h.commands.Dispatch(context.Background(), chat, "add", "x@a.test")
	h.prov.SetMessages("x@a.test", provider.Message{ID: "1"})

	api := newFakeAPI()
	b := New(api, h.commands, testutil.DiscardLogger())

	api.updates <- command(chat, "/check")
	close(api.updates)

	b.Run(context.Background())

	texts := api.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "🔄 Checking your inboxes…", texts[0])
	assert.Equal(t, "Done: 1 new message(s), 0 attachment(s).", texts[1])
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	api := newFakeAPI()
	b := New(api, h.commands, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.True(t, api.stopped)
}

func TestNewAPIBoundsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"mailbot","username":"mailbot_bot"}}`))
	}))
	defer srv.Close()

	api, err := NewAPI("token", srv.URL+"/bot%s/%s", testutil.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, "mailbot_bot", api.Self.UserName)

	client, ok := api.Client.(*http.Client)
	require.True(t, ok)
	assert.Greater(t, client.Timeout, longPollSeconds*time.Second)
}
