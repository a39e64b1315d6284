package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailbot/internal/config"
	"github.com/tracyhatemice/mailbot/internal/notify"
	"github.com/tracyhatemice/mailbot/internal/provider"
	"github.com/tracyhatemice/mailbot/internal/state"
	"github.com/tracyhatemice/mailbot/internal/testutil"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	from := filepath.Join(dir, "state.json")
	to := filepath.Join(dir, "db", "state.db")

	doc := `{"42": {"emails": ["x@a.test"], "seenEmails": {"x@a.test": {"m1": true}}}}`
	require.NoError(t, os.WriteFile(from, []byte(doc), 0o644))

	n, err := migrate(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err := state.NewSQLiteStore(ctx, to)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, snap, state.UserID(42))
	assert.Equal(t, []string{"x@a.test"}, snap[42].Emails)
	assert.Contains(t, snap[42].Seen["x@a.test"], "m1")
}

func TestMigrateMissingSource(t *testing.T) {
	_, err := migrate(context.Background(), filepath.Join(t.TempDir(), "nope.json"), filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	logger := testutil.DiscardLogger()

	tests := []struct {
		name    string
		typ     string
		want    any
		wantErr bool
	}{
		{name: "rest", typ: "rest", want: &provider.REST{}},
		{name: "imap", typ: "imap", want: &provider.IMAP{}},
		{name: "pop3", typ: "pop3", want: &provider.POP3{}},
		{name: "unknown", typ: "smoke-signals", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Provider: config.Provider{Type: tt.typ, BaseURL: "http://mail.test"}}
			p, err := newProvider(cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}
}

func TestNewNotifierMirror(t *testing.T) {
	logger := testutil.DiscardLogger()

	cfg := &config.Config{}
	assert.IsType(t, &notify.Telegram{}, newNotifier(cfg, nil, logger))

	cfg.Mirror = config.SMTP{Host: "smtp.test", Port: 25, ForwardTo: "ops@example.com"}
	n := newNotifier(cfg, nil, logger)
	require.IsType(t, notify.Multi{}, n)
	assert.Len(t, n.(notify.Multi), 2)
}

func TestDomainsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["a.test","b.test"]`))
	}))
	defer srv.Close()

	t.Setenv("MAIL_API_BASE_URL", srv.URL)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	err := domains(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), &out)
	require.NoError(t, err)
	assert.Equal(t, "a.test\nb.test\n", out.String())
}
