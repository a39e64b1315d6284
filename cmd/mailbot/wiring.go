package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailbot/internal/bot"
	"github.com/tracyhatemice/mailbot/internal/config"
	"github.com/tracyhatemice/mailbot/internal/notify"
	"github.com/tracyhatemice/mailbot/internal/poller"
	"github.com/tracyhatemice/mailbot/internal/provider"
	"github.com/tracyhatemice/mailbot/internal/state"
)

var errNoDomains = errors.New("mail provider returned no domains")

func newProvider(cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	p := cfg.Provider
	switch p.Type {
	case "rest":
		return provider.NewREST(p.BaseURL, p.Timeout(), logger), nil
	case "imap":
		return provider.NewIMAP(
			p.Host, p.Port,
			p.Username, p.Password,
			p.UseTLS, p.GetIMAPFolder(),
			p.Domains, p.Timeout(), logger,
		), nil
	case "pop3":
		return provider.NewPOP3(
			p.Host, p.Port,
			p.Username, p.Password,
			p.UseTLS, p.Domains, p.Timeout(), logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}
}

func newNotifier(cfg *config.Config, api notify.Sender, logger *slog.Logger) notify.Notifier {
	tg := notify.NewTelegram(api, logger)
	if !cfg.Mirror.Enabled() {
		return tg
	}
	m := cfg.Mirror
	logger.Info("mirroring notifications by mail", "to", m.ForwardTo)
	return notify.Multi{
		tg,
		notify.NewSMTP(m.Host, m.Port, m.Username, m.Password, m.UseTLS, m.ForwardTo, logger),
	}
}

func sweep(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ResolveToken(); err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	registry, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	api, err := bot.NewAPI(cfg.Telegram.Token, cfg.Telegram.APIEndpoint, logger)
	if err != nil {
		return err
	}
	prov, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	p := poller.New(registry, prov, newNotifier(cfg, api, logger), cfg.Provider.PageSize(), logger)
	sched := poller.NewScheduler(registry, p, cfg.PollInterval(), cfg.Workers, logger)

	sum, _ := sched.SweepAll(ctx)
	fmt.Fprintf(out, "users: %d, addresses: %d, messages: %d, attachments: %d\n",
		sum.Users, sum.Addresses, sum.Messages, sum.Attachments)
	return nil
}

func domains(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	prov, err := newProvider(cfg, setupLogger(cfg.LogLevel))
	if err != nil {
		return err
	}

	list := prov.ListDomains(ctx)
	if len(list) == 0 {
		return errNoDomains
	}
	fmt.Fprintln(out, strings.Join(list, "\n"))
	return nil
}

func newMigrateCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy a JSON state file into a SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := migrate(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d user(s) from %s to %s\n", n, from, to)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "data/state.json", "source JSON state file")
	cmd.Flags().StringVar(&to, "to", "data/state.db", "destination SQLite database")
	return cmd
}

func migrate(ctx context.Context, from, to string) (int, error) {
	if _, err := os.Stat(from); err != nil {
		return 0, fmt.Errorf("source state: %w", err)
	}
	snap, err := state.NewFileStore(from).Load(ctx)
	if err != nil {
		return 0, err
	}

	dst, err := state.NewSQLiteStore(ctx, to)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	if err := dst.Save(ctx, snap); err != nil {
		return 0, fmt.Errorf("write sqlite state: %w", err)
	}
	return len(snap), nil
}
