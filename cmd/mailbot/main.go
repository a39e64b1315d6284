package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailbot/internal/bot"
	"github.com/tracyhatemice/mailbot/internal/config"
	"github.com/tracyhatemice/mailbot/internal/inbox"
	"github.com/tracyhatemice/mailbot/internal/poller"
	"github.com/tracyhatemice/mailbot/internal/state"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:           "mailbot",
		Short:         "Telegram notifications for disposable mail inboxes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot and the poll scheduler",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(configPath)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Poll every tracked address once and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sweep(cmd.Context(), configPath, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "domains",
			Short: "Print the domains offered by the mail provider",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return domains(cmd.Context(), configPath, cmd.OutOrStdout())
			},
		},
		newMigrateCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ResolveToken(); err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("mailbot starting",
		"version", version,
		"provider", cfg.Provider.Type,
		"state_backend", cfg.State.Backend,
		"interval", cfg.PollInterval(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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
	svc := inbox.NewService(registry, prov, sched, logger)
	b := bot.New(api, bot.NewCommands(svc), logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		b.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight work to finish...")

	// Force exit on second signal.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	wg.Wait()
	if err := registry.Persist(context.Background()); err != nil {
		logger.Error("final save failed", "error", err)
	}
	logger.Info("mailbot stopped")
	return nil
}

func openRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state.Registry, error) {
	store, err := state.Open(ctx, cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return state.NewRegistry(ctx, store, logger), nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
