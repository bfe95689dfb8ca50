package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raykavin/trailflow"
	"github.com/raykavin/trailflow/config"
	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/exchange/binance"
	"github.com/raykavin/trailflow/notification"
	"github.com/spf13/cobra"
)

// Command line flags
var (
	configPath string
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:     "trailflow",
		Short:   "Trailing stop trading bot",
		Version: "1.0.0",
	}

	// Add commands
	rootCmd.AddCommand(buildRunCmd())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading session",
		RunE:  runSession,
	}

	runCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Configuration file path")

	return runCmd
}

func runSession(cmd *cobra.Command, args []string) error {
	log := trailflow.DefaultLog

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := buildGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	feeder := binance.NewStream(cfg.Symbol, intervals(cfg), log)

	bot, err := trailflow.NewBot(ctx, cfg, gateway, feeder)
	if err != nil {
		return err
	}

	if cfg.Telegram.Enabled {
		telegram, err := notification.NewTelegram(
			notification.TelegramSettings{
				Token: cfg.Telegram.Token,
				Users: cfg.Telegram.Users,
			},
			log,
			notification.WithStatusHandler(bot.Status),
			notification.WithBalanceHandler(bot.BalanceReport),
		)
		if err != nil {
			return fmt.Errorf("telegram setup: %w", err)
		}
		bot.SetNotifier(telegram)
	}

	if err := bot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildGateway(ctx context.Context, cfg *config.Config, log core.Logger) (*binance.Gateway, error) {
	options := []binance.Option{
		binance.WithCredentials(cfg.Exchange.APIKey, cfg.Exchange.APISecret),
	}
	if cfg.Exchange.UseTestnet {
		options = append(options, binance.WithTestnet())
	}
	return binance.NewGateway(ctx, cfg.Symbol, log, options...)
}

func intervals(cfg *config.Config) []string {
	var out []string
	for _, interval := range cfg.Buy.Indicators.Intervals {
		if interval != "" {
			out = append(out, interval)
		}
	}
	return out
}
