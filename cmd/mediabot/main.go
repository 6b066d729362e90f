package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mediabot/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "mediabot",
		Short: "Telegram bot for image, video and audio generation with per-user prompt and media libraries",
		Long: `mediabot relays chat commands to hosted image, video and audio models and keeps
every prompt and generated or uploaded file in an indexed per-user library.
Commands reference library entries as prompt[i], image[i] and video[i].

Configuration comes from the environment, optionally seeded from --env-file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(envFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bot, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to initialise application", zap.Error(err))
				return err
			}
			logger.Info("mediabot is running")
			if err := bot.Run(ctx); err != nil {
				logger.Error("bot stopped with error", zap.Error(err))
				return err
			}
			logger.Info("mediabot stopped")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "models",
		Short: "List the configured models and the fan-out set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(envFile)
			if err != nil {
				return err
			}
			return printModels(cmd, cfg)
		},
	})
	return root
}

func printModels(cmd *cobra.Command, cfg app.Config) error {
	reg, err := app.LoadRegistry(cfg)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLABEL\tMODEL\tOUTPUT")
	for _, m := range reg.Models() {
		output := string(m.Output)
		if output == "" {
			output = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.DisplayName(), m.ModelID, output)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "FAN-OUT\tMODEL")
	for _, m := range reg.FanOut {
		fmt.Fprintf(w, "%s\t%s\n", m.Name, m.ModelID)
	}
	fmt.Fprintf(w, "\nPROMPT WRITER\t%s\n", reg.Prompt.ModelID)
	return w.Flush()
}

func newLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

