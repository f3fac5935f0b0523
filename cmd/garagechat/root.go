package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/garagechat/internal/logging"
)

var (
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "garagechat",
	Short: "Vehicle services chat relay",
	Long:  `garagechat relays chat between vehicle owners, partners and an assistant over HTTP and WebSocket.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine; real environment variables win.
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

func setupLogger(ctx context.Context, level, format string) (context.Context, zerolog.Logger) {
	if debug {
		level = "debug"
	}
	logger := logging.New(logging.Options{Level: level, Format: format})
	return logging.NewContextWithLogger(ctx, logger), logger
}
