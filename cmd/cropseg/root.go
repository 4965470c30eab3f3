package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cropseg",
	Short: "cropseg trains U-Net crop segmentation models on eopatches",
	Long: `cropseg loads eopatch imagery and crop masks, trains a U-Net through an
external deep-learning framework and records the best validation mean IoU.
Without a subcommand it trains once on the configured data path.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringArray("set", nil, "Override a config value (key=value, repeatable)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}
