// Package main implements the chromate command line: a headless voice session,
// one-shot commands and the command catalog.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chromate/internal/config"
	"chromate/internal/logging"
)

var (
	verbose bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chromate",
	Short: "Voice-driven browser control",
	Long: `chromate listens for Korean voice commands, sends each finished utterance
to the command interpreter and performs the returned browser action.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Log.Development)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	runCmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read transcripts from stdin instead of the microphone")
	runCmd.Flags().BoolVar(&wakeWord, "wake", false, "Wait for the wake word before each command")
	runCmd.Flags().BoolVar(&singleShot, "single-shot", false, "End the session after one command")
	runCmd.Flags().StringVar(&bridgeAddr, "bridge", "", "Listen address for extension contexts (overrides config)")
	runCmd.Flags().BoolVar(&relay, "relay", false, "Send page actions to bridged contexts")
	runCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not drive a local browser")

	sayCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not drive a local browser")

	rootCmd.AddCommand(runCmd, sayCmd, commandsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
