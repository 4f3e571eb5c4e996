package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lingoa/internal/bootstrap"
	"lingoa/internal/ports"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "lingoa",
	Short: "Spoken language practice from the terminal",
	Long: `lingoa runs a voice conversation with the practice backend.

The microphone is captured through ffmpeg, replies stream from the backend
and are spoken through the configured playback strategies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(converseCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(probeCmd)
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func build(sink ports.EventSink) (bootstrap.Services, error) {
	return bootstrap.Build(sink, slog.Default())
}
