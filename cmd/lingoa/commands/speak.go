package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lingoa/internal/config"
	"lingoa/internal/ports"
)

var (
	speakLanguage string
	speakSpeed    string
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Speak text through the rules engine and playback",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sink := newConsoleSink(cmd.OutOrStdout(), false)
		services, err := build(sink)
		if err != nil {
			return err
		}
		if speakSpeed != "" {
			if _, err := services.Tuning.Apply(config.TuningUpdate{SpeedPreset: &speakSpeed}); err != nil {
				return err
			}
		}

		text := strings.Join(args, " ")
		spoken, err := services.Rules.Apply(text)
		if err != nil {
			return fmt.Errorf("apply rules: %w", err)
		}

		ctx := cmd.Context()
		services.Playback.Unlock(ctx)
		return services.Playback.Speak(ctx, spoken, ports.SpeakOptions{
			Language:     firstSet(speakLanguage, services.Config.Session.Language),
			Rate:         services.Tuning.PlaybackRate(),
			OnSilentMode: sink.SilentModeSuspected,
		})
	},
}

func init() {
	speakCmd.Flags().StringVarP(&speakLanguage, "language", "l", "", "language of the text (default from config)")
	speakCmd.Flags().StringVar(&speakSpeed, "speed", "", "speech speed preset (slow, normal, fast)")
}
