package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lingoa/internal/audio"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report resolved config, recorder codecs and playback strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := build(newConsoleSink(cmd.ErrOrStderr(), false))
		if err != nil {
			return err
		}
		cfg := services.Config

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "config file\t%s\n", firstSet(cfg.Source, "(none)"))
		fmt.Fprintf(w, "backend\t%s (%s)\n", cfg.Backend.BaseURL, cfg.Backend.ReplyTransport)
		fmt.Fprintf(w, "openai fallback\t%t\n", cfg.OpenAI.APIKey != "")
		fmt.Fprintf(w, "rules file\t%s\n", firstSet(cfg.Rules.Path, "(built-in)"))
		fmt.Fprintf(w, "input\t%s %s via %s\n", cfg.Audio.InputFormat, cfg.Audio.InputDevice, cfg.Audio.RecorderCommand)
		fmt.Fprintf(w, "playback rate\t%.2f\n", services.Tuning.PlaybackRate())
		mimeTypes := cfg.Audio.MimeTypes
		if len(mimeTypes) == 0 {
			mimeTypes = audio.DefaultMimeTypes()
		}
		for _, mimeType := range mimeTypes {
			fmt.Fprintf(w, "recorder %s\tsupported=%t\n", mimeType, services.Device.SupportsMimeType(mimeType))
		}
		for _, s := range services.Playback.Strategies() {
			fmt.Fprintf(w, "playback %s\tavailable=%t\n", s.Name, s.Available)
		}
		return w.Flush()
	},
}
