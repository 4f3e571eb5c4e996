package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lingoa/internal/config"
	"lingoa/internal/domain"
)

var (
	converseUser     string
	converseLanguage string
	converseTopic    string
	converseSpeed    string
	converseVerbose  bool
)

var converseCmd = &cobra.Command{
	Use:   "converse",
	Short: "Hold a spoken conversation",
	Long: `Start a session and talk. Press Enter to end your turn, type q and
Enter or press Ctrl-C to finish. The session summary is printed on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink := newConsoleSink(cmd.OutOrStdout(), converseVerbose)
		services, err := build(sink)
		if err != nil {
			return err
		}

		if converseSpeed != "" {
			if _, err := services.Tuning.Apply(config.TuningUpdate{SpeedPreset: &converseSpeed}); err != nil {
				return err
			}
		}

		opts := domain.ConversationOptions{
			UserID:   firstSet(converseUser, services.Config.Session.UserID),
			Language: firstSet(converseLanguage, services.Config.Session.Language),
			Topic:    firstSet(converseTopic, services.Config.Session.Topic),
			Speed:    converseSpeed,
		}
		if err := services.Coordinator.StartConversation(ctx, opts); err != nil {
			return fmt.Errorf("start conversation: %w", err)
		}

		readInput(ctx, cmd.InOrStdin(), func() error {
			return services.Coordinator.SubmitTurn(ctx)
		}, func(err error) {
			sink.printf("! %v", err)
		})

		closeCtx, cancel := context.WithTimeout(context.Background(), services.Config.Session.EndTimeout+5*time.Second)
		defer cancel()
		summary, err := services.Coordinator.Close(closeCtx)
		if printErr := printSummary(cmd.OutOrStdout(), summary); printErr != nil {
			return printErr
		}
		return err
	},
}

func init() {
	converseCmd.Flags().StringVar(&converseUser, "user", "", "learner id (default from config)")
	converseCmd.Flags().StringVarP(&converseLanguage, "language", "l", "", "practice language (default from config)")
	converseCmd.Flags().StringVarP(&converseTopic, "topic", "t", "", "conversation topic (default from config)")
	converseCmd.Flags().StringVar(&converseSpeed, "speed", "", "speech speed preset (slow, normal, fast)")
	converseCmd.Flags().BoolVarP(&converseVerbose, "verbose", "v", false, "print levels and partial replies")
}

// readInput submits a turn on every empty line and returns on q, EOF or
// ctx cancellation. Submit errors are reported and the loop continues.
func readInput(ctx context.Context, in io.Reader, submit func() error, report func(error)) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.ToLower(line) {
			case "q", "quit", "exit":
				return
			case "":
				err := submit()
				if err != nil {
					report(err)
				}
				if errors.Is(err, domain.ErrClosed) {
					return
				}
			}
		}
	}
}

type summaryView struct {
	SessionID    string `yaml:"session_id"`
	SpeakingTime string `yaml:"speaking_time"`
	Completed    bool   `yaml:"completed"`
	Streak       int    `yaml:"streak"`
	Feedback     any    `yaml:"feedback,omitempty"`
}

func printSummary(out io.Writer, summary domain.SessionSummary) error {
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	return enc.Encode(summaryView{
		SessionID:    summary.SessionID,
		SpeakingTime: summary.SpeakingTime.Round(time.Second).String(),
		Completed:    summary.Completed,
		Streak:       summary.Streak,
		Feedback:     summary.Feedback,
	})
}

func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
