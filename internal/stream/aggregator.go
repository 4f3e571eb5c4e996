// Package stream consumes streamed reply envelopes and assembles the final
// reply text while forwarding hints as they arrive.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

// Observer receives incremental reply output. ports.EventSink satisfies it.
type Observer interface {
	PartialReply(text string)
	TranslationHint(hint domain.TranslationHint)
	TranslationCleared()
	IntentHint(text string)
	IntentCleared()
	FillerHint(text string)
}

type Result struct {
	Text string
	// Completed is set when a done envelope ended the stream.
	Completed bool
	// Interrupted is set when the stream ended without done. Text then
	// holds whatever arrived before the interruption.
	Interrupted bool
	// ServerError carries the message of an error envelope.
	ServerError string
	Skipped     int
}

// Aggregate reads envelopes until done, an error envelope, or the end of
// the stream. The stream is closed before Aggregate returns. Cancelling
// ctx closes the stream and returns ctx.Err().
func Aggregate(ctx context.Context, stream ports.EnvelopeStream, observer Observer, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reply_stream")

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-stopWatch:
		}
	}()
	defer stream.Close()

	var result Result
	var buffer strings.Builder
	for {
		envelope, err := stream.Next()
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Text = buffer.String()
			result.Interrupted = true
			return result, ctxErr
		}
		if err != nil {
			if errors.Is(err, ErrMalformedEnvelope) {
				result.Skipped++
				logger.Warn("skipping malformed envelope", "error", err)
				continue
			}
			result.Text = buffer.String()
			result.Interrupted = true
			if !errors.Is(err, io.EOF) {
				logger.Warn("reply stream interrupted", "error", err, "received_chars", buffer.Len())
				return result, errors.Join(domain.ErrTransportInterrupted, err)
			}
			logger.Warn("reply stream ended without completion", "received_chars", buffer.Len())
			return result, nil
		}

		switch envelope.Kind {
		case domain.EnvelopeTextDelta:
			if envelope.Text == "" {
				continue
			}
			buffer.WriteString(envelope.Text)
			if observer != nil {
				observer.PartialReply(buffer.String())
			}
		case domain.EnvelopeTranslationHint:
			if observer != nil {
				observer.TranslationHint(envelope.Translation)
			}
		case domain.EnvelopeTranslationClear:
			if observer != nil {
				observer.TranslationCleared()
			}
		case domain.EnvelopeIntentHint:
			if observer != nil {
				observer.IntentHint(envelope.Text)
			}
		case domain.EnvelopeIntentClear:
			if observer != nil {
				observer.IntentCleared()
			}
		case domain.EnvelopeFiller:
			if observer != nil && strings.TrimSpace(envelope.Text) != "" {
				observer.FillerHint(envelope.Text)
			}
		case domain.EnvelopeError:
			result.Text = buffer.String()
			result.Interrupted = true
			result.ServerError = envelope.Text
			logger.Warn("reply stream reported error", "message", envelope.Text)
			return result, nil
		case domain.EnvelopeDone:
			result.Completed = true
			result.Text = buffer.String()
			if strings.TrimSpace(envelope.FinalText) != "" {
				result.Text = envelope.FinalText
			}
			logger.Debug("reply stream complete", "chars", len(result.Text), "skipped", result.Skipped)
			return result, nil
		default:
			result.Skipped++
		}
	}
}
