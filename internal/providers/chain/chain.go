// Package chain tries speech collaborators in order until one succeeds.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

// ErrNoProviders is returned when a chain is built without providers.
var ErrNoProviders = errors.New("chain: no providers configured")

// Error aggregates the failures of every provider in a chain.
type Error struct {
	Kind   string
	Errors []error
}

func (e *Error) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("%s chain: no errors recorded", e.Kind)
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s chain: %v", e.Kind, e.Errors[0])
	}
	return fmt.Sprintf("%s chain: all %d providers failed, last error: %v", e.Kind, len(e.Errors), e.Errors[len(e.Errors)-1])
}

func (e *Error) Unwrap() []error { return e.Errors }

// Synthesizers implements ports.Synthesizer over an ordered provider list.
type Synthesizers struct {
	providers []ports.Synthesizer
	logger    *slog.Logger
}

func NewSynthesizers(logger *slog.Logger, providers ...ports.Synthesizer) (*Synthesizers, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizers{providers: providers, logger: logger.With("component", "tts.chain")}, nil
}

// Len is the number of providers in the chain.
func (c *Synthesizers) Len() int { return len(c.providers) }

func (c *Synthesizers) Synthesize(ctx context.Context, req ports.SpeechRequest) (domain.SynthesizedAudio, error) {
	var errs []error
	for i, p := range c.providers {
		audio, err := p.Synthesize(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i, "chars", len(req.Text))
			}
			return audio, nil
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
		if ctx.Err() != nil {
			return domain.SynthesizedAudio{}, ctx.Err()
		}
	}
	return domain.SynthesizedAudio{}, &Error{Kind: "tts", Errors: errs}
}

// Transcribers implements ports.Transcriber over an ordered provider list.
type Transcribers struct {
	providers []ports.Transcriber
	logger    *slog.Logger
}

func NewTranscribers(logger *slog.Logger, providers ...ports.Transcriber) (*Transcribers, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcribers{providers: providers, logger: logger.With("component", "stt.chain")}, nil
}

func (c *Transcribers) Len() int { return len(c.providers) }

func (c *Transcribers) Transcribe(ctx context.Context, req ports.TranscribeRequest) (domain.Transcription, error) {
	var errs []error
	for i, p := range c.providers {
		result, err := p.Transcribe(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i, "bytes", req.Clip.Size())
			}
			return result, nil
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
		if ctx.Err() != nil {
			return domain.Transcription{}, ctx.Err()
		}
	}
	return domain.Transcription{}, &Error{Kind: "stt", Errors: errs}
}
