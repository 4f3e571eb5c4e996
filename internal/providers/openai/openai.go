// Package openai talks to the OpenAI speech endpoints directly. It backs
// up the conversation backend when its TTS or transcription fails.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

const (
	minSpeed = 0.25
	maxSpeed = 4.0
)

// ErrMissingAPIKey is returned when no key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not configured")

// Config controls the OpenAI provider.
type Config struct {
	APIKey             string
	BaseURL            string
	TTSModel           string
	TranscriptionModel string
	// DetectLanguage omits the language hint so the detected language can
	// be checked against the target.
	DetectLanguage bool
	HTTPClient     *http.Client
}

// Provider implements ports.Synthesizer and ports.Transcriber.
type Provider struct {
	cfg    Config
	client *goopenai.Client
	logger *slog.Logger
}

func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if cfg.TTSModel == "" {
		cfg.TTSModel = string(goopenai.TTSModel1)
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = goopenai.Whisper1
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:    cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
		logger: logger.With("component", "openai"),
	}
}

// Configured reports whether an API key is present.
func (p *Provider) Configured() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

func (p *Provider) Synthesize(ctx context.Context, req ports.SpeechRequest) (domain.SynthesizedAudio, error) {
	if !p.Configured() {
		return domain.SynthesizedAudio{}, ErrMissingAPIKey
	}
	resp, err := p.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(p.cfg.TTSModel),
		Input:          req.Text,
		Voice:          VoiceFor(req.Language),
		ResponseFormat: goopenai.SpeechResponseFormatMp3,
		Speed:          clampSpeed(req.Speed),
	})
	if err != nil {
		return domain.SynthesizedAudio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return domain.SynthesizedAudio{}, fmt.Errorf("read openai speech: %w", err)
	}
	if len(audio) == 0 {
		return domain.SynthesizedAudio{}, errors.New("openai returned empty audio")
	}
	p.logger.Debug("speech synthesized", "bytes", len(audio), "language", req.Language)
	return domain.SynthesizedAudio{Bytes: audio, Format: "mp3"}, nil
}

func (p *Provider) Transcribe(ctx context.Context, req ports.TranscribeRequest) (domain.Transcription, error) {
	if req.Clip.Empty() {
		return domain.Transcription{}, nil
	}
	if !p.Configured() {
		return domain.Transcription{}, ErrMissingAPIKey
	}

	audioReq := goopenai.AudioRequest{
		Model:    p.cfg.TranscriptionModel,
		FilePath: clipFilename(req.Clip.MimeType),
		Reader:   bytes.NewReader(req.Clip.Bytes),
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	}
	if !p.cfg.DetectLanguage {
		audioReq.Language = req.Language
	}

	resp, err := p.client.CreateTranscription(ctx, audioReq)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("openai transcription: %w", err)
	}

	result := domain.Transcription{Text: strings.TrimSpace(resp.Text)}
	if detected := LanguageCode(resp.Language); detected != "" {
		result.DetectedLanguage = detected
		if p.cfg.DetectLanguage && req.Language != "" {
			valid := detected == req.Language
			result.ValidForTarget = &valid
		}
	}
	p.logger.Debug("transcription received", "chars", len(result.Text), "detected_language", result.DetectedLanguage)
	return result, nil
}

func clampSpeed(speed float64) float64 {
	if speed <= 0 {
		return 1
	}
	if speed < minSpeed {
		return minSpeed
	}
	if speed > maxSpeed {
		return maxSpeed
	}
	return speed
}

func clipFilename(mimeType string) string {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	switch base {
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mp4":
		return "audio.m4a"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	default:
		return "audio.webm"
	}
}
