// Package bootstrap assembles the runtime graph from configuration.
package bootstrap

import (
	"fmt"
	"log/slog"

	"lingoa/internal/audio"
	"lingoa/internal/capture"
	"lingoa/internal/config"
	"lingoa/internal/playback"
	"lingoa/internal/ports"
	"lingoa/internal/providers/backend"
	"lingoa/internal/providers/chain"
	"lingoa/internal/providers/openai"
	"lingoa/internal/rules"
	"lingoa/internal/usecase"
	"lingoa/internal/vad"
)

// Services is the assembled runtime graph.
type Services struct {
	Coordinator *usecase.Coordinator
	Playback    *playback.Engine
	Capture     *capture.Unit
	Device      *audio.FFMPEGDevice
	Backend     *backend.Client
	Rules       *rules.Engine
	Stats       ports.StatsService
	Tuning      *config.Tuning
	Config      config.Config
}

// Build loads configuration and wires every dependency.
func Build(eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink, logger)
}

// BuildWithConfig wires dependencies for an already resolved config.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	tuning := config.NewTuning(cfg)
	client := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		StreamTimeout:  cfg.Backend.StreamTimeout,
	}, logger)

	synthesizer, transcriber, err := speechChains(cfg, client, logger)
	if err != nil {
		return Services{}, err
	}

	var replier ports.Replier = client
	if cfg.Backend.ReplyTransport == "websocket" {
		replier = backend.NewWebsocketReplier(backend.WebsocketConfig{
			BaseURL:       cfg.Backend.BaseURL,
			DialTimeout:   cfg.Backend.RequestTimeout,
			StreamTimeout: cfg.Backend.StreamTimeout,
		}, logger)
	}

	mimeTypes := cfg.Audio.MimeTypes
	if len(mimeTypes) == 0 {
		mimeTypes = audio.DefaultMimeTypes()
	}
	device := audio.NewFFMPEGDevice(cfg.Audio.RecorderCommand, logger)
	unit := capture.NewUnit(device, capture.Config{
		Audio: ports.AudioConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Channels:         cfg.Audio.Channels,
			InputFormat:      cfg.Audio.InputFormat,
			InputDevice:      cfg.Audio.InputDevice,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGain:         cfg.Audio.AutoGain,
		},
		MimeTypes:      mimeTypes,
		AcquireTimeout: cfg.Audio.AcquireTimeout,
		FlushTimeout:   cfg.Session.FlushTimeout,
		ChunkInterval:  tuning.ChunkInterval,
	}, logger)

	var fillers ports.FillerSource
	if cfg.Playback.Fillers {
		fillers = client
	}
	engine := playback.NewEngine(
		synthesizer,
		playback.NewStrategies(cfg.Playback.Strategies, cfg.Playback.PlayerCommand, logger),
		playback.Config{
			SynthesisTimeout: cfg.Playback.SynthesisTimeout,
			UnlockTimeout:    cfg.Playback.UnlockTimeout,
			AudibleGrace:     cfg.Playback.AudibleGrace,
			RateMode:         playback.RateMode(cfg.Playback.RateMode),
			Fillers:          fillers,
		},
		logger,
	)

	coordinator := usecase.NewCoordinator(
		usecase.Dependencies{
			Sessions:    client,
			Capture:     unit,
			Transcriber: transcriber,
			Replier:     replier,
			Speaker:     engine,
			Rules:       rulesEngine,
			Events:      eventSink,
		},
		usecase.Config{
			PlaceholderDelay:   cfg.Session.PlaceholderDelay,
			TargetSpeakingTime: cfg.Session.TargetDuration,
			EndTimeout:         cfg.Session.EndTimeout,
			FrameInterval:      cfg.VAD.FrameInterval,
			VADSettings: func() vad.Settings {
				return vad.Settings{
					SilenceThreshold: tuning.SilenceThreshold(),
					SilenceTimeout:   tuning.SilenceTimeout(),
				}
			},
			PlaybackRate: tuning.PlaybackRate,
		},
		logger,
	)

	return Services{
		Coordinator: coordinator,
		Playback:    engine,
		Capture:     unit,
		Device:      device,
		Backend:     client,
		Rules:       rulesEngine,
		Stats:       client,
		Tuning:      tuning,
		Config:      cfg,
	}, nil
}

// speechChains puts the backend first and, when a key is configured, the
// direct OpenAI provider behind it.
func speechChains(cfg config.Config, client *backend.Client, logger *slog.Logger) (*chain.Synthesizers, *chain.Transcribers, error) {
	synthesizers := []ports.Synthesizer{client}
	transcribers := []ports.Transcriber{client}

	direct := openai.NewProvider(openai.Config{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		TTSModel:           cfg.OpenAI.TTSModel,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		DetectLanguage:     cfg.OpenAI.DetectLanguage,
	}, logger)
	if direct.Configured() {
		synthesizers = append(synthesizers, direct)
		transcribers = append(transcribers, direct)
	} else {
		logger.Info("openai fallback disabled: no api key", "component", "bootstrap")
	}

	synthesizer, err := chain.NewSynthesizers(logger, synthesizers...)
	if err != nil {
		return nil, nil, fmt.Errorf("build tts chain: %w", err)
	}
	transcriber, err := chain.NewTranscribers(logger, transcribers...)
	if err != nil {
		return nil, nil, fmt.Errorf("build stt chain: %w", err)
	}
	return synthesizer, transcriber, nil
}
