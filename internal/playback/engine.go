// Package playback synthesizes reply text and plays it through the first
// working output strategy, one clip at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

const (
	DefaultSynthesisTimeout = 15 * time.Second
	DefaultUnlockTimeout    = 1500 * time.Millisecond
	DefaultAudibleGrace     = time.Second
)

// RateMode selects where the playback rate is applied. Exactly one side
// applies it.
type RateMode string

const (
	// RateServer asks the synthesizer for the rate and plays at 1.0.
	RateServer RateMode = "server"
	// RateClient synthesizes at 1.0 and changes the rate during playback.
	RateClient RateMode = "client"
)

type Config struct {
	SynthesisTimeout time.Duration
	UnlockTimeout    time.Duration
	AudibleGrace     time.Duration
	RateMode         RateMode
	// Fillers is optional; without it SpeakFiller plays nothing.
	Fillers ports.FillerSource
}

// split returns the synthesis speed and the playback rate for one clip.
func (m RateMode) split(rate float64) (speed float64, playRate float64) {
	if rate <= 0 {
		rate = 1
	}
	if m == RateClient {
		return 1, rate
	}
	return rate, 1
}

// SpeakOptions are shared with the coordinator through ports.
type SpeakOptions = ports.SpeakOptions

// StrategyStatus describes one negotiation table row.
type StrategyStatus struct {
	Name      string
	Available bool
}

// Engine owns the output device. At most one handle is live.
type Engine struct {
	synth      ports.Synthesizer
	strategies []Strategy
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	current  *handle
	unlocked bool
}

type handle struct {
	id     string
	cancel context.CancelFunc

	mu       sync.Mutex
	sound    Sound
	released bool
	once     sync.Once
}

func NewEngine(synth ports.Synthesizer, strategies []Strategy, cfg Config, logger *slog.Logger) *Engine {
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if cfg.UnlockTimeout <= 0 {
		cfg.UnlockTimeout = DefaultUnlockTimeout
	}
	if cfg.AudibleGrace <= 0 {
		cfg.AudibleGrace = DefaultAudibleGrace
	}
	if cfg.RateMode != RateClient {
		cfg.RateMode = RateServer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		synth:      synth,
		strategies: strategies,
		cfg:        cfg,
		logger:     logger.With("component", "playback"),
	}
}

// NewStrategies builds the negotiation table from configured names.
// Unknown names are logged and skipped.
func NewStrategies(names []string, playerCommand string, logger *slog.Logger) []Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "buffer":
			out = append(out, NewBufferStrategy(logger))
		case "element":
			out = append(out, NewElementStrategy(playerCommand, "", logger))
		default:
			logger.Warn("unknown playback strategy", "component", "playback", "strategy", name)
		}
	}
	return out
}

func (e *Engine) Strategies() []StrategyStatus {
	out := make([]StrategyStatus, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, StrategyStatus{Name: s.Name(), Available: s.Available()})
	}
	return out
}

// Speak replaces any live handle, synthesizes text and blocks until the
// clip finished, failed or was stopped. A stopped clip returns
// ErrInterrupted.
func (e *Engine) Speak(ctx context.Context, text string, opts SpeakOptions) error {
	if strings.TrimSpace(text) == "" {
		e.Stop()
		return nil
	}
	return e.perform(ctx, opts, func(ctx context.Context, speed float64) (domain.SynthesizedAudio, error) {
		audio, err := e.synth.Synthesize(ctx, ports.SpeechRequest{Text: text, Language: opts.Language, Speed: speed})
		if err != nil {
			return domain.SynthesizedAudio{}, fmt.Errorf("synthesize: %w", err)
		}
		return audio, nil
	})
}

// SpeakFiller plays one thinking filler from the configured source and
// blocks like Speak. Without a source it returns nil at once.
func (e *Engine) SpeakFiller(ctx context.Context, opts ports.FillerOptions) error {
	if e.cfg.Fillers == nil {
		return nil
	}
	return e.perform(ctx, opts.SpeakOptions, func(ctx context.Context, speed float64) (domain.SynthesizedAudio, error) {
		clip, err := e.cfg.Fillers.Filler(ctx, ports.FillerRequest{Language: opts.Language, Speed: speed, Exclude: opts.Exclude})
		if err != nil {
			return domain.SynthesizedAudio{}, fmt.Errorf("filler: %w", err)
		}
		if opts.OnText != nil && clip.Text != "" {
			opts.OnText(clip.Text)
		}
		return clip.Audio, nil
	})
}

// perform replaces the live handle, obtains audio from produce within the
// synthesis timeout and plays it.
func (e *Engine) perform(ctx context.Context, opts SpeakOptions, produce func(ctx context.Context, speed float64) (domain.SynthesizedAudio, error)) error {
	handleCtx, cancel := context.WithCancel(ctx)
	h := &handle{id: uuid.NewString(), cancel: cancel}
	e.mu.Lock()
	previous := e.current
	e.current = h
	e.mu.Unlock()
	if previous != nil {
		previous.release()
	}
	defer e.release(h)

	logger := e.logger.With("handle", h.id)

	synthCtx, synthCancel := context.WithTimeout(handleCtx, e.cfg.SynthesisTimeout)
	speed, playRate := e.cfg.RateMode.split(opts.Rate)
	audio, err := produce(synthCtx, speed)
	synthCancel()
	if handleCtx.Err() != nil {
		return ErrInterrupted
	}
	if err != nil {
		return errors.Join(domain.ErrPlaybackFailed, err)
	}

	e.Unlock(handleCtx)
	if handleCtx.Err() != nil {
		return ErrInterrupted
	}

	sound, strategy, err := e.play(handleCtx, logger, audio, playRate)
	if err != nil {
		return err
	}
	if !h.attach(sound) {
		return ErrInterrupted
	}
	logger.Info("playback started", "strategy", strategy, "bytes", len(audio.Bytes), "speed", speed, "rate", playRate)

	go e.watchAudible(handleCtx, logger, sound, opts.OnSilentMode)

	select {
	case <-sound.Done():
	case <-handleCtx.Done():
		sound.Stop()
		return ErrInterrupted
	}
	if handleCtx.Err() != nil {
		return ErrInterrupted
	}
	if err := sound.Err(); err != nil {
		if errors.Is(err, ErrInterrupted) {
			return ErrInterrupted
		}
		return errors.Join(domain.ErrPlaybackFailed, err)
	}
	logger.Debug("playback finished")
	return nil
}

func (e *Engine) play(ctx context.Context, logger *slog.Logger, audio domain.SynthesizedAudio, rate float64) (Sound, string, error) {
	var errs []error
	for _, strategy := range e.strategies {
		if !strategy.Available() {
			logger.Debug("playback strategy unavailable", "strategy", strategy.Name())
			continue
		}
		sound, err := strategy.Play(ctx, audio, rate)
		if err != nil {
			logger.Warn("playback strategy failed", "strategy", strategy.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}
		return sound, strategy.Name(), nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no playback strategy available"))
	}
	return nil, "", errors.Join(append([]error{domain.ErrPlaybackFailed}, errs...)...)
}

func (e *Engine) watchAudible(ctx context.Context, logger *slog.Logger, sound Sound, notify func()) {
	audible := sound.Audible()
	if audible == nil {
		logger.Info("output cannot confirm audible playback")
		if notify != nil {
			notify()
		}
		return
	}
	timer := time.NewTimer(e.cfg.AudibleGrace)
	defer timer.Stop()
	select {
	case <-audible:
	case <-sound.Done():
	case <-ctx.Done():
	case <-timer.C:
		logger.Warn("no audible output confirmation", "grace", e.cfg.AudibleGrace)
		if notify != nil {
			notify()
		}
	}
}

// Stop releases the live handle, if any. Safe to call repeatedly.
func (e *Engine) Stop() {
	e.mu.Lock()
	h := e.current
	e.current = nil
	e.mu.Unlock()
	if h != nil {
		h.release()
	}
}

// Unlock primes the shared output once per session. It reports whether a
// strategy confirmed the output is running; otherwise unlock is best
// effort and playback proceeds anyway.
func (e *Engine) Unlock(ctx context.Context) bool {
	e.mu.Lock()
	if e.unlocked {
		e.mu.Unlock()
		return true
	}
	e.unlocked = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.UnlockTimeout)
	defer cancel()
	for _, strategy := range e.strategies {
		if !strategy.Available() {
			continue
		}
		err := strategy.Unlock(ctx)
		if err == nil {
			e.logger.Info("audio output unlocked", "strategy", strategy.Name())
			return true
		}
		if errors.Is(err, ErrUnlockUnsupported) {
			continue
		}
		e.logger.Warn("audio unlock attempt failed", "strategy", strategy.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	e.logger.Warn("audio unlock is best effort", "timeout", e.cfg.UnlockTimeout)
	return false
}

// ResetSession stops playback and re-arms the unlock handshake.
func (e *Engine) ResetSession() {
	e.Stop()
	e.mu.Lock()
	e.unlocked = false
	e.mu.Unlock()
}

func (e *Engine) playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

func (e *Engine) release(h *handle) {
	e.mu.Lock()
	if e.current == h {
		e.current = nil
	}
	e.mu.Unlock()
	h.release()
}

func (h *handle) attach(sound Sound) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		sound.Stop()
		return false
	}
	h.sound = sound
	return true
}

func (h *handle) release() {
	h.once.Do(func() {
		h.cancel()
		h.mu.Lock()
		h.released = true
		sound := h.sound
		h.mu.Unlock()
		if sound != nil {
			sound.Stop()
		}
	})
}
