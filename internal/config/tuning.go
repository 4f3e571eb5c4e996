package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	MinSilenceTimeout = 600 * time.Millisecond
	MaxSilenceTimeout = 2000 * time.Millisecond
	MinChunkInterval  = 100 * time.Millisecond
	MinPlaybackRate   = 0.5
	MaxPlaybackRate   = 2.0
)

// SpeedPresets maps user-facing speed names to a playback rate.
var SpeedPresets = map[string]float64{
	"slow":   0.85,
	"normal": 1.0,
	"fast":   1.15,
}

// ResolveRate returns the preset's rate, or fallback for unknown presets.
func ResolveRate(preset string, fallback float64) float64 {
	if rate, ok := SpeedPresets[preset]; ok {
		return rate
	}
	return clampRate(fallback)
}

// TuningValues is a snapshot of the runtime-mutable knobs.
type TuningValues struct {
	SilenceThreshold float64       `json:"silenceThreshold"`
	SilenceTimeout   time.Duration `json:"silenceTimeout"`
	ChunkInterval    time.Duration `json:"chunkInterval"`
	PlaybackRate     float64       `json:"playbackRate"`
}

// TuningUpdate carries partial changes; nil fields are left untouched.
type TuningUpdate struct {
	SilenceThreshold *float64 `json:"silenceThreshold,omitempty"`
	SilenceTimeoutMS *int     `json:"silenceTimeoutMs,omitempty"`
	ChunkIntervalMS  *int     `json:"chunkIntervalMs,omitempty"`
	PlaybackRate     *float64 `json:"playbackRate,omitempty"`
	SpeedPreset      *string  `json:"speedPreset,omitempty"`
}

// Tuning holds knobs that may change while a conversation runs. Readers
// consult it on every use, so updates apply from the next tick or turn.
type Tuning struct {
	mu     sync.RWMutex
	values TuningValues
}

func NewTuning(cfg Config) *Tuning {
	rate := cfg.Playback.Rate
	if cfg.Playback.SpeedPreset != "" && cfg.Playback.SpeedPreset != "normal" {
		rate = ResolveRate(cfg.Playback.SpeedPreset, rate)
	}
	return &Tuning{values: TuningValues{
		SilenceThreshold: cfg.VAD.SilenceThreshold,
		SilenceTimeout:   clampSilenceTimeout(cfg.VAD.SilenceTimeout),
		ChunkInterval:    cfg.Session.ChunkInterval,
		PlaybackRate:     clampRate(rate),
	}}
}

func (t *Tuning) Snapshot() TuningValues {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values
}

func (t *Tuning) SilenceThreshold() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values.SilenceThreshold
}

func (t *Tuning) SilenceTimeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values.SilenceTimeout
}

func (t *Tuning) ChunkInterval() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values.ChunkInterval
}

func (t *Tuning) PlaybackRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values.PlaybackRate
}

// Apply validates and stores an update atomically.
func (t *Tuning) Apply(update TuningUpdate) (TuningValues, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.values
	if update.SilenceThreshold != nil {
		if *update.SilenceThreshold >= 0 || *update.SilenceThreshold < -100 {
			return t.values, fmt.Errorf("silence threshold must be in [-100, 0) dB, got %v", *update.SilenceThreshold)
		}
		next.SilenceThreshold = *update.SilenceThreshold
	}
	if update.SilenceTimeoutMS != nil {
		timeout := time.Duration(*update.SilenceTimeoutMS) * time.Millisecond
		if timeout < MinSilenceTimeout || timeout > MaxSilenceTimeout {
			return t.values, fmt.Errorf("silence timeout must be within %v..%v, got %v", MinSilenceTimeout, MaxSilenceTimeout, timeout)
		}
		next.SilenceTimeout = timeout
	}
	if update.ChunkIntervalMS != nil {
		interval := time.Duration(*update.ChunkIntervalMS) * time.Millisecond
		if interval < MinChunkInterval {
			return t.values, fmt.Errorf("chunk interval must be at least %v, got %v", MinChunkInterval, interval)
		}
		next.ChunkInterval = interval
	}
	if update.SpeedPreset != nil {
		rate, ok := SpeedPresets[*update.SpeedPreset]
		if !ok {
			return t.values, fmt.Errorf("unknown speed preset %q", *update.SpeedPreset)
		}
		next.PlaybackRate = rate
	}
	if update.PlaybackRate != nil {
		if *update.PlaybackRate < MinPlaybackRate || *update.PlaybackRate > MaxPlaybackRate {
			return t.values, fmt.Errorf("playback rate must be within %v..%v, got %v", MinPlaybackRate, MaxPlaybackRate, *update.PlaybackRate)
		}
		next.PlaybackRate = *update.PlaybackRate
	}

	t.values = next
	return next, nil
}

func clampRate(rate float64) float64 {
	switch {
	case rate <= 0:
		return 1.0
	case rate < MinPlaybackRate:
		return MinPlaybackRate
	case rate > MaxPlaybackRate:
		return MaxPlaybackRate
	default:
		return rate
	}
}

func clampSilenceTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return 1500 * time.Millisecond
	case timeout < MinSilenceTimeout:
		return MinSilenceTimeout
	case timeout > MaxSilenceTimeout:
		return MaxSilenceTimeout
	default:
		return timeout
	}
}
