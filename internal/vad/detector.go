// Package vad turns analyser frequency data into speech start/end events.
package vad

import (
	"context"
	"math"
	"sync"
	"time"

	"lingoa/internal/domain"
)

const (
	DefaultSilenceThreshold = -15.0
	DefaultSilenceTimeout   = 1500 * time.Millisecond
	DefaultFrameInterval    = 16 * time.Millisecond
	// FloorDB is reported when the analyser shows no energy at all.
	FloorDB = -100.0
)

// Settings are re-read on every tick.
type Settings struct {
	SilenceThreshold float64
	SilenceTimeout   time.Duration
}

// Source provides the live analyser; ok is false while no stream is active.
type Source interface {
	Frequencies(dst []byte) (n int, ok bool)
}

// Listener receives detector output. Calls come from the detector loop.
type Listener interface {
	VolumeChanged(sample domain.VolumeSample)
	SpeechStarted(at time.Time)
	SpeechEnded(duration time.Duration)
}

// Detector is a threshold detector with a silence hang time.
type Detector struct {
	settings func() Settings
	listener Listener

	mu               sync.Mutex
	state            domain.SpeechState
	speechStartedAt  time.Time
	silenceStartedAt time.Time
	speechDuration   time.Duration
}

func NewDetector(settings func() Settings, listener Listener) *Detector {
	if settings == nil {
		settings = func() Settings { return Settings{} }
	}
	return &Detector{settings: settings, listener: listener, state: domain.SpeechStateSilent}
}

// Measure converts byte frequency data into a volume sample.
func Measure(bins []byte) domain.VolumeSample {
	if len(bins) == 0 {
		return domain.VolumeSample{Volume: 0, DB: FloorDB}
	}
	var sum float64
	for _, v := range bins {
		sum += float64(v)
	}
	avg := sum / float64(len(bins))
	volume := avg / 255
	if avg == 0 {
		return domain.VolumeSample{Volume: 0, DB: FloorDB}
	}
	return domain.VolumeSample{Volume: volume, DB: math.Max(FloorDB, 20*math.Log10(volume))}
}

// Process advances the detector by one tick and notifies the listener.
func (d *Detector) Process(bins []byte, now time.Time) domain.VolumeSample {
	sample := Measure(bins)
	settings := d.currentSettings()

	var started, ended bool
	var duration time.Duration

	d.mu.Lock()
	above := sample.DB > settings.SilenceThreshold
	switch {
	case above && d.state == domain.SpeechStateSilent:
		d.state = domain.SpeechStateSpeaking
		d.speechStartedAt = now
		d.silenceStartedAt = time.Time{}
		d.speechDuration = 0
		started = true
	case above:
		d.speechDuration = now.Sub(d.speechStartedAt)
		d.silenceStartedAt = time.Time{}
	case d.state == domain.SpeechStateSpeaking:
		if d.silenceStartedAt.IsZero() {
			d.silenceStartedAt = now
		}
		if now.Sub(d.silenceStartedAt) > settings.SilenceTimeout {
			d.state = domain.SpeechStateSilent
			duration = d.speechDuration
			d.silenceStartedAt = time.Time{}
			ended = true
		}
	}
	d.mu.Unlock()

	if d.listener != nil {
		d.listener.VolumeChanged(sample)
		if started {
			d.listener.SpeechStarted(now)
		}
		if ended {
			d.listener.SpeechEnded(duration)
		}
	}
	return sample
}

// Run ticks at interval until ctx ends. Ticks without an active source
// leave the detector untouched.
func (d *Detector) Run(ctx context.Context, source Source, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, ok := source.Frequencies(buf)
			if !ok {
				continue
			}
			d.Process(buf[:n], now)
		}
	}
}

func (d *Detector) current() domain.SpeechState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset returns to Silent. An open speech run is closed and reported with
// the duration measured so far, so a restarted stream starts from a clean
// slate.
func (d *Detector) Reset() {
	d.mu.Lock()
	wasSpeaking := d.state == domain.SpeechStateSpeaking
	duration := d.speechDuration
	d.state = domain.SpeechStateSilent
	d.speechStartedAt = time.Time{}
	d.silenceStartedAt = time.Time{}
	d.speechDuration = 0
	d.mu.Unlock()

	if wasSpeaking && d.listener != nil {
		d.listener.SpeechEnded(duration)
	}
}

func (d *Detector) currentSettings() Settings {
	s := d.settings()
	if s.SilenceThreshold == 0 {
		s.SilenceThreshold = DefaultSilenceThreshold
	}
	if s.SilenceTimeout <= 0 {
		s.SilenceTimeout = DefaultSilenceTimeout
	}
	return s
}
