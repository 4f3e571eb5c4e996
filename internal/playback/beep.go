package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"lingoa/internal/domain"
)

const (
	defaultOutputRate  = beep.SampleRate(44100)
	resampleQuality    = 4
	primerDuration     = 120 * time.Millisecond
	primerLevel        = 1e-4
	speakerBufferRatio = 10
)

// output is the shared audio device the buffer strategy plays into.
type output interface {
	Init(rate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
}

type speakerOutput struct{}

func (speakerOutput) Init(rate beep.SampleRate, bufferSize int) error {
	return speaker.Init(rate, bufferSize)
}

func (speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }

// BufferStrategy decodes the clip in-process and mixes it into the shared
// speaker.
type BufferStrategy struct {
	out    output
	logger *slog.Logger

	mu       sync.Mutex
	rate     beep.SampleRate
	ready    bool
	initErr  error
	disabled bool
}

func NewBufferStrategy(logger *slog.Logger) *BufferStrategy {
	return newBufferStrategy(speakerOutput{}, logger)
}

func newBufferStrategy(out output, logger *slog.Logger) *BufferStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &BufferStrategy{out: out, logger: logger.With("component", "playback_buffer")}
}

func (b *BufferStrategy) Name() string { return "buffer" }

// Available reports false once the speaker failed to initialise.
func (b *BufferStrategy) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabled
}

// Unlock initialises the speaker and plays a near-silent primer, returning
// once the device pulled samples.
func (b *BufferStrategy) Unlock(ctx context.Context) error {
	rate, err := b.ensureOutput(defaultOutputRate)
	if err != nil {
		return err
	}

	snd := newSound(true, nil)
	primer := &trackStreamer{inner: primerStreamer(rate.N(primerDuration)), sound: snd}
	b.out.Play(beep.Seq(primer, beep.Callback(func() { snd.finish(nil) })))

	select {
	case <-snd.Audible():
		return nil
	case <-ctx.Done():
		primer.stop()
		return ctx.Err()
	}
}

func (b *BufferStrategy) Play(_ context.Context, audio domain.SynthesizedAudio, rate float64) (Sound, error) {
	streamer, format, err := decode(audio)
	if err != nil {
		return nil, err
	}

	outRate, err := b.ensureOutput(format.SampleRate)
	if err != nil {
		_ = streamer.Close()
		return nil, err
	}

	var source beep.Streamer = streamer
	ratio := float64(format.SampleRate) / float64(outRate)
	if rate > 0 {
		ratio *= rate
	}
	if ratio != 1 {
		source = beep.ResampleRatio(resampleQuality, ratio, source)
	}

	var track *trackStreamer
	snd := newSound(true, func() {
		track.stop()
		_ = streamer.Close()
	})
	track = &trackStreamer{inner: source, sound: snd}
	b.out.Play(beep.Seq(track, beep.Callback(func() {
		_ = streamer.Close()
		snd.finish(nil)
	})))

	b.logger.Debug("buffer playback started", "format", audio.Format, "source_rate", format.SampleRate, "output_rate", outRate, "rate", rate)
	return snd, nil
}

func (b *BufferStrategy) ensureOutput(preferred beep.SampleRate) (beep.SampleRate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return b.rate, nil
	}
	if b.disabled {
		return 0, b.initErr
	}
	if preferred <= 0 {
		preferred = defaultOutputRate
	}
	if err := b.out.Init(preferred, preferred.N(time.Second/speakerBufferRatio)); err != nil {
		b.disabled = true
		b.initErr = fmt.Errorf("init speaker: %w", err)
		b.logger.Warn("speaker unavailable", "error", err)
		return 0, b.initErr
	}
	b.rate = preferred
	b.ready = true
	b.logger.Info("speaker initialised", "sample_rate", preferred)
	return preferred, nil
}

func decode(audio domain.SynthesizedAudio) (beep.StreamSeekCloser, beep.Format, error) {
	if len(audio.Bytes) == 0 {
		return nil, beep.Format{}, fmt.Errorf("empty audio")
	}
	reader := io.NopCloser(bytes.NewReader(audio.Bytes))
	switch strings.ToLower(strings.TrimSpace(audio.Format)) {
	case "", "mp3", "mpeg", "audio/mpeg":
		return mp3.Decode(reader)
	case "wav", "wave", "audio/wav":
		return wav.Decode(bytes.NewReader(audio.Bytes))
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", audio.Format)
	}
}

// trackStreamer confirms audible output on the first pulled samples and
// ends the stream once stopped.
type trackStreamer struct {
	inner   beep.Streamer
	sound   *sound
	stopped atomic.Bool
}

func (t *trackStreamer) Stream(samples [][2]float64) (int, bool) {
	if t.stopped.Load() {
		return 0, false
	}
	n, ok := t.inner.Stream(samples)
	if n > 0 {
		t.sound.markAudible()
	}
	return n, ok
}

func (t *trackStreamer) Err() error { return t.inner.Err() }

func (t *trackStreamer) stop() { t.stopped.Store(true) }

func primerStreamer(n int) beep.Streamer {
	remaining := n
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if remaining <= 0 {
			return 0, false
		}
		count := len(samples)
		if count > remaining {
			count = remaining
		}
		for i := 0; i < count; i++ {
			samples[i][0] = primerLevel
			samples[i][1] = primerLevel
		}
		remaining -= count
		return count, true
	})
}
