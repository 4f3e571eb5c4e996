// Package capture owns the microphone stream and its chunked recorder and
// turns one recording into a clip on demand.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

const (
	DefaultAcquireTimeout = 5 * time.Second
	DefaultFlushTimeout   = 2500 * time.Millisecond
	DefaultChunkInterval  = 500 * time.Millisecond
)

// Config controls stream acquisition and recording.
type Config struct {
	Audio ports.AudioConfig
	// MimeTypes is tried in order; the first the stream supports wins.
	MimeTypes      []string
	AcquireTimeout time.Duration
	FlushTimeout   time.Duration
	// ChunkInterval is read at every Start so it can change at runtime.
	ChunkInterval func() time.Duration
}

// Unit holds at most one stream/recorder pair at a time.
type Unit struct {
	device ports.AudioDevice
	cfg    Config
	logger *slog.Logger

	opMu sync.Mutex

	mu         sync.Mutex
	current    *recording
	negotiated string
}

func NewUnit(device ports.AudioDevice, cfg Config, logger *slog.Logger) *Unit {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.FlushTimeout <= 0 || cfg.FlushTimeout > DefaultFlushTimeout {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.ChunkInterval == nil {
		cfg.ChunkInterval = func() time.Duration { return DefaultChunkInterval }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Unit{device: device, cfg: cfg, logger: logger.With("component", "capture")}
}

// Start acquires a fresh stream and begins chunked recording. Any previous
// recording is torn down first and its audio discarded.
func (u *Unit) Start(ctx context.Context) error {
	u.opMu.Lock()
	defer u.opMu.Unlock()

	if previous := u.detach(); previous != nil {
		u.logger.Debug("discarding previous recording before restart")
		previous.teardown()
	}

	acquireCtx, cancel := context.WithTimeout(ctx, u.cfg.AcquireTimeout)
	defer cancel()

	stream, err := u.device.Open(acquireCtx, u.cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to acquire microphone: %w", err)
	}

	mimeType := u.negotiate(stream)
	interval := u.cfg.ChunkInterval()
	if interval <= 0 {
		interval = DefaultChunkInterval
	}

	recorder, err := stream.NewRecorder(mimeType, interval)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	rec := newRecording(stream, recorder)
	go rec.collect()

	u.mu.Lock()
	u.current = rec
	u.mu.Unlock()
	return nil
}

// StopAndFlush stops the recorder and waits for its final chunk, bounded by
// the flush timeout. The stream is always torn down before returning. A
// timed-out flush returns the chunks gathered so far with ErrCaptureStalled.
func (u *Unit) StopAndFlush(ctx context.Context) (*domain.RecordedClip, error) {
	u.opMu.Lock()
	defer u.opMu.Unlock()

	rec := u.detach()
	if rec == nil {
		return nil, nil
	}

	if err := rec.recorder.Stop(); err != nil {
		u.logger.Warn("recorder stop failed", "error", err)
	}

	timer := time.NewTimer(u.cfg.FlushTimeout)
	defer timer.Stop()

	var flushErr error
	select {
	case <-rec.completed:
		if err := rec.err(); err != nil {
			u.logger.Warn("recorder finished with error", "error", err)
		}
	case <-timer.C:
		u.logger.Warn("recorder flush timed out", "timeout", u.cfg.FlushTimeout)
		flushErr = domain.ErrCaptureStalled
	case <-ctx.Done():
		flushErr = fmt.Errorf("%w: %w", domain.ErrCaptureStalled, ctx.Err())
	}

	rec.teardown()
	return rec.drain(), flushErr
}

// Teardown discards any live recording without flushing it.
func (u *Unit) Teardown() {
	u.opMu.Lock()
	defer u.opMu.Unlock()
	if rec := u.detach(); rec != nil {
		rec.teardown()
		rec.drain()
	}
}

func (u *Unit) live() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current != nil
}

// MimeType is the last negotiated recorder format.
func (u *Unit) MimeType() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.negotiated
}

// Frequencies reads the live analyser; ok is false between recordings.
func (u *Unit) Frequencies(dst []byte) (n int, ok bool) {
	u.mu.Lock()
	rec := u.current
	u.mu.Unlock()
	if rec == nil {
		return 0, false
	}
	analyser := rec.stream.Analyser()
	if analyser == nil {
		return 0, false
	}
	return analyser.ByteFrequencyData(dst), true
}

func (u *Unit) detach() *recording {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec := u.current
	u.current = nil
	return rec
}

func (u *Unit) negotiate(stream ports.InputStream) string {
	chosen := ""
	for _, candidate := range u.cfg.MimeTypes {
		supported := stream.SupportsMimeType(candidate)
		u.logger.Debug("recorder mime type probe", "mime_type", candidate, "supported", supported)
		if supported {
			chosen = candidate
			break
		}
	}

	u.mu.Lock()
	changed := chosen != u.negotiated
	u.negotiated = chosen
	u.mu.Unlock()

	if changed {
		if chosen == "" {
			u.logger.Warn("no preferred recorder mime type supported; using recorder default")
		} else {
			u.logger.Info("recorder mime type negotiated", "mime_type", chosen)
		}
	}
	return chosen
}

type recording struct {
	stream   ports.InputStream
	recorder ports.Recorder

	completed     chan struct{}
	completedOnce sync.Once
	quit          chan struct{}
	quitOnce      sync.Once

	mu       sync.Mutex
	chunks   []domain.AudioChunk
	finalErr error
}

func newRecording(stream ports.InputStream, recorder ports.Recorder) *recording {
	return &recording{
		stream:    stream,
		recorder:  recorder,
		completed: make(chan struct{}),
		quit:      make(chan struct{}),
	}
}

func (r *recording) collect() {
	defer r.complete()
	events := r.recorder.Events()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Kind {
			case ports.RecorderEventData:
				if len(event.Chunk) > 0 {
					r.mu.Lock()
					r.chunks = append(r.chunks, domain.AudioChunk{Data: event.Chunk, MimeType: r.recorder.MimeType()})
					r.mu.Unlock()
				}
			case ports.RecorderEventError:
				r.mu.Lock()
				if r.finalErr == nil {
					r.finalErr = event.Err
				}
				r.mu.Unlock()
				r.complete()
			case ports.RecorderEventStopped:
				r.complete()
			}
		case <-r.quit:
			return
		}
	}
}

func (r *recording) complete() {
	r.completedOnce.Do(func() { close(r.completed) })
}

func (r *recording) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalErr
}

func (r *recording) teardown() {
	r.quitOnce.Do(func() { close(r.quit) })
	_ = r.stream.Close()
}

// drain moves the gathered chunks into a clip and clears storage. It
// returns nil when nothing was recorded.
func (r *recording) drain() *domain.RecordedClip {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, chunk := range r.chunks {
		buf.Write(chunk.Data)
	}
	clip := &domain.RecordedClip{Bytes: buf.Bytes(), MimeType: r.chunks[0].MimeType}
	r.chunks = nil
	if clip.Empty() {
		return nil
	}
	return clip
}
