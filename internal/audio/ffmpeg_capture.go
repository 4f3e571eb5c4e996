package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"lingoa/internal/ports"
)

const pcmReadSize = 2048

// FFMPEGDevice captures the microphone through an ffmpeg input process.
type FFMPEGDevice struct {
	command string
	caps    *capabilities
	logger  *slog.Logger

	echoWarnOnce sync.Once
}

func NewFFMPEGDevice(command string, logger *slog.Logger) *FFMPEGDevice {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFMPEGDevice{
		command: command,
		caps:    newCapabilities(command),
		logger:  logger.With("component", "audio"),
	}
}

// SupportsMimeType reports whether the local ffmpeg can encode mimeType.
func (d *FFMPEGDevice) SupportsMimeType(mimeType string) bool {
	codec, ok := codecFor(mimeType)
	if !ok {
		return false
	}
	return d.caps.HasEncoder(codec.Encoder)
}

// Open starts the input process. The acquisition itself is bounded by ctx;
// the stream then lives until Close.
func (d *FFMPEGDevice) Open(ctx context.Context, cfg ports.AudioConfig) (ports.InputStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	cfg.Channels = 1
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
	}
	if filters := d.filterChain(cfg); filters != "" {
		args = append(args, "-af", filters)
	}
	args = append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	)

	type result struct {
		proc *process
		err  error
	}
	started := make(chan result, 1)
	go func() {
		proc, err := startProcess(d.command, args, processOptions{})
		started <- result{proc: proc, err: err}
	}()

	var proc *process
	select {
	case res := <-started:
		if res.err != nil {
			return nil, res.err
		}
		proc = res.proc
	case <-ctx.Done():
		go func() {
			if res := <-started; res.proc != nil {
				_ = res.proc.stop()
			}
		}()
		return nil, fmt.Errorf("microphone acquisition timed out: %w", ctx.Err())
	}

	stream := &ffmpegStream{
		device:   d,
		cfg:      cfg,
		proc:     proc,
		analyser: NewAnalyser(defaultFFTSize),
		readDone: make(chan struct{}),
	}
	go stream.readLoop()
	return stream, nil
}

func (d *FFMPEGDevice) filterChain(cfg ports.AudioConfig) string {
	var filters []string
	if cfg.NoiseSuppression {
		if d.caps.HasFilter("highpass") {
			filters = append(filters, "highpass=f=80")
		}
		if d.caps.HasFilter("afftdn") {
			filters = append(filters, "afftdn")
		} else {
			d.logger.Info("noise suppression unavailable", "filter", "afftdn")
		}
	}
	if cfg.AutoGain {
		if d.caps.HasFilter("dynaudnorm") {
			filters = append(filters, "dynaudnorm")
		} else {
			d.logger.Info("automatic gain control unavailable", "filter", "dynaudnorm")
		}
	}
	if cfg.EchoCancellation {
		d.echoWarnOnce.Do(func() {
			d.logger.Info("echo cancellation unavailable for ffmpeg capture")
		})
	}
	return strings.Join(filters, ",")
}

// ffmpegStream fans the input PCM out to the analyser and any recorder.
type ffmpegStream struct {
	device   *FFMPEGDevice
	cfg      ports.AudioConfig
	proc     *process
	analyser *Analyser
	readDone chan struct{}

	mu        sync.Mutex
	recorders []*ffmpegRecorder
	closed    bool

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Analyser() ports.FrequencyAnalyser {
	return s.analyser
}

func (s *ffmpegStream) SupportsMimeType(mimeType string) bool {
	return s.device.SupportsMimeType(mimeType)
}

func (s *ffmpegStream) NewRecorder(mimeType string, chunkInterval time.Duration) (ports.Recorder, error) {
	codec, ok := codecFor(mimeType)
	if !ok {
		codec = DefaultCodecs[len(DefaultCodecs)-1]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("input stream is closed")
	}

	recorder, err := startRecorder(s.device.command, codec, s.cfg, chunkInterval)
	if err != nil {
		return nil, err
	}
	s.recorders = append(s.recorders, recorder)
	return recorder, nil
}

func (s *ffmpegStream) readLoop() {
	defer close(s.readDone)

	buf := make([]byte, pcmReadSize)
	var carry []byte
	for {
		n, err := s.proc.stdout.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			even := len(chunk) &^ 1
			s.analyser.WritePCM16(chunk[:even])
			s.feedRecorders(chunk[:even])
			carry = append(carry[:0], chunk[even:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.device.logger.Debug("input stream read ended", "error", err)
			}
			return
		}
	}
}

func (s *ffmpegStream) feedRecorders(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.recorders[:0]
	for _, recorder := range s.recorders {
		if recorder.feed(pcm) {
			live = append(live, recorder)
		}
	}
	s.recorders = live
}

// Close stops the input process and aborts any recorder still attached.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		recorders := s.recorders
		s.recorders = nil
		s.mu.Unlock()

		for _, recorder := range recorders {
			recorder.abort()
		}
		s.closeErr = s.proc.stop()
		<-s.readDone
		s.analyser.Reset()
	})
	return s.closeErr
}

// ffmpegRecorder encodes PCM fed from the stream and emits the encoded
// output as chunks on a fixed interval.
type ffmpegRecorder struct {
	codec    Codec
	proc     *process
	interval time.Duration

	events  chan ports.RecorderEvent
	aborted chan struct{}

	stdinMu     sync.Mutex
	stdinClosed bool

	pendingMu sync.Mutex
	pending   []byte

	stopOnce  sync.Once
	abortOnce sync.Once
}

func startRecorder(command string, codec Codec, cfg ports.AudioConfig, interval time.Duration) (*ffmpegRecorder, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.Channels),
		"-i", "pipe:0",
	}
	args = append(args, codec.Args...)
	args = append(args, "-f", codec.Muxer, "pipe:1")

	proc, err := startProcess(command, args, processOptions{withStdin: true, expectQuickExit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s recorder: %w", codec.MimeType, err)
	}

	recorder := &ffmpegRecorder{
		codec:    codec,
		proc:     proc,
		interval: interval,
		events:   make(chan ports.RecorderEvent, 16),
		aborted:  make(chan struct{}),
	}
	go recorder.run()
	return recorder, nil
}

func (r *ffmpegRecorder) MimeType() string {
	return r.codec.MimeType
}

func (r *ffmpegRecorder) Events() <-chan ports.RecorderEvent {
	return r.events
}

// Stop closes the encoder input; ffmpeg then finalizes the container and
// the last chunk plus a stopped event follow on Events.
func (r *ffmpegRecorder) Stop() error {
	r.stopOnce.Do(r.closeStdin)
	return nil
}

func (r *ffmpegRecorder) closeStdin() {
	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()
	if r.stdinClosed {
		return
	}
	r.stdinClosed = true
	_ = r.proc.stdin.Close()
}

// feed reports false once the recorder no longer accepts input.
func (r *ffmpegRecorder) feed(pcm []byte) bool {
	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()
	if r.stdinClosed {
		return false
	}
	if _, err := r.proc.stdin.Write(pcm); err != nil {
		r.stdinClosed = true
		_ = r.proc.stdin.Close()
		return false
	}
	return true
}

func (r *ffmpegRecorder) abort() {
	r.abortOnce.Do(func() {
		close(r.aborted)
		r.closeStdin()
		_ = r.proc.stop()
	})
}

func (r *ffmpegRecorder) run() {
	defer close(r.events)

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := r.proc.stdout.Read(buf)
			if n > 0 {
				r.pendingMu.Lock()
				r.pending = append(r.pending, buf[:n]...)
				r.pendingMu.Unlock()
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !r.emitPending() {
				return
			}
		case err := <-readErr:
			_ = r.proc.stdout.Close()
			if !r.emitPending() {
				return
			}
			if err == nil {
				err = r.proc.wait(context.Background())
			}
			if err != nil {
				r.emit(ports.RecorderEvent{Kind: ports.RecorderEventError, Err: err})
				return
			}
			r.emit(ports.RecorderEvent{Kind: ports.RecorderEventStopped})
			return
		case <-r.aborted:
			return
		}
	}
}

func (r *ffmpegRecorder) emitPending() bool {
	r.pendingMu.Lock()
	chunk := r.pending
	r.pending = nil
	r.pendingMu.Unlock()
	if len(chunk) == 0 {
		return true
	}
	return r.emit(ports.RecorderEvent{Kind: ports.RecorderEventData, Chunk: chunk})
}

func (r *ffmpegRecorder) emit(event ports.RecorderEvent) bool {
	select {
	case r.events <- event:
		return true
	case <-r.aborted:
		return false
	}
}
