package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

func TestUnitStopAndFlushIncludesFinalChunk(t *testing.T) {
	t.Parallel()

	recorder := newFakeRecorder("audio/webm;codecs=opus")
	recorder.onStop = func(r *fakeRecorder) {
		r.events <- ports.RecorderEvent{Kind: ports.RecorderEventData, Chunk: []byte("-tail")}
		r.events <- ports.RecorderEvent{Kind: ports.RecorderEventStopped}
		close(r.events)
	}
	stream := &fakeStream{supported: map[string]bool{"audio/webm;codecs=opus": true}, recorders: []*fakeRecorder{recorder}}
	unit := NewUnit(&fakeDevice{streams: []*fakeStream{stream}}, Config{MimeTypes: []string{"audio/webm;codecs=opus", "audio/wav"}}, nil)

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	recorder.events <- ports.RecorderEvent{Kind: ports.RecorderEventData, Chunk: []byte("head")}

	clip, err := unit.StopAndFlush(context.Background())
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if clip == nil || string(clip.Bytes) != "head-tail" {
		t.Fatalf("unexpected clip: %+v", clip)
	}
	if clip.MimeType != "audio/webm;codecs=opus" {
		t.Fatalf("unexpected mime type: %q", clip.MimeType)
	}
	if stream.closeCalls() != 1 {
		t.Fatalf("expected stream teardown, got %d closes", stream.closeCalls())
	}
	if unit.live() {
		t.Fatalf("expected no active recording after flush")
	}
}

func TestUnitStopAndFlushTimesOutWithStalledRecorder(t *testing.T) {
	t.Parallel()

	recorder := newFakeRecorder("audio/wav")
	stream := &fakeStream{recorders: []*fakeRecorder{recorder}}
	unit := NewUnit(&fakeDevice{streams: []*fakeStream{stream}}, Config{FlushTimeout: 80 * time.Millisecond}, nil)

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	recorder.events <- ports.RecorderEvent{Kind: ports.RecorderEventData, Chunk: []byte("partial")}
	time.Sleep(10 * time.Millisecond)

	began := time.Now()
	clip, err := unit.StopAndFlush(context.Background())
	elapsed := time.Since(began)

	if !errors.Is(err, domain.ErrCaptureStalled) {
		t.Fatalf("expected capture stalled, got %v", err)
	}
	if elapsed > 80*time.Millisecond+200*time.Millisecond {
		t.Fatalf("flush exceeded bound: %v", elapsed)
	}
	if clip == nil || string(clip.Bytes) != "partial" {
		t.Fatalf("expected partial chunks, got %+v", clip)
	}
	if stream.closeCalls() != 1 {
		t.Fatalf("expected teardown after stall")
	}
}

func TestUnitStopAndFlushEmptyRecordingReturnsNilClip(t *testing.T) {
	t.Parallel()

	recorder := newFakeRecorder("audio/wav")
	recorder.onStop = func(r *fakeRecorder) {
		r.events <- ports.RecorderEvent{Kind: ports.RecorderEventStopped}
		close(r.events)
	}
	unit := NewUnit(&fakeDevice{streams: []*fakeStream{{recorders: []*fakeRecorder{recorder}}}}, Config{}, nil)

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	clip, err := unit.StopAndFlush(context.Background())
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if !clip.Empty() {
		t.Fatalf("expected empty clip, got %+v", clip)
	}
}

func TestUnitStopAndFlushWithoutRecording(t *testing.T) {
	t.Parallel()

	unit := NewUnit(&fakeDevice{}, Config{}, nil)
	clip, err := unit.StopAndFlush(context.Background())
	if err != nil || clip != nil {
		t.Fatalf("expected no-op flush, got clip=%v err=%v", clip, err)
	}
}

func TestUnitStartTearsDownPreviousRecording(t *testing.T) {
	t.Parallel()

	first := &fakeStream{recorders: []*fakeRecorder{newFakeRecorder("audio/wav")}}
	second := &fakeStream{recorders: []*fakeRecorder{newFakeRecorder("audio/wav")}}
	unit := NewUnit(&fakeDevice{streams: []*fakeStream{first, second}}, Config{}, nil)

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if first.closeCalls() != 1 {
		t.Fatalf("expected first stream closed on restart")
	}
	if second.closeCalls() != 0 {
		t.Fatalf("second stream must stay live")
	}

	unit.Teardown()
	if second.closeCalls() != 1 {
		t.Fatalf("expected teardown to close live stream")
	}
}

func TestUnitStartPropagatesPermissionDenied(t *testing.T) {
	t.Parallel()

	unit := NewUnit(&fakeDevice{err: domain.ErrPermissionDenied}, Config{}, nil)
	err := unit.Start(context.Background())
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if unit.live() {
		t.Fatalf("failed start must not leave a recording")
	}
}

func TestUnitStartClosesStreamWhenRecorderFails(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{recorderErr: errors.New("encoder missing")}
	unit := NewUnit(&fakeDevice{streams: []*fakeStream{stream}}, Config{}, nil)
	if err := unit.Start(context.Background()); err == nil {
		t.Fatalf("expected recorder error")
	}
	if stream.closeCalls() != 1 {
		t.Fatalf("expected stream closed after recorder failure")
	}
}

func TestUnitNegotiatesFirstSupportedMimeType(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{
		supported: map[string]bool{"audio/ogg;codecs=opus": true, "audio/wav": true},
		recorders: []*fakeRecorder{newFakeRecorder("audio/ogg;codecs=opus")},
	}
	unit := NewUnit(&fakeDevice{streams: []*fakeStream{stream}}, Config{
		MimeTypes: []string{"audio/webm;codecs=opus", "audio/ogg;codecs=opus", "audio/wav"},
		ChunkInterval: func() time.Duration {
			return 250 * time.Millisecond
		},
	}, nil)

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer unit.Teardown()

	if stream.requestedMime != "audio/ogg;codecs=opus" {
		t.Fatalf("unexpected negotiated mime: %q", stream.requestedMime)
	}
	if stream.requestedInterval != 250*time.Millisecond {
		t.Fatalf("unexpected chunk interval: %v", stream.requestedInterval)
	}
	if unit.MimeType() != "audio/ogg;codecs=opus" {
		t.Fatalf("unexpected reported mime: %q", unit.MimeType())
	}
}

func TestUnitFrequenciesOnlyWhileRecording(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{recorders: []*fakeRecorder{newFakeRecorder("audio/wav")}, level: 200}
	unit := NewUnit(&fakeDevice{streams: []*fakeStream{stream}}, Config{}, nil)

	buf := make([]byte, 8)
	if _, ok := unit.Frequencies(buf); ok {
		t.Fatalf("expected no frequencies before start")
	}
	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	n, ok := unit.Frequencies(buf)
	if !ok || n != 8 || buf[0] != 200 {
		t.Fatalf("unexpected frequencies: n=%d ok=%v buf=%v", n, ok, buf)
	}
	unit.Teardown()
	if _, ok := unit.Frequencies(buf); ok {
		t.Fatalf("expected no frequencies after teardown")
	}
}

type fakeDevice struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	calls   int
}

func (f *fakeDevice) Open(_ context.Context, _ ports.AudioConfig) (ports.InputStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.streams) {
		return nil, errors.New("no stream configured")
	}
	stream := f.streams[f.calls]
	f.calls++
	return stream, nil
}

type fakeStream struct {
	mu                sync.Mutex
	supported         map[string]bool
	recorders         []*fakeRecorder
	recorderErr       error
	recorderCalls     int
	requestedMime     string
	requestedInterval time.Duration
	closes            int
	level             byte
}

func (f *fakeStream) Analyser() ports.FrequencyAnalyser { return fakeAnalyser{level: f.level} }

func (f *fakeStream) SupportsMimeType(mimeType string) bool { return f.supported[mimeType] }

func (f *fakeStream) NewRecorder(mimeType string, interval time.Duration) (ports.Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestedMime = mimeType
	f.requestedInterval = interval
	if f.recorderErr != nil {
		return nil, f.recorderErr
	}
	if f.recorderCalls >= len(f.recorders) {
		return nil, errors.New("no recorder configured")
	}
	recorder := f.recorders[f.recorderCalls]
	f.recorderCalls++
	return recorder, nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeStream) closeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeAnalyser struct{ level byte }

func (f fakeAnalyser) ByteFrequencyData(dst []byte) int {
	n := 8
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = f.level
	}
	return n
}

type fakeRecorder struct {
	mime     string
	events   chan ports.RecorderEvent
	onStop   func(r *fakeRecorder)
	stopOnce sync.Once
}

func newFakeRecorder(mime string) *fakeRecorder {
	return &fakeRecorder{mime: mime, events: make(chan ports.RecorderEvent, 8)}
}

func (f *fakeRecorder) MimeType() string { return f.mime }

func (f *fakeRecorder) Events() <-chan ports.RecorderEvent { return f.events }

func (f *fakeRecorder) Stop() error {
	f.stopOnce.Do(func() {
		if f.onStop != nil {
			f.onStop(f)
		}
	})
	return nil
}
