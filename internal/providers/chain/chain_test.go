package chain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

func TestNewChainsRequireProviders(t *testing.T) {
	t.Parallel()

	if _, err := NewSynthesizers(nil); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected no providers error, got %v", err)
	}
	if _, err := NewTranscribers(nil); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected no providers error, got %v", err)
	}
}

func TestSynthesizersFallBackInOrder(t *testing.T) {
	t.Parallel()

	backend := &fakeSynth{err: errors.New("backend tts down")}
	direct := &fakeSynth{audio: domain.SynthesizedAudio{Bytes: []byte("mp3"), Format: "mp3"}}
	unused := &fakeSynth{}
	c, err := NewSynthesizers(nil, backend, direct, unused)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	audio, err := c.Synthesize(context.Background(), ports.SpeechRequest{Text: "hola"})
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if string(audio.Bytes) != "mp3" {
		t.Fatalf("unexpected audio: %+v", audio)
	}
	if backend.calls != 1 || direct.calls != 1 || unused.calls != 0 {
		t.Fatalf("unexpected call counts: %d %d %d", backend.calls, direct.calls, unused.calls)
	}
}

func TestSynthesizersAggregateErrors(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	second := errors.New("second")
	c, _ := NewSynthesizers(nil, &fakeSynth{err: first}, &fakeSynth{err: second})

	_, err := c.Synthesize(context.Background(), ports.SpeechRequest{Text: "x"})
	var chainErr *Error
	if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
		t.Fatalf("expected chain error, got %v", err)
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both causes reachable")
	}
	if !strings.Contains(err.Error(), "all 2 providers failed") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestSynthesizersStopOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := &fakeSynth{}
	c, _ := NewSynthesizers(nil, &fakeSynth{err: errors.New("cancelled upstream")}, next)

	_, err := c.Synthesize(ctx, ports.SpeechRequest{Text: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if next.calls != 0 {
		t.Fatalf("must not try next provider after cancellation")
	}
}

func TestTranscribersFallBack(t *testing.T) {
	t.Parallel()

	c, _ := NewTranscribers(nil,
		&fakeTranscriber{err: errors.New("backend stt down")},
		&fakeTranscriber{result: domain.Transcription{Text: "hello"}},
	)
	result, err := c.Transcribe(context.Background(), ports.TranscribeRequest{Clip: &domain.RecordedClip{Bytes: []byte("a")}})
	if err != nil || result.Text != "hello" {
		t.Fatalf("unexpected result: %+v err=%v", result, err)
	}

	failing, _ := NewTranscribers(nil, &fakeTranscriber{err: errors.New("only")})
	_, err = failing.Transcribe(context.Background(), ports.TranscribeRequest{})
	if err == nil || !strings.HasPrefix(err.Error(), "stt chain:") {
		t.Fatalf("unexpected error: %v", err)
	}
}

type fakeSynth struct {
	audio domain.SynthesizedAudio
	err   error
	calls int
}

func (f *fakeSynth) Synthesize(context.Context, ports.SpeechRequest) (domain.SynthesizedAudio, error) {
	f.calls++
	return f.audio, f.err
}

type fakeTranscriber struct {
	result domain.Transcription
	err    error
}

func (f *fakeTranscriber) Transcribe(context.Context, ports.TranscribeRequest) (domain.Transcription, error) {
	return f.result, f.err
}
