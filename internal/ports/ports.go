package ports

import (
	"context"
	"time"

	"lingoa/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	InputFormat      string
	InputDevice      string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// FrequencyAnalyser exposes byte frequency data of a live stream.
type FrequencyAnalyser interface {
	// ByteFrequencyData fills dst with magnitudes scaled to 0..255 and
	// returns the number of bins written.
	ByteFrequencyData(dst []byte) int
}

// InputStream is an acquired microphone stream with its analysis graph.
type InputStream interface {
	Analyser() FrequencyAnalyser
	SupportsMimeType(mimeType string) bool
	NewRecorder(mimeType string, chunkInterval time.Duration) (Recorder, error)
	Close() error
}

// AudioDevice acquires microphone streams.
type AudioDevice interface {
	Open(ctx context.Context, cfg AudioConfig) (InputStream, error)
}

// RecorderEventKind identifies a recorder notification.
type RecorderEventKind string

const (
	RecorderEventData    RecorderEventKind = "data"
	RecorderEventStopped RecorderEventKind = "stopped"
	RecorderEventError   RecorderEventKind = "error"
)

// RecorderEvent is delivered on Recorder.Events in emission order.
type RecorderEvent struct {
	Kind  RecorderEventKind
	Chunk []byte
	Err   error
}

// Recorder produces encoded chunks at a fixed interval. Stop requests the
// final chunk; completion is announced by a stopped or error event, after
// which the events channel is closed.
type Recorder interface {
	MimeType() string
	Events() <-chan RecorderEvent
	Stop() error
}

// TranscribeRequest is one recorded turn.
type TranscribeRequest struct {
	Clip     *domain.RecordedClip
	Language string
}

// Transcriber converts recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (domain.Transcription, error)
}

// ReplyRequest asks the conversation backend for the next AI turn.
type ReplyRequest struct {
	SessionID  string
	Transcript string
	Language   string
}

// EnvelopeStream yields reply envelopes until io.EOF.
type EnvelopeStream interface {
	Next() (domain.StreamEnvelope, error)
	Close() error
}

// Replier opens a streamed reply.
type Replier interface {
	StreamReply(ctx context.Context, req ReplyRequest) (EnvelopeStream, error)
}

// SpeechRequest is text to synthesize.
type SpeechRequest struct {
	Text     string
	Language string
	Speed    float64
}

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (domain.SynthesizedAudio, error)
}

// FillerRequest asks for a thinking filler. Exclude lists phrases played
// recently.
type FillerRequest struct {
	Language string
	Speed    float64
	Exclude  []string
}

// FillerSource provides pre-synthesized thinking fillers.
type FillerSource interface {
	Filler(ctx context.Context, req FillerRequest) (domain.FillerClip, error)
}

// SpeakOptions tune one playback.
type SpeakOptions struct {
	Language string
	Rate     float64
	// OnSilentMode is called at most once when output could not be
	// confirmed audible. It never blocks playback.
	OnSilentMode func()
}

// FillerOptions tune one thinking filler.
type FillerOptions struct {
	SpeakOptions
	Exclude []string
	// OnText is called with the chosen phrase right before it plays.
	OnText func(text string)
}

// Speaker owns the output device: one interruptible playback at a time.
type Speaker interface {
	Speak(ctx context.Context, text string, opts SpeakOptions) error
	SpeakFiller(ctx context.Context, opts FillerOptions) error
	Stop()
	Unlock(ctx context.Context) bool
	ResetSession()
}

// CaptureUnit owns the microphone stream and recorder pair.
type CaptureUnit interface {
	Start(ctx context.Context) error
	StopAndFlush(ctx context.Context) (*domain.RecordedClip, error)
	Teardown()
	Frequencies(dst []byte) (n int, ok bool)
}

// SessionService starts and ends practice sessions.
type SessionService interface {
	StartSession(ctx context.Context, opts domain.ConversationOptions) (domain.SessionInfo, error)
	EndSession(ctx context.Context, sessionID string, speakingTime time.Duration) (domain.SessionSummary, error)
}

// StatsService reads a learner's streak.
type StatsService interface {
	UserStats(ctx context.Context, userID string) (domain.UserStats, error)
}

// RulesEngine transforms text using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink emits pipeline state/events to the UI.
type EventSink interface {
	TurnStateChanged(state domain.TurnState, reason domain.TurnStateReason)
	VolumeChanged(sample domain.VolumeSample)
	UserSpeechChanged(state domain.SpeechState)
	UserTranscript(text string)
	PartialReply(text string)
	FinalReply(display string, spoken string)
	TranslationHint(hint domain.TranslationHint)
	TranslationCleared()
	IntentHint(text string)
	IntentCleared()
	FillerHint(text string)
	SilentModeSuspected()
	SpeakingTimeChanged(total time.Duration)
	SessionCompleted(total time.Duration)
	SessionError(code domain.ErrorCode, detail string)
}
