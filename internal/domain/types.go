package domain

import "time"

// TurnState models the conversational turn-taking lifecycle.
type TurnState string

const (
	TurnStateInitializing   TurnState = "initializing"
	TurnStateWaitingForUser TurnState = "waiting_for_user"
	TurnStateTranscribing   TurnState = "transcribing"
	TurnStateAwaitingReply  TurnState = "awaiting_reply"
	TurnStateSpeaking       TurnState = "speaking"
	TurnStateClosed         TurnState = "closed"
)

// TurnStateReason provides a structured reason for state transitions.
type TurnStateReason string

const (
	TurnReasonStarting            TurnStateReason = "starting"
	TurnReasonReady               TurnStateReason = "ready"
	TurnReasonSubmitted           TurnStateReason = "submitted"
	TurnReasonNoSpeech            TurnStateReason = "no_speech"
	TurnReasonWrongLanguage       TurnStateReason = "wrong_language"
	TurnReasonTranscriptionFailed TurnStateReason = "transcription_failed"
	TurnReasonThinking            TurnStateReason = "thinking"
	TurnReasonReplyFailed         TurnStateReason = "reply_failed"
	TurnReasonSpeaking            TurnStateReason = "speaking"
	TurnReasonReplySpoken         TurnStateReason = "reply_spoken"
	TurnReasonPlaybackFailed      TurnStateReason = "playback_failed"
	TurnReasonBargeIn             TurnStateReason = "barge_in"
	TurnReasonPermissionDenied    TurnStateReason = "permission_denied"
	TurnReasonDeviceUnavailable   TurnStateReason = "device_unavailable"
	TurnReasonStartupFailed       TurnStateReason = "startup_failed"
	TurnReasonClosedByUser        TurnStateReason = "closed_by_user"
)

// ErrorCode identifies non-fatal and fatal pipeline errors.
type ErrorCode string

const (
	ErrorCodeStartup              ErrorCode = "startup"
	ErrorCodePermissionDenied     ErrorCode = "permission_denied"
	ErrorCodeDeviceUnavailable    ErrorCode = "device_unavailable"
	ErrorCodeCaptureStalled       ErrorCode = "capture_stalled"
	ErrorCodeTranscription        ErrorCode = "transcription"
	ErrorCodeReply                ErrorCode = "reply"
	ErrorCodeTransportInterrupted ErrorCode = "transport_interrupted"
	ErrorCodePlaybackFailed       ErrorCode = "playback_failed"
	ErrorCodeSilentModeSuspected  ErrorCode = "silent_mode_suspected"
	ErrorCodeRules                ErrorCode = "rules"
	ErrorCodeSession              ErrorCode = "session"
)

// AudioChunk is one ordered fragment emitted by the recorder.
type AudioChunk struct {
	Data     []byte
	MimeType string
}

// RecordedClip is the concatenation of a recording's chunks.
type RecordedClip struct {
	Bytes    []byte `json:"-"`
	MimeType string `json:"mimeType"`
}

// Empty reports whether the clip carries no audio.
func (c *RecordedClip) Empty() bool {
	return c == nil || len(c.Bytes) == 0
}

// Size is the clip length in bytes; zero for a nil clip.
func (c *RecordedClip) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Bytes)
}

// VolumeSample is produced once per analysis tick.
type VolumeSample struct {
	Volume float64 `json:"volume"`
	DB     float64 `json:"db"`
}

// SpeechState is the detector's view of the user.
type SpeechState string

const (
	SpeechStateSilent   SpeechState = "silent"
	SpeechStateSpeaking SpeechState = "speaking"
)

// SynthesizedAudio is encoded speech returned by a synthesizer.
type SynthesizedAudio struct {
	Bytes  []byte
	Format string
}

// FillerClip is a short thinking phrase played while a reply is pending.
type FillerClip struct {
	Text  string
	Audio SynthesizedAudio
}

// Transcription is the result of speech-to-text on one clip.
type Transcription struct {
	Text             string `json:"text"`
	DetectedLanguage string `json:"detectedLanguage,omitempty"`
	ValidForTarget   *bool  `json:"validForTarget,omitempty"`
}

// ConversationOptions selects who is practising what.
type ConversationOptions struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
	Topic    string `json:"topic"`
	Speed    string `json:"speed,omitempty"`
}

// SessionInfo is returned by the session service on start.
type SessionInfo struct {
	ID       string `json:"sessionId"`
	Greeting string `json:"greeting"`
	Language string `json:"language"`
	Topic    string `json:"topic"`
}

// SessionSummary is returned by the session service on end.
type SessionSummary struct {
	SessionID    string        `json:"sessionId"`
	SpeakingTime time.Duration `json:"speakingTime"`
	Completed    bool          `json:"completed"`
	Streak       int           `json:"streak"`
	Feedback     any           `json:"feedback,omitempty"`
}

type UserStats struct {
	UserID         string `json:"userId"`
	Streak         int    `json:"streak"`
	CompletedToday bool   `json:"completedToday"`
}

// Status summarizes the current runtime status.
type Status struct {
	State         TurnState       `json:"state"`
	Reason        TurnStateReason `json:"reason,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	SpeakingTime  time.Duration   `json:"speakingTime"`
	TargetReached bool            `json:"targetReached"`
	SilentMode    bool            `json:"silentMode"`
	Message       string          `json:"message,omitempty"`
}
