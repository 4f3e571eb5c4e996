package domain

import "errors"

var (
	ErrPermissionDenied     = errors.New("microphone permission denied")
	ErrDeviceUnavailable    = errors.New("audio input device unavailable")
	ErrCaptureStalled       = errors.New("recorder did not flush before timeout")
	ErrTransportInterrupted = errors.New("reply stream ended before completion")
	ErrPlaybackFailed       = errors.New("playback failed")
	ErrSilentModeSuspected  = errors.New("audio output may be muted")

	ErrTurnInFlight = errors.New("a turn is already in flight")
	ErrNotReady     = errors.New("conversation is not ready")
	ErrClosed       = errors.New("conversation is closed")
)

// ErrorCodeFor maps a pipeline error onto the code surfaced to the UI.
func ErrorCodeFor(err error, fallback ErrorCode) ErrorCode {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.Is(err, ErrDeviceUnavailable):
		return ErrorCodeDeviceUnavailable
	case errors.Is(err, ErrCaptureStalled):
		return ErrorCodeCaptureStalled
	case errors.Is(err, ErrTransportInterrupted):
		return ErrorCodeTransportInterrupted
	case errors.Is(err, ErrPlaybackFailed):
		return ErrorCodePlaybackFailed
	case errors.Is(err, ErrSilentModeSuspected):
		return ErrorCodeSilentModeSuspected
	default:
		return fallback
	}
}
