package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"lingoa/internal/bootstrap"
	"lingoa/internal/config"
	"lingoa/internal/domain"
	"lingoa/internal/playback"
	"lingoa/internal/ports"
	"lingoa/internal/usecase"
)

const (
	eventTurn         = "lingoa:turn"
	eventVolume       = "lingoa:volume"
	eventSpeech       = "lingoa:speech"
	eventTranscript   = "lingoa:transcript"
	eventPartial      = "lingoa:partial"
	eventFinal        = "lingoa:final"
	eventTranslation  = "lingoa:translation"
	eventIntent       = "lingoa:intent"
	eventFiller       = "lingoa:filler"
	eventSilentMode   = "lingoa:silent_mode"
	eventSpeakingTime = "lingoa:speaking_time"
	eventCompleted    = "lingoa:completed"
	eventError        = "lingoa:error"
)

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...any)

	coordinator *usecase.Coordinator
	playback    *playback.Engine
	capture     interface{ MimeType() string }
	stats       ports.StatsService
	tuning      *config.Tuning
	cfg         config.Config
	bootErr     error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, slog.Default())
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.coordinator = services.Coordinator
	a.playback = services.Playback
	a.capture = services.Capture
	a.stats = services.Stats
	a.tuning = services.Tuning
	a.cfg = services.Config
}

func (a *App) shutdown(ctx context.Context) {
	if a.coordinator == nil {
		return
	}
	if _, err := a.coordinator.Close(ctx); err != nil {
		slog.Default().Warn("close on shutdown failed", "component", "app", "error", err)
	}
}

// StartConversation opens a session. Empty fields fall back to config.
func (a *App) StartConversation(opts domain.ConversationOptions) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	opts = a.withDefaults(opts)
	if opts.Speed != "" {
		if _, err := a.tuning.Apply(config.TuningUpdate{SpeedPreset: &opts.Speed}); err != nil {
			return domain.Status{}, err
		}
	}
	if err := a.coordinator.StartConversation(a.ctx, opts); err != nil {
		return a.coordinator.Status(), err
	}
	return a.coordinator.Status(), nil
}

// SubmitTurn ends the learner's turn.
func (a *App) SubmitTurn() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.SubmitTurn(a.ctx)
}

// CloseConversation ends the session and returns the backend summary.
func (a *App) CloseConversation() (domain.SessionSummary, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionSummary{}, err
	}
	return a.coordinator.Close(a.ctx)
}

// GetStatus returns the current conversation status.
func (a *App) GetStatus() domain.Status {
	if a.coordinator == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.TurnStateClosed, Reason: domain.TurnReasonStartupFailed, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.TurnStateClosed}
	}
	return a.coordinator.Status()
}

// GetUserStats returns the learner's streak.
func (a *App) GetUserStats(userID string) (domain.UserStats, error) {
	if err := a.requireReady(); err != nil {
		return domain.UserStats{}, err
	}
	if userID == "" {
		userID = a.cfg.Session.UserID
	}
	return a.stats.UserStats(a.ctx, userID)
}

// SetTuning changes detector and playback knobs at runtime.
func (a *App) SetTuning(update config.TuningUpdate) (config.TuningValues, error) {
	if err := a.requireReady(); err != nil {
		return config.TuningValues{}, err
	}
	return a.tuning.Apply(update)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"replyTransport":   a.cfg.Backend.ReplyTransport,
		"language":         a.cfg.Session.Language,
		"topic":            a.cfg.Session.Topic,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"openaiFallback":   fmt.Sprint(a.cfg.OpenAI.APIKey != ""),
	}
	if a.capture != nil {
		info["captureMimeType"] = a.capture.MimeType()
	}
	if a.playback != nil {
		for _, s := range a.playback.Strategies() {
			info["playback."+s.Name] = fmt.Sprint(s.Available)
		}
	}
	return info
}

func (a *App) withDefaults(opts domain.ConversationOptions) domain.ConversationOptions {
	if opts.UserID == "" {
		opts.UserID = a.cfg.Session.UserID
	}
	if opts.Language == "" {
		opts.Language = a.cfg.Session.Language
	}
	if opts.Topic == "" {
		opts.Topic = a.cfg.Session.Topic
	}
	return opts
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.coordinator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, data any) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

// TurnStateChanged emits turn lifecycle updates to the frontend.
func (a *App) TurnStateChanged(state domain.TurnState, reason domain.TurnStateReason) {
	a.send(eventTurn, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": turnReasonMessage(reason),
	})
}

func (a *App) VolumeChanged(sample domain.VolumeSample) {
	a.send(eventVolume, sample)
}

func (a *App) UserSpeechChanged(state domain.SpeechState) {
	a.send(eventSpeech, map[string]string{"state": string(state)})
}

func (a *App) UserTranscript(text string) {
	a.send(eventTranscript, map[string]string{"text": text})
}

// PartialReply emits the reply text accumulated so far.
func (a *App) PartialReply(text string) {
	a.send(eventPartial, map[string]string{"text": text})
}

// FinalReply emits the reply shown to the learner and the form spoken aloud.
func (a *App) FinalReply(display string, spoken string) {
	a.send(eventFinal, map[string]string{
		"display": display,
		"spoken":  spoken,
	})
}

func (a *App) TranslationHint(hint domain.TranslationHint) {
	a.send(eventTranslation, hint)
}

func (a *App) TranslationCleared() {
	a.send(eventTranslation, nil)
}

func (a *App) IntentHint(text string) {
	a.send(eventIntent, map[string]string{"text": text})
}

func (a *App) IntentCleared() {
	a.send(eventIntent, nil)
}

func (a *App) FillerHint(text string) {
	a.send(eventFiller, map[string]string{"text": text})
}

func (a *App) SilentModeSuspected() {
	a.send(eventSilentMode, map[string]string{
		"message": errorMessage(domain.ErrorCodeSilentModeSuspected, ""),
	})
}

func (a *App) SpeakingTimeChanged(total time.Duration) {
	a.send(eventSpeakingTime, map[string]int64{"ms": total.Milliseconds()})
}

func (a *App) SessionCompleted(total time.Duration) {
	a.send(eventCompleted, map[string]int64{"ms": total.Milliseconds()})
}

// SessionError emits pipeline errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func turnReasonMessage(reason domain.TurnStateReason) string {
	switch reason {
	case domain.TurnReasonStarting:
		return "Starting conversation..."
	case domain.TurnReasonReady:
		return "Your turn"
	case domain.TurnReasonSubmitted:
		return "Transcribing..."
	case domain.TurnReasonNoSpeech:
		return "No speech detected"
	case domain.TurnReasonWrongLanguage:
		return "Try answering in the practice language"
	case domain.TurnReasonTranscriptionFailed:
		return "Could not transcribe, try again"
	case domain.TurnReasonThinking:
		return "Thinking..."
	case domain.TurnReasonReplyFailed:
		return "No reply received, try again"
	case domain.TurnReasonSpeaking:
		return "Speaking"
	case domain.TurnReasonReplySpoken:
		return "Your turn"
	case domain.TurnReasonPlaybackFailed:
		return "Reply could not be played"
	case domain.TurnReasonBargeIn:
		return "Listening"
	case domain.TurnReasonPermissionDenied:
		return "Microphone access denied"
	case domain.TurnReasonDeviceUnavailable:
		return "Microphone unavailable"
	case domain.TurnReasonStartupFailed:
		return "Could not start conversation"
	case domain.TurnReasonClosedByUser:
		return "Conversation ended"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermissionDenied:
		return "Microphone permission denied"
	case domain.ErrorCodeDeviceUnavailable:
		return "Microphone unavailable"
	case domain.ErrorCodeCaptureStalled:
		return "Recording was cut short"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeReply:
		return "Reply error"
	case domain.ErrorCodeTransportInterrupted:
		return "Reply stream interrupted"
	case domain.ErrorCodePlaybackFailed:
		return "Playback failed"
	case domain.ErrorCodeSilentModeSuspected:
		return "No audio heard, check that your device is not muted"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeSession:
		return "Session error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
