// Package usecase holds the turn coordinator: the only component allowed to
// start or stop recording and to request or interrupt playback.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
	"lingoa/internal/stream"
	"lingoa/internal/vad"
)

var ErrAlreadyStarted = errors.New("conversation already running")

const (
	DefaultPlaceholderDelay   = 1200 * time.Millisecond
	DefaultTargetSpeakingTime = 300 * time.Second
	DefaultEndTimeout         = 15 * time.Second

	maxRecentFillers = 3
)

// Config controls turn timing. VADSettings and PlaybackRate are read on
// every use so tuning changes apply to the next tick or turn.
type Config struct {
	PlaceholderDelay   time.Duration
	TargetSpeakingTime time.Duration
	EndTimeout         time.Duration
	FrameInterval      time.Duration
	VADSettings        func() vad.Settings
	PlaybackRate       func() float64
}

// Dependencies are the collaborators owned by the coordinator.
type Dependencies struct {
	Sessions    ports.SessionService
	Capture     ports.CaptureUnit
	Transcriber ports.Transcriber
	Replier     ports.Replier
	Speaker     ports.Speaker
	Rules       ports.RulesEngine
	Events      ports.EventSink
}

// Coordinator runs one conversation at a time. Each conversation has a
// single loop goroutine that owns the turn state; long operations run in
// workers that post their results back to it.
type Coordinator struct {
	sessions    ports.SessionService
	capture     ports.CaptureUnit
	transcriber ports.Transcriber
	replier     ports.Replier
	speaker     ports.Speaker
	events      ports.EventSink
	finalizer   replyFinalizer
	cfg         Config
	logger      *slog.Logger

	mu      sync.Mutex
	current *conversation
}

func NewCoordinator(deps Dependencies, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.PlaceholderDelay <= 0 {
		cfg.PlaceholderDelay = DefaultPlaceholderDelay
	}
	if cfg.TargetSpeakingTime <= 0 {
		cfg.TargetSpeakingTime = DefaultTargetSpeakingTime
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = DefaultEndTimeout
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = vad.DefaultFrameInterval
	}
	if cfg.PlaybackRate == nil {
		cfg.PlaybackRate = func() float64 { return 1 }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sessions:    deps.Sessions,
		capture:     deps.Capture,
		transcriber: deps.Transcriber,
		replier:     deps.Replier,
		speaker:     deps.Speaker,
		events:      deps.Events,
		finalizer:   newReplyFinalizer(deps.Rules, deps.Events),
		cfg:         cfg,
		logger:      logger.With("component", "coordinator"),
	}
}

// StartConversation opens a backend session and starts the conversation
// loop. It returns once the session exists; the greeting and microphone
// start continue in the background and end in WaitingForUser or Closed.
func (c *Coordinator) StartConversation(ctx context.Context, opts domain.ConversationOptions) error {
	conv := newConversation(opts.Language, c.cfg.TargetSpeakingTime)

	c.mu.Lock()
	previous := c.current
	if previous != nil && previous.snapshot().State != domain.TurnStateClosed {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.current = conv
	c.mu.Unlock()

	if previous != nil && !previous.finished() {
		// A conversation closed by a capture failure still holds its
		// backend session until it is explicitly closed.
		if _, err := c.closeConversation(ctx, previous); err != nil {
			c.logger.Warn("previous conversation did not close cleanly", "error", err)
		}
	}

	c.events.TurnStateChanged(domain.TurnStateInitializing, domain.TurnReasonStarting)

	info, err := c.sessions.StartSession(ctx, opts)
	if err != nil {
		conv.updateStatus(func(s *domain.Status) {
			s.State = domain.TurnStateClosed
			s.Reason = domain.TurnReasonStartupFailed
			s.Message = err.Error()
		})
		conv.queue.close()
		close(conv.done)
		c.events.SessionError(domain.ErrorCodeStartup, err.Error())
		c.events.TurnStateChanged(domain.TurnStateClosed, domain.TurnReasonStartupFailed)
		return fmt.Errorf("start session: %w", err)
	}
	if info.Language == "" {
		info.Language = opts.Language
	}
	conv.info = info
	conv.language = info.Language
	conv.updateStatus(func(s *domain.Status) { s.SessionID = info.ID })

	conv.ctx, conv.cancel = context.WithCancel(context.Background())
	c.speaker.ResetSession()

	conv.detector = vad.NewDetector(c.cfg.VADSettings, vadListener{events: c.events, queue: conv.queue})
	go func() {
		defer close(conv.vadDone)
		conv.detector.Run(conv.ctx, c.capture, c.cfg.FrameInterval)
	}()
	go c.run(conv)

	c.logger.Info("conversation started", "session_id", info.ID, "language", conv.language, "topic", info.Topic)
	return nil
}

// SubmitTurn ends the user's turn. It only queues the work: the reply
// arrives through the event sink.
func (c *Coordinator) SubmitTurn(ctx context.Context) error {
	conv := c.active()
	if conv == nil {
		return domain.ErrNotReady
	}
	reply := make(chan error, 1)
	if !conv.post(submitEvent{reply: reply}) {
		return domain.ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-conv.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down capture and playback, ends the backend session with the
// accumulated speaking time and returns its summary.
func (c *Coordinator) Close(ctx context.Context) (domain.SessionSummary, error) {
	conv := c.active()
	if conv == nil {
		return domain.SessionSummary{}, domain.ErrClosed
	}
	return c.closeConversation(ctx, conv)
}

// Status returns a snapshot of the current conversation.
func (c *Coordinator) Status() domain.Status {
	conv := c.active()
	if conv == nil {
		return domain.Status{State: domain.TurnStateClosed}
	}
	return conv.snapshot()
}

func (c *Coordinator) active() *conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) closeConversation(ctx context.Context, conv *conversation) (domain.SessionSummary, error) {
	reply := make(chan closeOutcome, 1)
	if !conv.post(closeEvent{ctx: ctx, reply: reply}) {
		return domain.SessionSummary{}, domain.ErrClosed
	}
	select {
	case out := <-reply:
		return out.summary, out.err
	case <-conv.done:
		select {
		case out := <-reply:
			return out.summary, out.err
		default:
			return domain.SessionSummary{}, domain.ErrClosed
		}
	case <-ctx.Done():
		return domain.SessionSummary{}, ctx.Err()
	}
}

func (c *Coordinator) run(conv *conversation) {
	defer func() {
		conv.queue.close()
		close(conv.done)
	}()

	c.startup(conv)
	for {
		ev, ok := conv.queue.pop()
		if !ok {
			return
		}
		if c.handle(conv, ev) {
			return
		}
	}
}

// handle applies one event. It returns true when the loop must exit.
func (c *Coordinator) handle(conv *conversation, ev any) bool {
	switch e := ev.(type) {
	case startupDoneEvent:
		c.onStartupDone(conv, e)
	case submitEvent:
		e.reply <- c.onSubmit(conv)
	case speechStartedEvent:
		c.onSpeechStarted(conv)
	case speechEndedEvent:
		c.onSpeechEnded(conv, e)
	case flushDoneEvent:
		c.onFlushDone(conv, e)
	case placeholderDoneEvent:
		if c.live(conv, e.gen, "placeholder", domain.TurnStateTranscribing) {
			c.setState(conv, domain.TurnStateWaitingForUser, domain.TurnReasonReady)
		}
	case transcriptionDoneEvent:
		c.onTranscriptionDone(conv, e)
	case replyUpdateEvent:
		if c.live(conv, e.gen, "reply update", domain.TurnStateAwaitingReply) {
			e.emit(c.events)
		}
	case replyDoneEvent:
		c.onReplyDone(conv, e)
	case fillerStartedEvent:
		c.onFillerStarted(conv, e)
	case playbackDoneEvent:
		c.onPlaybackDone(conv, e)
	case silentModeEvent:
		c.onSilentMode(conv)
	case closeEvent:
		summary, err := c.onClose(e.ctx, conv)
		e.reply <- closeOutcome{summary: summary, err: err}
		return true
	default:
		c.logger.Warn("ignoring unknown event", "event", fmt.Sprintf("%T", ev))
	}
	return false
}

// live reports whether a worker result still belongs to the live turn.
func (c *Coordinator) live(conv *conversation, gen uint64, kind string, want domain.TurnState) bool {
	if gen != conv.gen {
		c.logger.Debug("dropping stale result", "kind", kind, "gen", gen, "current_gen", conv.gen)
		return false
	}
	if conv.state != want {
		c.logger.Debug("ignoring result in unexpected state", "kind", kind, "state", conv.state, "want", want)
		return false
	}
	return true
}

func (c *Coordinator) setState(conv *conversation, state domain.TurnState, reason domain.TurnStateReason) {
	conv.state = state
	conv.updateStatus(func(s *domain.Status) {
		s.State = state
		s.Reason = reason
	})
	c.logger.Debug("turn state changed", "state", state, "reason", reason)
	c.events.TurnStateChanged(state, reason)
}

func (c *Coordinator) speakOptions(conv *conversation, gen uint64) ports.SpeakOptions {
	return ports.SpeakOptions{
		Language:     conv.language,
		Rate:         c.cfg.PlaybackRate(),
		OnSilentMode: func() { conv.post(silentModeEvent{gen: gen}) },
	}
}

func (c *Coordinator) startup(conv *conversation) {
	gen, ctx := conv.beginTurn()

	var spoken string
	if greeting := strings.TrimSpace(conv.info.Greeting); greeting != "" {
		spoken = c.finalizer.Finalize(greeting)
		c.events.FinalReply(greeting, spoken)
	}
	opts := c.speakOptions(conv, gen)

	conv.spawn(func() {
		if !c.speaker.Unlock(ctx) {
			c.logger.Info("audio unlock was best effort")
		}
		var greetErr error
		if spoken != "" {
			greetErr = c.speaker.Speak(ctx, spoken, opts)
		}
		var captureErr error
		if conv.ctx.Err() == nil {
			captureErr = c.capture.Start(conv.ctx)
		}
		conv.post(startupDoneEvent{gen: gen, greetErr: greetErr, captureErr: captureErr})
	})
}

func (c *Coordinator) onStartupDone(conv *conversation, e startupDoneEvent) {
	if !c.live(conv, e.gen, "startup", domain.TurnStateInitializing) {
		return
	}
	if e.greetErr != nil {
		c.events.SessionError(domain.ErrorCodeFor(e.greetErr, domain.ErrorCodePlaybackFailed), e.greetErr.Error())
	}
	if e.captureErr != nil {
		c.fail(conv, e.captureErr)
		return
	}
	c.setState(conv, domain.TurnStateWaitingForUser, domain.TurnReasonReady)
}

func (c *Coordinator) onSubmit(conv *conversation) error {
	switch conv.state {
	case domain.TurnStateWaitingForUser:
	case domain.TurnStateInitializing:
		return domain.ErrNotReady
	case domain.TurnStateClosed:
		return domain.ErrClosed
	default:
		return domain.ErrTurnInFlight
	}

	gen, ctx := conv.beginTurn()
	c.setState(conv, domain.TurnStateTranscribing, domain.TurnReasonSubmitted)

	conv.spawn(func() {
		clip, err := c.capture.StopAndFlush(ctx)
		// The recording that carried any open speech run is gone.
		conv.detector.Reset()
		var restartErr error
		if conv.ctx.Err() == nil {
			restartErr = c.capture.Start(conv.ctx)
		}
		conv.post(flushDoneEvent{gen: gen, clip: clip, err: err, restartErr: restartErr})
	})
	return nil
}

func (c *Coordinator) onSpeechStarted(conv *conversation) {
	counts := conv.state == domain.TurnStateWaitingForUser
	if conv.state == domain.TurnStateAwaitingReply || conv.state == domain.TurnStateSpeaking {
		c.logger.Info("barge-in", "state", conv.state)
		conv.invalidateTurn()
		c.speaker.Stop()
		c.setState(conv, domain.TurnStateWaitingForUser, domain.TurnReasonBargeIn)
		counts = true
	}
	conv.clock.begin(counts)
	c.events.UserSpeechChanged(domain.SpeechStateSpeaking)
}

func (c *Coordinator) onSpeechEnded(conv *conversation, e speechEndedEvent) {
	c.events.UserSpeechChanged(domain.SpeechStateSilent)

	counted, crossed := conv.clock.end(e.duration)
	if !counted {
		return
	}
	total := conv.clock.Total()
	conv.updateStatus(func(s *domain.Status) {
		s.SpeakingTime = total
		s.TargetReached = conv.clock.Completed()
	})
	c.events.SpeakingTimeChanged(total)
	if crossed {
		c.logger.Info("speaking target reached", "total", total)
		c.events.SessionCompleted(total)
	}
}

func (c *Coordinator) onFlushDone(conv *conversation, e flushDoneEvent) {
	if !c.live(conv, e.gen, "flush", domain.TurnStateTranscribing) {
		return
	}
	if e.restartErr != nil {
		if isFatalCaptureError(e.restartErr) {
			c.fail(conv, e.restartErr)
			return
		}
		c.events.SessionError(domain.ErrorCodeDeviceUnavailable, e.restartErr.Error())
	}
	if e.err != nil {
		c.logger.Warn("flush incomplete", "error", e.err, "bytes", e.clip.Size())
		c.events.SessionError(domain.ErrorCodeFor(e.err, domain.ErrorCodeCaptureStalled), e.err.Error())
	}
	if e.clip.Empty() {
		c.placeholder(conv, domain.TurnReasonNoSpeech)
		return
	}

	gen, clip := conv.gen, e.clip
	ctx := conv.turnCtx
	conv.spawn(func() {
		result, err := c.transcriber.Transcribe(ctx, ports.TranscribeRequest{Clip: clip, Language: conv.language})
		conv.post(transcriptionDoneEvent{gen: gen, result: result, err: err})
	})
}

func (c *Coordinator) onTranscriptionDone(conv *conversation, e transcriptionDoneEvent) {
	if !c.live(conv, e.gen, "transcription", domain.TurnStateTranscribing) {
		return
	}
	if e.err != nil {
		c.logger.Warn("transcription failed", "error", e.err)
		c.events.SessionError(domain.ErrorCodeTranscription, e.err.Error())
		c.setState(conv, domain.TurnStateWaitingForUser, domain.TurnReasonTranscriptionFailed)
		return
	}

	text := strings.TrimSpace(e.result.Text)
	if text == "" {
		c.placeholder(conv, domain.TurnReasonNoSpeech)
		return
	}
	c.events.UserTranscript(text)
	if e.result.ValidForTarget != nil && !*e.result.ValidForTarget {
		c.logger.Info("transcript not in target language", "detected", e.result.DetectedLanguage, "target", conv.language)
		c.placeholder(conv, domain.TurnReasonWrongLanguage)
		return
	}

	c.setState(conv, domain.TurnStateAwaitingReply, domain.TurnReasonThinking)

	gen := conv.gen
	ctx := conv.turnCtx
	req := ports.ReplyRequest{SessionID: conv.info.ID, Transcript: text, Language: conv.language}
	conv.spawn(func() {
		result, err := c.requestReply(ctx, req, turnObserver{gen: gen, queue: conv.queue})
		conv.post(replyDoneEvent{gen: gen, result: result, err: err})
	})
	c.startFiller(conv, gen, ctx)
}

// startFiller plays a thinking filler while the reply is pending.
func (c *Coordinator) startFiller(conv *conversation, gen uint64, turnCtx context.Context) {
	ctx, cancel := context.WithCancel(turnCtx)
	f := &turnFiller{cancel: cancel, done: make(chan struct{})}
	conv.filler = f
	opts := ports.FillerOptions{
		SpeakOptions: c.speakOptions(conv, gen),
		Exclude:      append([]string(nil), conv.recentFillers...),
		OnText:       func(text string) { conv.post(fillerStartedEvent{gen: gen, text: text}) },
	}
	conv.spawn(func() {
		defer close(f.done)
		defer cancel()
		if err := c.speaker.SpeakFiller(ctx, opts); err != nil {
			c.logger.Debug("thinking filler skipped", "error", err)
		}
	})
}

func (c *Coordinator) onFillerStarted(conv *conversation, e fillerStartedEvent) {
	if !c.live(conv, e.gen, "filler", domain.TurnStateAwaitingReply) || conv.filler == nil {
		return
	}
	conv.filler.playing = true
	conv.rememberFiller(e.text)
	c.events.FillerHint(e.text)
}

func (c *Coordinator) onReplyDone(conv *conversation, e replyDoneEvent) {
	if !c.live(conv, e.gen, "reply", domain.TurnStateAwaitingReply) {
		return
	}
	fillerDone := conv.settleFiller()

	text := strings.TrimSpace(e.result.Text)
	switch {
	case e.err != nil && text == "":
		c.events.SessionError(domain.ErrorCodeFor(e.err, domain.ErrorCodeReply), e.err.Error())
	case e.result.ServerError != "":
		c.events.SessionError(domain.ErrorCodeReply, e.result.ServerError)
	case e.err != nil:
		c.events.SessionError(domain.ErrorCodeFor(e.err, domain.ErrorCodeTransportInterrupted), e.err.Error())
	case e.result.Interrupted:
		c.events.SessionError(domain.ErrorCodeTransportInterrupted, domain.ErrTransportInterrupted.Error())
	}
	if text == "" {
		c.setState(conv, domain.TurnStateWaitingForUser, domain.TurnReasonReplyFailed)
		return
	}

	spoken := c.finalizer.Finalize(text)
	c.events.FinalReply(text, spoken)
	c.setState(conv, domain.TurnStateSpeaking, domain.TurnReasonSpeaking)

	gen := conv.gen
	ctx := conv.turnCtx
	opts := c.speakOptions(conv, gen)
	conv.spawn(func() {
		if fillerDone != nil {
			select {
			case <-fillerDone:
			case <-ctx.Done():
			}
		}
		err := c.speaker.Speak(ctx, spoken, opts)
		conv.post(playbackDoneEvent{gen: gen, err: err})
	})
}

func (c *Coordinator) onPlaybackDone(conv *conversation, e playbackDoneEvent) {
	if !c.live(conv, e.gen, "playback", domain.TurnStateSpeaking) {
		return
	}
	if e.err != nil {
		c.logger.Warn("reply playback failed", "error", e.err)
		c.events.SessionError(domain.ErrorCodeFor(e.err, domain.ErrorCodePlaybackFailed), e.err.Error())
		c.setState(conv, domain.TurnStateWaitingForUser, domain.TurnReasonPlaybackFailed)
		return
	}
	c.setState(conv, domain.TurnStateWaitingForUser, domain.TurnReasonReplySpoken)
}

func (c *Coordinator) onSilentMode(conv *conversation) {
	if conv.silentNotified || conv.state == domain.TurnStateClosed {
		return
	}
	conv.silentNotified = true
	conv.updateStatus(func(s *domain.Status) { s.SilentMode = true })
	c.logger.Warn("output could not be confirmed audible")
	c.events.SilentModeSuspected()
}

func (c *Coordinator) onClose(ctx context.Context, conv *conversation) (domain.SessionSummary, error) {
	if conv.state != domain.TurnStateClosed {
		c.teardown(conv)
		c.setState(conv, domain.TurnStateClosed, domain.TurnReasonClosedByUser)
	}

	total := conv.clock.Total()
	fallback := domain.SessionSummary{
		SessionID:    conv.info.ID,
		SpeakingTime: total,
		Completed:    conv.clock.Completed(),
	}

	endCtx, cancel := context.WithTimeout(ctx, c.cfg.EndTimeout)
	defer cancel()
	summary, err := c.sessions.EndSession(endCtx, conv.info.ID, total)
	if err != nil {
		c.logger.Warn("end session failed", "session_id", conv.info.ID, "error", err)
		c.events.SessionError(domain.ErrorCodeSession, err.Error())
		return fallback, fmt.Errorf("end session: %w", err)
	}
	if summary.SessionID == "" {
		summary.SessionID = fallback.SessionID
	}
	if summary.SpeakingTime == 0 {
		summary.SpeakingTime = total
	}
	c.logger.Info("conversation closed", "session_id", summary.SessionID, "speaking_time", summary.SpeakingTime, "completed", summary.Completed)
	return summary, nil
}

// fail closes the conversation after a blocking capture error. The backend
// session stays open until Close.
func (c *Coordinator) fail(conv *conversation, err error) {
	reason := domain.TurnReasonDeviceUnavailable
	if errors.Is(err, domain.ErrPermissionDenied) {
		reason = domain.TurnReasonPermissionDenied
	}
	c.logger.Error("capture unavailable, closing conversation", "error", err)
	c.events.SessionError(domain.ErrorCodeFor(err, domain.ErrorCodeDeviceUnavailable), err.Error())
	c.teardown(conv)
	conv.updateStatus(func(s *domain.Status) { s.Message = err.Error() })
	c.setState(conv, domain.TurnStateClosed, reason)
}

func (c *Coordinator) teardown(conv *conversation) {
	if conv.tornDown {
		return
	}
	conv.tornDown = true
	conv.invalidateTurn()
	conv.cancel()
	c.speaker.Stop()
	conv.workers.Wait()
	<-conv.vadDone
	c.capture.Teardown()
}

func (c *Coordinator) placeholder(conv *conversation, reason domain.TurnStateReason) {
	c.setState(conv, domain.TurnStateTranscribing, reason)
	gen := conv.gen
	conv.placeholder = time.AfterFunc(c.cfg.PlaceholderDelay, func() {
		conv.post(placeholderDoneEvent{gen: gen})
	})
}

func (c *Coordinator) requestReply(ctx context.Context, req ports.ReplyRequest, observer stream.Observer) (stream.Result, error) {
	replies, err := c.replier.StreamReply(ctx, req)
	if err != nil {
		return stream.Result{}, fmt.Errorf("open reply stream: %w", err)
	}
	return stream.Aggregate(ctx, replies, observer, c.logger)
}

func isFatalCaptureError(err error) bool {
	return errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrDeviceUnavailable)
}
