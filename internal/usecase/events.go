package usecase

import (
	"context"
	"sync"
	"time"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
	"lingoa/internal/stream"
)

// Events consumed by the conversation loop. Worker results carry the turn
// generation they were started for.
type (
	startupDoneEvent struct {
		gen        uint64
		greetErr   error
		captureErr error
	}
	submitEvent struct {
		reply chan error
	}
	speechStartedEvent struct {
		at time.Time
	}
	speechEndedEvent struct {
		duration time.Duration
	}
	flushDoneEvent struct {
		gen        uint64
		clip       *domain.RecordedClip
		err        error
		restartErr error
	}
	placeholderDoneEvent struct {
		gen uint64
	}
	transcriptionDoneEvent struct {
		gen    uint64
		result domain.Transcription
		err    error
	}
	replyUpdateEvent struct {
		gen  uint64
		emit func(ports.EventSink)
	}
	replyDoneEvent struct {
		gen    uint64
		result stream.Result
		err    error
	}
	fillerStartedEvent struct {
		gen  uint64
		text string
	}
	playbackDoneEvent struct {
		gen uint64
		err error
	}
	silentModeEvent struct {
		gen uint64
	}
	closeEvent struct {
		ctx   context.Context
		reply chan closeOutcome
	}
)

type closeOutcome struct {
	summary domain.SessionSummary
	err     error
}

// eventQueue is an unbounded FIFO. Producers never block; push fails once
// the queue is closed.
type eventQueue struct {
	mu     sync.Mutex
	items  []any
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev any) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until an event is queued. ok is false once the queue is closed
// and drained.
func (q *eventQueue) pop() (ev any, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// vadListener turns detector output into loop events.
type vadListener struct {
	events ports.EventSink
	queue  *eventQueue
}

func (l vadListener) VolumeChanged(sample domain.VolumeSample) {
	l.events.VolumeChanged(sample)
}

func (l vadListener) SpeechStarted(at time.Time) {
	l.queue.push(speechStartedEvent{at: at})
}

func (l vadListener) SpeechEnded(duration time.Duration) {
	l.queue.push(speechEndedEvent{duration: duration})
}

// turnObserver forwards aggregator callbacks through the loop so hints for
// an abandoned turn never reach the UI.
type turnObserver struct {
	gen   uint64
	queue *eventQueue
}

func (o turnObserver) post(emit func(ports.EventSink)) {
	o.queue.push(replyUpdateEvent{gen: o.gen, emit: emit})
}

func (o turnObserver) PartialReply(text string) {
	o.post(func(s ports.EventSink) { s.PartialReply(text) })
}

func (o turnObserver) TranslationHint(hint domain.TranslationHint) {
	o.post(func(s ports.EventSink) { s.TranslationHint(hint) })
}

func (o turnObserver) TranslationCleared() {
	o.post(func(s ports.EventSink) { s.TranslationCleared() })
}

func (o turnObserver) IntentHint(text string) {
	o.post(func(s ports.EventSink) { s.IntentHint(text) })
}

func (o turnObserver) IntentCleared() {
	o.post(func(s ports.EventSink) { s.IntentCleared() })
}

func (o turnObserver) FillerHint(text string) {
	o.post(func(s ports.EventSink) { s.FillerHint(text) })
}
