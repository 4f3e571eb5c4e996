package usecase

import (
	"context"
	"sync"
	"time"

	"lingoa/internal/domain"
	"lingoa/internal/vad"
)

// conversation is one started session. Fields below the loop marker are
// owned by the loop goroutine.
type conversation struct {
	info     domain.SessionInfo
	language string

	ctx     context.Context
	cancel  context.CancelFunc
	queue   *eventQueue
	done    chan struct{}
	vadDone  chan struct{}
	detector *vad.Detector
	workers  sync.WaitGroup

	// loop
	state          domain.TurnState
	gen            uint64
	turnCtx        context.Context
	turnCancel     context.CancelFunc
	placeholder    *time.Timer
	filler         *turnFiller
	recentFillers  []string
	clock          *speakingClock
	silentNotified bool
	tornDown       bool

	statusMu sync.Mutex
	status   domain.Status
}

func newConversation(language string, target time.Duration) *conversation {
	return &conversation{
		language: language,
		queue:    newEventQueue(),
		done:     make(chan struct{}),
		vadDone:  make(chan struct{}),
		state:    domain.TurnStateInitializing,
		clock:    newSpeakingClock(target),
		status:   domain.Status{State: domain.TurnStateInitializing, Reason: domain.TurnReasonStarting},
	}
}

// beginTurn invalidates the previous turn and returns the new generation
// with a context that is cancelled on barge-in or close.
func (conv *conversation) beginTurn() (uint64, context.Context) {
	conv.invalidateTurn()
	conv.turnCtx, conv.turnCancel = context.WithCancel(conv.ctx)
	return conv.gen, conv.turnCtx
}

func (conv *conversation) invalidateTurn() {
	conv.gen++
	if conv.turnCancel != nil {
		conv.turnCancel()
		conv.turnCancel = nil
	}
	if conv.placeholder != nil {
		conv.placeholder.Stop()
		conv.placeholder = nil
	}
	conv.filler = nil
}

// turnFiller is the thinking filler of the live turn.
type turnFiller struct {
	cancel  context.CancelFunc
	done    chan struct{}
	playing bool
}

// settleFiller abandons a filler that has not started playing and returns
// the completion channel of one that has.
func (conv *conversation) settleFiller() <-chan struct{} {
	f := conv.filler
	conv.filler = nil
	if f == nil {
		return nil
	}
	if !f.playing {
		f.cancel()
		return nil
	}
	return f.done
}

func (conv *conversation) rememberFiller(text string) {
	conv.recentFillers = append(conv.recentFillers, text)
	if n := len(conv.recentFillers); n > maxRecentFillers {
		conv.recentFillers = conv.recentFillers[n-maxRecentFillers:]
	}
}

// spawn runs fn as a tracked worker so teardown can wait for it.
func (conv *conversation) spawn(fn func()) {
	conv.workers.Add(1)
	go func() {
		defer conv.workers.Done()
		fn()
	}()
}

func (conv *conversation) post(ev any) bool {
	return conv.queue.push(ev)
}

func (conv *conversation) updateStatus(fn func(*domain.Status)) {
	conv.statusMu.Lock()
	defer conv.statusMu.Unlock()
	fn(&conv.status)
}

func (conv *conversation) snapshot() domain.Status {
	conv.statusMu.Lock()
	defer conv.statusMu.Unlock()
	return conv.status
}

func (conv *conversation) finished() bool {
	select {
	case <-conv.done:
		return true
	default:
		return false
	}
}
