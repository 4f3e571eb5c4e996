package playback

import (
	"context"
	"errors"
	"sync"

	"lingoa/internal/domain"
)

// ErrInterrupted is returned when playback was stopped before it finished.
var ErrInterrupted = errors.New("playback interrupted")

// ErrUnlockUnsupported is returned by strategies with nothing to unlock.
var ErrUnlockUnsupported = errors.New("strategy has no unlock path")

// Sound is one playing clip.
type Sound interface {
	// Done is closed once playback finished, failed, or was stopped.
	Done() <-chan struct{}
	Err() error
	// Audible is closed when the output confirmed it pulled samples. A nil
	// channel means the strategy cannot confirm audible output.
	Audible() <-chan struct{}
	// Stop is idempotent and releases everything the sound holds.
	Stop()
}

// Strategy is one row of the playback negotiation table.
type Strategy interface {
	Name() string
	Available() bool
	Unlock(ctx context.Context) error
	Play(ctx context.Context, audio domain.SynthesizedAudio, rate float64) (Sound, error)
}

type sound struct {
	done       chan struct{}
	finishOnce sync.Once
	err        error

	audible     chan struct{}
	audibleOnce sync.Once

	stopOnce sync.Once
	stopFn   func()
}

func newSound(confirmable bool, stop func()) *sound {
	s := &sound{done: make(chan struct{}), stopFn: stop}
	if confirmable {
		s.audible = make(chan struct{})
	}
	return s
}

func (s *sound) Done() <-chan struct{} { return s.done }

func (s *sound) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *sound) Audible() <-chan struct{} {
	if s.audible == nil {
		return nil
	}
	return s.audible
}

func (s *sound) Stop() {
	s.stopOnce.Do(func() {
		if s.stopFn != nil {
			s.stopFn()
		}
		s.finish(ErrInterrupted)
	})
}

func (s *sound) markAudible() {
	if s.audible == nil {
		return
	}
	s.audibleOnce.Do(func() { close(s.audible) })
}

func (s *sound) finish(err error) {
	s.finishOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}
