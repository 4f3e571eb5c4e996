package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"lingoa/internal/domain"
)

// consoleSink prints conversation events as plain lines. Volume and partial
// replies are dropped unless verbose.
type consoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

func newConsoleSink(out io.Writer, verbose bool) *consoleSink {
	return &consoleSink{out: out, verbose: verbose}
}

func (s *consoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *consoleSink) TurnStateChanged(state domain.TurnState, reason domain.TurnStateReason) {
	switch state {
	case domain.TurnStateWaitingForUser:
		s.printf("[%s] your turn, press Enter when done", reason)
	default:
		s.printf("[%s] %s", state, reason)
	}
}

func (s *consoleSink) VolumeChanged(sample domain.VolumeSample) {
	if !s.verbose {
		return
	}
	s.printf("  level %s %.1f dB", strings.Repeat("#", int(sample.Volume*20)), sample.DB)
}

func (s *consoleSink) UserSpeechChanged(state domain.SpeechState) {
	if s.verbose {
		s.printf("  mic %s", state)
	}
}

func (s *consoleSink) UserTranscript(text string) {
	s.printf("you: %s", text)
}

func (s *consoleSink) PartialReply(text string) {
	if s.verbose {
		s.printf("  ... %s", text)
	}
}

func (s *consoleSink) FinalReply(display string, spoken string) {
	s.printf("tutor: %s", display)
}

func (s *consoleSink) TranslationHint(hint domain.TranslationHint) {
	if hint.Alt != "" {
		s.printf("  hint: %s = %s (%s)", hint.Source, hint.Translation, hint.Alt)
		return
	}
	s.printf("  hint: %s = %s", hint.Source, hint.Translation)
}

func (s *consoleSink) TranslationCleared() {}

func (s *consoleSink) IntentHint(text string) {
	s.printf("  intent: %s", text)
}

func (s *consoleSink) IntentCleared() {}

func (s *consoleSink) FillerHint(text string) {
	s.printf("  try: %s", text)
}

func (s *consoleSink) SilentModeSuspected() {
	s.printf("! no audio heard, check that output is not muted")
}

func (s *consoleSink) SpeakingTimeChanged(total time.Duration) {
	s.printf("  spoken so far: %s", total.Round(time.Second))
}

func (s *consoleSink) SessionCompleted(total time.Duration) {
	s.printf("* daily goal reached after %s", total.Round(time.Second))
}

func (s *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	s.printf("! %s: %s", code, detail)
}
