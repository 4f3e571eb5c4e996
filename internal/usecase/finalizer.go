package usecase

import (
	"strings"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

// replyFinalizer derives the spoken form of a reply. The display text is
// never altered.
type replyFinalizer struct {
	rules  ports.RulesEngine
	events ports.EventSink
}

func newReplyFinalizer(rules ports.RulesEngine, events ports.EventSink) replyFinalizer {
	return replyFinalizer{rules: rules, events: events}
}

// Finalize returns the text to synthesize. A rules failure is reported and
// the display text is spoken as is.
func (f replyFinalizer) Finalize(display string) string {
	if f.rules == nil {
		return display
	}
	spoken, err := f.rules.Apply(display)
	if err != nil {
		f.events.SessionError(domain.ErrorCodeRules, err.Error())
		return display
	}
	if strings.TrimSpace(spoken) == "" {
		return display
	}
	return spoken
}
