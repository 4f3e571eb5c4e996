package usecase

import "time"

// speakingClock accumulates the learner's own speaking time. A segment
// counts only if it was opened while the AI was neither pending nor
// speaking, or if it barged in.
type speakingClock struct {
	target    time.Duration
	total     time.Duration
	counting  bool
	completed bool
}

func newSpeakingClock(target time.Duration) *speakingClock {
	return &speakingClock{target: target}
}

func (c *speakingClock) begin(counts bool) {
	c.counting = counts
}

// end closes the open segment. crossed is true exactly once, on the segment
// that reaches the target.
func (c *speakingClock) end(duration time.Duration) (counted bool, crossed bool) {
	if !c.counting {
		return false, false
	}
	c.counting = false
	if duration > 0 {
		c.total += duration
	}
	if !c.completed && c.target > 0 && c.total >= c.target {
		c.completed = true
		crossed = true
	}
	return true, crossed
}

func (c *speakingClock) Total() time.Duration {
	return c.total
}

func (c *speakingClock) Completed() bool {
	return c.completed
}
