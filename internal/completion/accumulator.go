package completion

import (
	"strings"
	"time"

	"github.com/WhyNeet/t3-chat-clone/internal/stream"
)

// DefaultBatchWindow is the minimum spacing between content flushes.
const DefaultBatchWindow = 100 * time.Millisecond

// Accumulator coalesces token increments into time-windowed ContentDeltas
// while keeping the cumulative content and reasoning of the run.
type Accumulator struct {
	window time.Duration
	now    func() time.Time

	content      strings.Builder
	reasoning    strings.Builder
	hasReasoning bool

	pendingText      strings.Builder
	pendingReasoning strings.Builder
	lastFlush        time.Time
}

// NewAccumulator starts the first window at now(). A nil clock uses time.Now.
func NewAccumulator(window time.Duration, now func() time.Time) *Accumulator {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Accumulator{window: window, now: now, lastFlush: now()}
}

// Push records one increment. It returns a delta when the window has elapsed
// and something is pending.
func (a *Accumulator) Push(text, reasoning *string) (stream.ContentDelta, bool) {
	if text != nil && *text != "" {
		a.content.WriteString(*text)
		a.pendingText.WriteString(*text)
	}
	if reasoning != nil && *reasoning != "" {
		a.reasoning.WriteString(*reasoning)
		a.pendingReasoning.WriteString(*reasoning)
		a.hasReasoning = true
	}
	now := a.now()
	if now.Sub(a.lastFlush) < a.window {
		return stream.ContentDelta{}, false
	}
	d, ok := a.take()
	if ok {
		a.lastFlush = now
	}
	return d, ok
}

// Finish flushes whatever is pending regardless of the window.
func (a *Accumulator) Finish() (stream.ContentDelta, bool) {
	d, ok := a.take()
	if ok {
		a.lastFlush = a.now()
	}
	return d, ok
}

func (a *Accumulator) take() (stream.ContentDelta, bool) {
	var d stream.ContentDelta
	if a.pendingText.Len() > 0 {
		s := a.pendingText.String()
		d.Text = &s
		a.pendingText.Reset()
	}
	if a.pendingReasoning.Len() > 0 {
		s := a.pendingReasoning.String()
		d.Reasoning = &s
		a.pendingReasoning.Reset()
	}
	return d, !d.Empty()
}

// Content returns all content pushed so far.
func (a *Accumulator) Content() string { return a.content.String() }

// Reasoning returns all reasoning pushed so far, or nil if none arrived.
func (a *Accumulator) Reasoning() *string {
	if !a.hasReasoning {
		return nil
	}
	s := a.reasoning.String()
	return &s
}
