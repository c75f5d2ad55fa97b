package stream

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ToolUse is a tool invocation reported while a message streams.
type ToolUse struct {
	Name string
	Args json.RawMessage
}

// StreamingMessage is the agent message currently being streamed.
// Text only grows while Streaming is true.
type StreamingMessage struct {
	ID        string
	Text      string
	Sender    string
	Streaming bool
	ToolCalls []ToolUse
}

func (m StreamingMessage) clone() StreamingMessage {
	m.ToolCalls = append([]ToolUse(nil), m.ToolCalls...)
	return m
}

// Sink receives every update of a streaming message, in order. It is called
// with the aggregator locked and must not call back into it.
type Sink func(StreamingMessage)

type stopper interface{ Stop() bool }

// tokenBuffer holds fragments waiting for the next flush.
type tokenBuffer struct {
	id        string
	fragments []string
}

// Aggregator accumulates tokens and flushes them on a fixed cadence.
type Aggregator struct {
	mu         sync.Mutex
	flushDelay time.Duration
	sink       Sink
	afterFunc  func(time.Duration, func()) stopper
	dispatch   func(func())

	active *StreamingMessage
	buf    tokenBuffer
	timer  stopper
	gen    uint64
}

// New creates an aggregator flushing at most once per flushDelay.
func New(flushDelay time.Duration, sink Sink) *Aggregator {
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	if sink == nil {
		sink = func(StreamingMessage) {}
	}
	return &Aggregator{
		flushDelay: flushDelay,
		sink:       sink,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		dispatch: func(f func()) { f() },
		buf:      tokenBuffer{fragments: make([]string, 0, fragmentsCapacity)},
	}
}

// WithDispatch runs timer flushes through dispatch instead of on the timer
// goroutine, so every sink call happens where dispatch runs its funcs.
func (a *Aggregator) WithDispatch(dispatch func(func())) *Aggregator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if dispatch != nil {
		a.dispatch = dispatch
	}
	return a
}

// Start opens a new streaming message and emits it empty as a placeholder.
// A message still streaming under another id is flushed and closed first.
func (a *Aggregator) Start(id, sender string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil && a.active.ID != id {
		slog.Debug("stream superseded before end", "id", a.active.ID, "next", id)
		a.finishLocked(nil)
	}
	if a.active != nil && a.active.ID == id {
		return
	}

	a.cancelTimerLocked()
	a.buf = tokenBuffer{id: id, fragments: a.buf.fragments[:0]}
	a.active = &StreamingMessage{ID: id, Sender: sender, Streaming: true}
	a.sink(a.active.clone())
}

// Token queues a fragment for the active message and schedules a flush.
func (a *Aggregator) Token(id, fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil || a.active.ID != id {
		slog.Debug("token for inactive stream dropped", "id", id)
		return
	}
	a.buf.fragments = append(a.buf.fragments, fragment)

	if a.timer == nil {
		gen, dispatch := a.gen, a.dispatch
		a.timer = a.afterFunc(a.flushDelay, func() {
			dispatch(func() { a.timerFlush(gen) })
		})
	}
}

// ToolCall records a tool use on the active message.
func (a *Aggregator) ToolCall(id, name string, args json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil || a.active.ID != id {
		return
	}
	a.flushLocked()
	a.active.ToolCalls = append(a.active.ToolCalls, ToolUse{Name: name, Args: args})
	a.sink(a.active.clone())
}

// End completes the message. Pending fragments are flushed first, then the
// server's final text, when given, replaces the accumulated text.
func (a *Aggregator) End(id string, finalText *string, sender string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil || a.active.ID != id {
		if finalText != nil {
			// stream_start was never seen; show the final text as is
			a.sink(StreamingMessage{ID: id, Text: *finalText, Sender: sender})
		}
		return
	}
	if sender != "" {
		a.active.Sender = sender
	}
	a.finishLocked(finalText)
}

// Flush applies buffered fragments immediately.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
}

// Active returns a copy of the streaming message, if any.
func (a *Aggregator) Active() (StreamingMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return StreamingMessage{}, false
	}
	return a.active.clone(), true
}

// Stop cancels the flush timer and drops all state. Used on teardown.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTimerLocked()
	a.buf.fragments = a.buf.fragments[:0]
	a.buf.id = ""
	a.active = nil
}

func (a *Aggregator) timerFlush(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return
	}
	a.timer = nil
	a.gen++
	a.flushLocked()
}

func (a *Aggregator) finishLocked(finalText *string) {
	a.cancelTimerLocked()
	a.flushLocked()
	a.active.Streaming = false
	if finalText != nil {
		a.active.Text = *finalText
	}
	a.sink(a.active.clone())
	a.active = nil
}

func (a *Aggregator) flushLocked() {
	a.cancelTimerLocked()
	if len(a.buf.fragments) == 0 {
		return
	}
	fragments := a.buf.fragments
	a.buf.fragments = fragments[:0]

	if a.active == nil || a.active.ID != a.buf.id || !a.active.Streaming {
		slog.Debug("stale flush discarded", "id", a.buf.id, "fragments", len(fragments))
		return
	}
	a.active.Text += strings.Join(fragments, "")
	a.sink(a.active.clone())
}

func (a *Aggregator) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
		a.gen++
	}
}
