package session

import (
	"strings"
	"time"

	"github.com/GriffinCanCode/talkback/internal/backend"
	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/stream"
)

// Entry is one line of the conversation as presented.
type Entry struct {
	ID          string
	Text        string
	Sender      string
	Timestamp   time.Time
	Streaming   bool
	ToolCalls   []stream.ToolUse
	Attachments int
}

// Notice reports whether the entry is a client-side system notice.
func (e Entry) Notice() bool { return e.Sender == protocol.SenderSystem }

func entryFromMessage(m protocol.Message, now time.Time) Entry {
	ts, ok := protocol.ParseTimestamp(m.Timestamp)
	if !ok {
		ts = now
	}
	sender := m.Sender
	if sender == "" {
		sender = protocol.SenderAgent
	}
	return Entry{ID: m.ID, Text: m.Text, Sender: sender, Timestamp: ts}
}

func entryFromHistory(h backend.HistoryMessage, now time.Time) Entry {
	e := entryFromMessage(h.Message(), now)
	e.Attachments = h.AttachmentCount
	return e
}

// Log is the ordered message list of a conversation. It is owned by the
// session loop and not safe for concurrent use.
type Log struct {
	entries []Entry
	index   map[string]int
	maxSize int
}

// NewLog creates a log holding at most maxEntries; zero means unbounded.
func NewLog(maxEntries int) *Log {
	return &Log{index: make(map[string]int), maxSize: maxEntries}
}

// Append adds an entry at the end. An entry whose ID is already present
// replaces it in place so a message never appears twice.
func (l *Log) Append(e Entry) {
	if e.ID != "" {
		if i, ok := l.index[e.ID]; ok {
			l.entries[i] = e
			return
		}
	}
	l.entries = append(l.entries, e)
	if e.ID != "" {
		l.index[e.ID] = len(l.entries) - 1
	}
	if l.maxSize > 0 && len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
		l.reindex()
	}
}

// Upsert applies a streaming message snapshot, keeping the original
// position and timestamp of a message that is already shown.
func (l *Log) Upsert(m stream.StreamingMessage, now time.Time) {
	e := Entry{
		ID:        m.ID,
		Text:      m.Text,
		Sender:    m.Sender,
		Timestamp: now,
		Streaming: m.Streaming,
		ToolCalls: m.ToolCalls,
	}
	if e.Sender == "" {
		e.Sender = protocol.SenderAgent
	}
	if i, ok := l.index[m.ID]; ok {
		e.Timestamp = l.entries[i].Timestamp
	}
	l.Append(e)
}

// Prepend places history before anything received live, skipping messages
// already in the log.
func (l *Log) Prepend(history []Entry) {
	merged := make([]Entry, 0, len(history)+len(l.entries))
	for _, e := range history {
		if _, ok := l.index[e.ID]; e.ID != "" && ok {
			continue
		}
		merged = append(merged, e)
	}
	l.entries = append(merged, l.entries...)
	l.reindex()
}

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Transcript renders the entries since cutoff as "SENDER: text" lines.
func (l *Log) Transcript(since time.Time) string {
	var parts []string
	for _, e := range l.entries {
		if e.Timestamp.Before(since) || e.Text == "" {
			continue
		}
		parts = append(parts, strings.ToUpper(e.Sender)+": "+e.Text)
	}
	return strings.Join(parts, "\n")
}

func (l *Log) reindex() {
	clear(l.index)
	for i, e := range l.entries {
		if e.ID != "" {
			l.index[e.ID] = i
		}
	}
}
