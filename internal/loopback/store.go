package loopback

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/talkback/internal/backend"
)

// timestampLayout matches the backend: ISO 8601 without a zone.
const timestampLayout = "2006-01-02T15:04:05.000000"

type conversation struct {
	title     string
	createdAt time.Time
	updatedAt time.Time
	messages  []backend.HistoryMessage
}

// Store keeps conversations in memory.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	maxMessages   int
	now           func() time.Time
}

// NewStore creates an empty store keeping at most maxMessages per
// conversation.
func NewStore(maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = MaxStoredMessages
	}
	return &Store{
		conversations: make(map[string]*conversation),
		maxMessages:   maxMessages,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Add appends a message, creating the conversation on first use. The first
// user message becomes the title.
func (s *Store) Add(conversationID, text, sender string, attachments int) backend.HistoryMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.conversations[conversationID]
	if !ok {
		c = &conversation{createdAt: now}
		s.conversations[conversationID] = c
	}
	if c.title == "" && sender == "user" {
		c.title = truncate(text, 50)
	}
	c.updatedAt = now

	m := backend.HistoryMessage{
		ID:              uuid.NewString(),
		Text:            text,
		Sender:          sender,
		Timestamp:       now.Format(timestampLayout),
		HasAttachments:  attachments > 0,
		AttachmentCount: attachments,
	}
	c.messages = append(c.messages, m)
	if len(c.messages) > s.maxMessages {
		c.messages = c.messages[len(c.messages)-s.maxMessages:]
	}
	return m
}

// List returns conversations, most recently updated first.
func (s *Store) List() []backend.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]backend.Conversation, 0, len(s.conversations))
	for id, c := range s.conversations {
		title := c.title
		if title == "" {
			title = "New conversation"
		}
		out = append(out, backend.Conversation{
			ID:           id,
			Title:        title,
			CreatedAt:    c.createdAt.Format(timestampLayout),
			UpdatedAt:    c.updatedAt.Format(timestampLayout),
			MessageCount: len(c.messages),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out
}

// Messages returns the newest limit messages in chronological order.
func (s *Store) Messages(conversationID string, limit int) []backend.HistoryMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return []backend.HistoryMessage{}
	}
	msgs := c.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]backend.HistoryMessage(nil), msgs...)
}

// Delete removes a conversation and reports how many messages it held.
func (s *Store) Delete(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return 0
	}
	delete(s.conversations, conversationID)
	return len(c.messages)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
