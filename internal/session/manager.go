package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/talkback/internal/trace"
)

// Deleter removes stored conversations. *backend.Client implements it.
type Deleter interface {
	DeleteConversation(ctx context.Context, conversationID string) (int, error)
}

// Factory builds the session for a conversation id.
type Factory func(conversationID string) *Session

// Manager holds the single active session. A switch fully closes the
// previous session before the next one opens, so sockets, timers and audio
// devices never overlap.
type Manager struct {
	newSession Factory
	deleter    Deleter

	mu     sync.Mutex
	active *Session
}

// NewManager creates a manager without an active session.
func NewManager(newSession Factory, deleter Deleter) *Manager {
	return &Manager{newSession: newSession, deleter: deleter}
}

// Active returns the active session or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Switch makes conversationID active. Switching to the active conversation
// returns it unchanged.
func (m *Manager) Switch(ctx context.Context, conversationID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switchLocked(ctx, conversationID)
}

// New switches to a fresh local conversation. The backend creates it on the
// first message.
func (m *Manager) New(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switchLocked(ctx, uuid.NewString())
}

// Delete removes a conversation from the backend. Deleting the active
// conversation switches to a fresh one.
func (m *Manager) Delete(ctx context.Context, conversationID string) (int, error) {
	ctx, span := trace.StartSpan(trace.WithConversation(ctx, conversationID), "delete_conversation")
	defer span.End()

	n, err := m.deleter.DeleteConversation(ctx, conversationID)
	if err != nil {
		span.SetAttr("error", err.Error())
		return 0, err
	}
	span.SetAttr("deleted", n)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.ID() == conversationID {
		if _, err := m.switchLocked(ctx, uuid.NewString()); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close tears down the active session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}

func (m *Manager) switchLocked(ctx context.Context, conversationID string) (*Session, error) {
	if m.active != nil {
		if m.active.ID() == conversationID {
			return m.active, nil
		}
		m.active.Close()
		m.active = nil
	}

	s := m.newSession(conversationID)
	if err := s.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	m.active = s
	trace.Logger(ctx).Info("conversation active", "conversation_id", conversationID)
	return s, nil
}
