package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/looplab/fsm"

	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/resilience"
	"github.com/GriffinCanCode/talkback/internal/trace"
)

// CloseEvent describes a socket that went down without an explicit
// Disconnect.
type CloseEvent struct {
	Code      websocket.StatusCode // -1 when no close frame was received
	WillRetry bool
	GaveUp    bool
}

// Handler receives socket events. OnState and OnClose may run while the
// manager is locked: they must not call back into it synchronously.
type Handler struct {
	OnFrame func(kind protocol.Kind, payload []byte)
	OnState func(State)
	OnClose func(CloseEvent)
}

// Options configures a Manager.
type Options struct {
	Name        string // log label, e.g. "chat" or "voice"
	Policy      resilience.ReconnectPolicy
	Heartbeat   time.Duration // zero disables pings
	DialTimeout time.Duration
}

type timer interface{ Stop() bool }

// Manager owns one logical socket to url. All methods are safe for
// concurrent use.
type Manager struct {
	url  string
	opts Options
	ctx  context.Context
	log  *slog.Logger

	afterFunc func(time.Duration, func()) timer

	mu        sync.Mutex
	lifecycle *fsm.FSM
	handler   Handler
	conn      *websocket.Conn
	cancel    context.CancelFunc
	retry     timer
	reconnect bool
	attempts  int
	startedAt time.Time
	gen       uint64
}

// New creates a disconnected manager.
func New(url string, opts Options, h Handler) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	m := &Manager{
		url:     url,
		opts:    opts,
		ctx:     context.Background(),
		log:     slog.Default().With("socket", opts.Name),
		handler: h,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	m.lifecycle = newLifecycle(m.onEnter)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.lifecycle.Current())
}

// Attempts returns how many reconnects were scheduled since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect dials the socket and enables reconnection. It is a no-op while
// connecting or connected. A pending reconnect is replaced by an immediate
// dial. ctx contributes trace identity to the dial headers and logs; its
// cancellation does not close the socket.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.currentLocked()
	if state == StateConnecting || state == StateConnected {
		return
	}
	if ctx != nil {
		m.ctx = context.WithoutCancel(ctx)
		m.log = trace.Logger(ctx).With("socket", m.opts.Name)
	}

	if state == StateReconnecting {
		m.stopRetryLocked()
		m.fireLocked(eventRedial)
	} else {
		m.attempts = 0
		m.fireLocked(eventConnect)
	}
	m.reconnect = true
	m.dialLocked()
}

// Disconnect detaches the handler, cancels any pending reconnect and closes
// the socket. No callback fires for an explicit disconnect. Safe to call
// repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.reconnect = false
	m.gen++
	m.stopRetryLocked()
	conn := m.conn
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.handler = Handler{}
	if m.currentLocked() != StateDisconnected {
		m.fireLocked(eventClose)
	}
	log := m.log
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, closeReasonClient)
		log.Info("socket disconnected")
	}
}

// Send writes payload as a text frame. It returns false when the socket is
// not open or the write fails.
func (m *Manager) Send(payload string) bool {
	return m.write(websocket.MessageText, []byte(payload))
}

// SendJSON writes v as a JSON text frame.
func (m *Manager) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("unencodable frame", "socket", m.opts.Name, "error", err)
		return false
	}
	return m.write(websocket.MessageText, data)
}

// SendBinary writes data as a binary frame.
func (m *Manager) SendBinary(data []byte) bool {
	return m.write(websocket.MessageBinary, data)
}

func (m *Manager) write(typ websocket.MessageType, data []byte) bool {
	m.mu.Lock()
	conn, ctx, log := m.conn, m.ctx, m.log
	open := conn != nil && m.currentLocked() == StateConnected
	m.mu.Unlock()
	if !open {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, typ, data); err != nil {
		log.Warn("send failed", "type", typ, "bytes", len(data), "error", err)
		return false
	}
	return true
}

func (m *Manager) dialLocked() {
	m.gen++
	m.startedAt = time.Now()
	go m.dial(m.ctx, m.log, m.gen)
}

func (m *Manager) dial(base context.Context, log *slog.Logger, gen uint64) {
	ctx, cancel := context.WithTimeout(base, m.opts.DialTimeout)
	defer cancel()

	log.Debug("dialing", "url", m.url)
	conn, resp, err := websocket.Dial(ctx, m.url, &websocket.DialOptions{
		HTTPHeader: trace.Header(base),
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		if conn != nil {
			go func() { _ = conn.Close(websocket.StatusNormalClosure, closeReasonClient) }()
		}
		return
	}
	if err != nil {
		args := []any{"error", err}
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			args = append(args, "status", resp.StatusCode)
		}
		m.log.Warn("dial failed", args...)
		m.fireLocked(eventClose)
		m.notifyCloseLocked(-1, m.scheduleLocked())
		return
	}

	conn.SetReadLimit(readLimit)
	connCtx, connCancel := context.WithCancel(m.ctx)
	m.conn = conn
	m.cancel = connCancel
	m.attempts = 0
	m.fireLocked(eventOpen)
	m.log.Info("socket connected", "url", m.url)

	go m.readLoop(connCtx, gen, conn)
	if m.opts.Heartbeat > 0 {
		go m.heartbeat(connCtx, conn, m.log)
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			m.closed(gen, err)
			return
		}

		m.mu.Lock()
		current := gen == m.gen
		onFrame := m.handler.OnFrame
		m.mu.Unlock()
		if !current {
			return
		}

		if onFrame == nil {
			continue
		}
		kind := protocol.KindText
		if typ == websocket.MessageBinary {
			kind = protocol.KindBinary
		}
		onFrame(kind, data)
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, log *slog.Logger) {
	ticker := time.NewTicker(m.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, protocol.Ping())
			cancel()
			if err != nil {
				log.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (m *Manager) closed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.fireLocked(eventClose)

	code := websocket.CloseStatus(err)
	if code == websocket.StatusNormalClosure {
		m.log.Info("socket closed by server")
		m.notifyCloseLocked(code, retryNone)
		return
	}
	m.log.Warn("socket dropped", "error", err, "uptime", time.Since(m.startedAt))
	m.notifyCloseLocked(code, m.scheduleLocked())
}

type retryOutcome int

const (
	retryNone retryOutcome = iota
	retryScheduled
	retryExhausted
)

// scheduleLocked arms the next reconnect, or gives up when the policy is
// exhausted. The dial start counts as the connection start.
func (m *Manager) scheduleLocked() retryOutcome {
	if !m.reconnect {
		return retryNone
	}
	delay, ok := m.opts.Policy.Next(m.attempts, time.Since(m.startedAt))
	if !ok {
		m.reconnect = false
		m.log.Error("reconnect attempts exhausted", "attempts", m.attempts)
		return retryExhausted
	}

	m.attempts++
	m.fireLocked(eventRetry)
	m.log.Info("reconnect scheduled", "attempt", m.attempts, "delay", delay)

	gen := m.gen
	m.retry = m.afterFunc(delay, func() { m.redial(gen) })
	return retryScheduled
}

func (m *Manager) notifyCloseLocked(code websocket.StatusCode, outcome retryOutcome) {
	if m.handler.OnClose == nil {
		return
	}
	m.handler.OnClose(CloseEvent{
		Code:      code,
		WillRetry: outcome == retryScheduled,
		GaveUp:    outcome == retryExhausted,
	})
}

func (m *Manager) redial(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.currentLocked() != StateReconnecting {
		return
	}
	m.retry = nil
	m.fireLocked(eventRedial)
	m.dialLocked()
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) currentLocked() State {
	return State(m.lifecycle.Current())
}

func (m *Manager) fireLocked(event string) {
	if err := m.lifecycle.Event(context.Background(), event); err != nil {
		var noop fsm.NoTransitionError
		if !errors.As(err, &noop) {
			m.log.Error("invalid socket transition", "event", event, "state", m.lifecycle.Current(), "error", err)
		}
	}
}

func (m *Manager) onEnter(from, to State) {
	m.log.Debug("socket state", "from", from, "to", to)
	if m.handler.OnState != nil {
		m.handler.OnState(to)
	}
}
