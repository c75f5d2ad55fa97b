package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/talkback/internal/audio"
	"github.com/GriffinCanCode/talkback/internal/backend"
	"github.com/GriffinCanCode/talkback/internal/config"
	"github.com/GriffinCanCode/talkback/internal/connection"
	apperrors "github.com/GriffinCanCode/talkback/internal/errors"
	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/resilience"
	"github.com/GriffinCanCode/talkback/internal/stream"
	"github.com/GriffinCanCode/talkback/internal/syncx"
	"github.com/GriffinCanCode/talkback/internal/trace"
	"github.com/GriffinCanCode/talkback/internal/voice"
)

// HistorySource loads persisted messages. *backend.Client implements it.
type HistorySource interface {
	History(ctx context.Context, conversationID string, limit int) ([]backend.HistoryMessage, error)
}

// Deps are the collaborators shared by every session. Either may be nil:
// without History a conversation starts empty, without Audio voice is
// unavailable.
type Deps struct {
	History HistorySource
	Audio   audio.IO
}

// Options configures one session.
type Options struct {
	ChatURL      string
	VoiceURL     string
	Policy       resilience.ReconnectPolicy
	Heartbeat    time.Duration
	FlushDelay   time.Duration
	HistoryLimit int
	Voice        voice.Options
}

// OptionsFromConfig derives the options for conversationID.
func OptionsFromConfig(cfg *config.Config, conversationID string) Options {
	return Options{
		ChatURL:  cfg.SocketURL("chat", conversationID),
		VoiceURL: cfg.SocketURL("voice", conversationID),
		Policy: resilience.ReconnectPolicy{
			MaxAttempts:   cfg.Reconnect.MaxAttempts,
			BaseDelay:     cfg.Reconnect.BaseDelay,
			SlowBaseDelay: cfg.Reconnect.SlowBaseDelay,
			MaxDelay:      cfg.Reconnect.MaxDelay,
			QuickFailure:  cfg.Reconnect.QuickFailure,
		},
		Heartbeat:    cfg.HeartbeatInterval,
		FlushDelay:   cfg.Stream.FlushInterval,
		HistoryLimit: cfg.HistoryLimit,
		Voice: voice.Options{
			CaptureRate:   cfg.Voice.CaptureRate,
			PlaybackRate:  cfg.Voice.PlaybackRate,
			ChunkDuration: cfg.Voice.ChunkDuration,
			Codec:         cfg.Voice.Codec,
			Capture: audio.CaptureOptions{
				Device:           cfg.Voice.InputDevice,
				EchoCancellation: cfg.Voice.EchoCancellation,
				NoiseSuppression: cfg.Voice.NoiseSuppression,
				AutoGain:         cfg.Voice.AutoGain,
			},
		},
	}
}

// View is the read projection of a session.
type View struct {
	ConversationID  string
	Entries         []Entry
	Connection      connection.State
	Voice           voice.State
	VoiceConnection connection.State
	Muted           bool
	Waiting         bool
	Loaded          bool
	Closed          bool
}

// Session is one live conversation. Every state change happens on a single
// loop goroutine; socket, timer and audio callbacks post to its mailbox and
// public methods run on it synchronously. Read state through View.
type Session struct {
	id   string
	opts Options
	deps Deps
	log  *slog.Logger

	box      *mailbox
	finished chan struct{}
	view     *syncx.RWGuard[View]

	// Owned by the loop.
	chat      *connection.Manager
	agg       *stream.Aggregator
	messages  *Log
	voice     *voice.Session
	routes    protocol.Handlers
	connState connection.State
	voiceConn connection.State
	voiceSt   voice.State
	waiting   bool
	loaded    bool
	closed    bool
}

// New creates a session for conversationID and starts its loop. Call Open
// to load history and connect.
func New(conversationID string, opts Options, deps Deps) *Session {
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = stream.DefaultFlushDelay
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = backend.DefaultHistoryLimit
	}
	s := &Session{
		id:        conversationID,
		opts:      opts,
		deps:      deps,
		log:       trace.Logger(trace.WithConversation(context.Background(), conversationID)),
		box:       newMailbox(),
		finished:  make(chan struct{}),
		messages:  NewLog(MaxLogEntries),
		connState: connection.StateDisconnected,
		voiceConn: connection.StateDisconnected,
		voiceSt:   voice.StateIdle,
	}
	s.view = syncx.NewGuard(View{
		ConversationID:  conversationID,
		Connection:      connection.StateDisconnected,
		Voice:           voice.StateIdle,
		VoiceConnection: connection.StateDisconnected,
	})
	// Stream handlers run on the loop, and timer flushes are posted to it,
	// so snapshots apply in frame order.
	s.agg = stream.New(opts.FlushDelay, s.onStreaming).
		WithDispatch(func(fn func()) { s.box.post(fn) })
	s.chat = connection.New(opts.ChatURL, connection.Options{
		Name:      "chat",
		Policy:    opts.Policy,
		Heartbeat: opts.Heartbeat,
	}, connection.Handler{
		OnFrame: func(kind protocol.Kind, payload []byte) {
			s.box.post(func() { protocol.Route(kind, payload, s.routes) })
		},
		OnState: func(st connection.State) {
			s.box.post(func() {
				s.connState = st
				s.publish()
			})
		},
		OnClose: func(ev connection.CloseEvent) {
			s.box.post(func() { s.onChatClose(ev) })
		},
	})
	s.routes = protocol.Handlers{
		Ready: func(info string) {
			s.log.Info("agent ready", "info", info)
		},
		Message:     s.onMessage,
		StreamStart: func(v protocol.StreamStart) { s.agg.Start(v.ID, v.Sender) },
		StreamToken: func(v protocol.StreamToken) { s.agg.Token(v.ID, v.Token) },
		StreamEnd:   func(v protocol.StreamEnd) { s.agg.End(v.ID, v.Text, v.Sender) },
		ToolCall:    func(v protocol.ToolCall) { s.agg.ToolCall(v.ID, v.Tool, v.Args) },
		Voice:       s.onChatVoiceEvent,
		Audio: func(data []byte) {
			s.log.Debug("ignoring audio on chat socket", "bytes", len(data))
		},
	}

	go s.run()
	return s
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.id }

// View returns the current projection.
func (s *Session) View() View { return s.view.Get() }

// Changed returns a channel closed on the next projection update.
func (s *Session) Changed() <-chan struct{} { return s.view.Changed() }

// WaitFor blocks until pred holds for the projection or ctx ends.
func (s *Session) WaitFor(ctx context.Context, pred func(View) bool) (View, error) {
	return s.view.WaitFor(ctx, pred)
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.finished }

// Open loads the stored history and connects the chat socket. A missing or
// empty history opens an empty conversation; a failed load is shown as a
// notice and the socket still connects.
func (s *Session) Open(ctx context.Context) error {
	ctx = trace.WithConversation(ctx, s.id)
	ctx, span := trace.StartSpan(ctx, "session_open")
	defer span.End()

	history, err := s.loadHistory(ctx)
	if err != nil && ctx.Err() != nil {
		return apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "open cancelled")
	}
	if err != nil {
		span.SetAttr("error", err.Error())
		trace.Logger(ctx).Warn("history load failed", "error", err)
	}
	span.SetAttr("history", len(history))

	ok := s.call(func() {
		if err != nil {
			s.notice(NoticeHistoryFailed)
		}
		s.messages.Prepend(history)
		s.loaded = true
		s.chat.Connect(ctx)
		s.publish()
	})
	if !ok {
		return apperrors.New(apperrors.Cancelled, "session closed")
	}
	return nil
}

func (s *Session) loadHistory(ctx context.Context) ([]Entry, error) {
	if s.deps.History == nil {
		return nil, nil
	}
	msgs, err := s.deps.History.History(ctx, s.id, s.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, entryFromHistory(m, now))
	}
	return entries, nil
}

// Send transmits a user message. When the chat socket is not connected it
// returns false and shows one notice; nothing is queued.
func (s *Session) Send(text string, attachments []protocol.Attachment) bool {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return false
	}

	var sent bool
	s.call(func() {
		if !s.chat.SendJSON(protocol.NewUserMessage(text, attachments)) {
			s.notice(NoticeSendFailed)
			s.publish()
			return
		}
		if s.voice != nil {
			s.voice.Interrupt()
		}
		s.messages.Append(Entry{
			ID:          uuid.NewString(),
			Text:        text,
			Sender:      protocol.SenderUser,
			Timestamp:   time.Now(),
			Attachments: len(attachments),
		})
		s.waiting = true
		s.publish()
		sent = true
	})
	return sent
}

// StartVoice opens the microphone and the voice socket. The device is
// opened off the loop. Device failures are returned and shown as a notice;
// they are not retried.
func (s *Session) StartVoice(ctx context.Context) error {
	ctx = trace.WithConversation(ctx, s.id)
	var (
		v   *voice.Session
		err error
	)
	ok := s.call(func() {
		if s.deps.Audio == nil {
			err = apperrors.New(apperrors.Device, "audio is not available")
			s.notice(NoticeVoiceFailed)
			s.publish()
			return
		}
		if s.voice == nil {
			s.voice = voice.New(s.deps.Audio, s.dialVoice, s.opts.Voice, s.voiceEvents())
		}
		v = s.voice
	})
	if !ok {
		return apperrors.New(apperrors.Cancelled, "session closed")
	}
	if v == nil {
		return err
	}

	if err := v.Start(ctx); err != nil {
		s.box.post(func() {
			s.notice(NoticeVoiceFailed)
			s.publish()
		})
		return err
	}
	return nil
}

// StopVoice ends the voice exchange. Safe when voice never started.
func (s *Session) StopVoice() {
	s.call(func() {
		if s.voice != nil {
			s.voice.Stop()
		}
		s.publish()
	})
}

// SetMuted withholds microphone audio without closing the device.
func (s *Session) SetMuted(muted bool) {
	s.call(func() {
		if s.voice != nil {
			s.voice.SetMuted(muted)
		}
		s.publish()
	})
}

// Interrupt silences agent speech in progress.
func (s *Session) Interrupt() {
	s.call(func() {
		if s.voice != nil {
			s.voice.Interrupt()
		}
	})
}

// Close stops voice, disconnects the socket, cancels the flush timer and
// ends the loop. Idempotent.
func (s *Session) Close() {
	s.call(func() {
		if s.voice != nil {
			s.voice.Stop()
		}
		s.chat.Disconnect()
		s.agg.Stop()
		s.connState = connection.StateDisconnected
		s.voiceConn = connection.StateDisconnected
		s.voiceSt = voice.StateIdle
		s.waiting = false
		s.closed = true
		s.publish()
		s.log.Info("session closed")
	})
	<-s.finished
}

func (s *Session) run() {
	defer close(s.finished)
	for range s.box.notify {
		for _, fn := range s.box.take() {
			fn()
			if s.closed {
				s.box.close()
				return
			}
		}
	}
}

// call runs fn on the loop and waits. It reports false when the session
// closed before fn ran.
func (s *Session) call(fn func()) bool {
	done := make(chan struct{})
	if !s.box.post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.finished:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func (s *Session) dialVoice(h connection.Handler) voice.Transport {
	return connection.New(s.opts.VoiceURL, connection.Options{
		Name:      "voice",
		Policy:    s.opts.Policy,
		Heartbeat: s.opts.Heartbeat,
	}, h)
}

func (s *Session) voiceEvents() voice.Events {
	return voice.Events{
		OnState: func(st voice.State) {
			s.box.post(func() {
				s.voiceSt = st
				s.publish()
			})
		},
		OnMessage: func(m protocol.Message) {
			s.box.post(func() { s.onMessage(m) })
		},
		OnNotice: func(text string) {
			s.box.post(func() {
				s.notice(text)
				s.publish()
			})
		},
		OnConnection: func(st connection.State) {
			s.box.post(func() {
				s.voiceConn = st
				s.publish()
			})
		},
	}
}

func (s *Session) onMessage(m protocol.Message) {
	if m.Text == "" {
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	e := entryFromMessage(m, time.Now())
	s.messages.Append(e)
	if e.Sender != protocol.SenderUser {
		s.waiting = false
	}
	s.publish()
}

func (s *Session) onStreaming(m stream.StreamingMessage) {
	s.messages.Upsert(m, time.Now())
	if m.Sender != protocol.SenderUser {
		s.waiting = false
	}
	s.publish()
}

// onChatVoiceEvent handles voice control that arrives on the chat socket.
func (s *Session) onChatVoiceEvent(ev protocol.VoiceEvent) {
	switch ev.Type {
	case protocol.TypeInterrupt:
		if s.voice != nil {
			s.voice.Interrupt()
		}
	case protocol.TypeTranscription:
		s.onMessage(protocol.Message{Text: ev.Text, Sender: protocol.SenderUser})
	case protocol.TypeAgentResponse:
		s.onMessage(protocol.Message{Text: ev.Text, Sender: protocol.SenderAgent})
	default:
		s.log.Debug("ignoring voice event on chat socket", "type", ev.Type)
	}
}

func (s *Session) onChatClose(ev connection.CloseEvent) {
	s.log.Info("chat socket closed", "code", int(ev.Code), "will_retry", ev.WillRetry, "gave_up", ev.GaveUp)
	if ev.GaveUp {
		s.notice(NoticeConnectionLost)
		s.publish()
	}
}

func (s *Session) notice(text string) {
	s.messages.Append(Entry{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    protocol.SenderSystem,
		Timestamp: time.Now(),
	})
}

// publish refreshes the read projection.
func (s *Session) publish() {
	muted := false
	if s.voice != nil {
		muted = s.voice.Muted()
	}
	s.view.Set(View{
		ConversationID:  s.id,
		Entries:         s.messages.Entries(),
		Connection:      s.connState,
		Voice:           s.voiceSt,
		VoiceConnection: s.voiceConn,
		Muted:           muted,
		Waiting:         s.waiting,
		Loaded:          s.loaded,
		Closed:          s.closed,
	})
}
