package voice

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/talkback/internal/audio"
	"github.com/GriffinCanCode/talkback/internal/connection"
	apperrors "github.com/GriffinCanCode/talkback/internal/errors"
	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/trace"
)

// Transport is the voice socket. *connection.Manager implements it.
type Transport interface {
	Connect(ctx context.Context)
	Disconnect()
	State() connection.State
	SendJSON(v any) bool
	SendBinary(data []byte) bool
}

// Dialer builds the voice socket with the session's handler attached.
type Dialer func(h connection.Handler) Transport

// Events reports session activity. Callbacks may run on socket and capture
// goroutines, some with internal locks held: they must return quickly and
// must not call back into the Session synchronously.
type Events struct {
	OnState      func(State)
	OnMessage    func(protocol.Message)
	OnNotice     func(text string)
	OnConnection func(connection.State)
}

// Options describes the audio formats of a session.
type Options struct {
	CaptureRate   int
	PlaybackRate  int
	ChunkDuration time.Duration
	Codec         string
	Capture       audio.CaptureOptions
}

func (o Options) withDefaults() Options {
	if o.CaptureRate <= 0 {
		o.CaptureRate = audio.CaptureSampleRate
	}
	if o.PlaybackRate <= 0 {
		o.PlaybackRate = audio.PlaybackSampleRate
	}
	if o.ChunkDuration <= 0 {
		o.ChunkDuration = audio.ChunkDuration
	}
	o.Capture.SampleRate = o.CaptureRate
	return o
}

// Session is one voice exchange. Create with New; a stopped session can be
// started again.
type Session struct {
	io     audio.IO
	dial   Dialer
	opts   Options
	events Events

	mu           sync.Mutex
	state        State
	log          *slog.Logger
	transport    Transport
	capture      audio.Capture
	pumpDone     chan struct{}
	playback     audio.Playback
	frames       [][]byte
	ttsReceiving bool
	utterance    uint64 // bumped whenever pending speech is discarded
	muted        bool
	stats        Stats
}

// New creates an idle session.
func New(io audio.IO, dial Dialer, opts Options, events Events) *Session {
	return &Session{
		io:     io,
		dial:   dial,
		opts:   opts.withDefaults(),
		events: events,
		state:  StateIdle,
		log:    slog.Default(),
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Muted reports whether capture is being withheld.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Stats returns the capture counters of the current run.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Start opens the microphone, connects the voice socket and begins sending
// chunks. A device failure aborts the start and is returned as a DEVICE
// error; it is not retried. Starting an active session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.log = trace.Logger(ctx).With("component", "voice")
	s.setStateLocked(StateStarting)
	s.muted = false
	s.stats = Stats{}
	s.mu.Unlock()

	enc, err := audio.NewEncoder(s.opts.Codec, s.opts.CaptureRate)
	if err != nil {
		s.abortStart()
		return apperrors.Wrap(err, apperrors.ConfigInvalid, "voice codec")
	}
	capture, err := s.io.OpenCapture(ctx, s.opts.Capture)
	if err != nil {
		s.abortStart()
		s.log.Error("microphone unavailable", "error", err)
		return apperrors.Wrap(err, apperrors.Device, "open microphone")
	}

	transport := s.dial(connection.Handler{
		OnFrame: s.HandleFrame,
		OnState: s.onConnection,
		OnClose: s.onClose,
	})

	s.mu.Lock()
	if s.state != StateStarting {
		// stopped while the microphone was opening
		s.mu.Unlock()
		_ = capture.Close()
		return nil
	}
	s.capture = capture
	s.transport = transport
	s.pumpDone = make(chan struct{})
	done := s.pumpDone
	s.setStateLocked(StateActive)
	s.mu.Unlock()

	transport.Connect(ctx)
	go s.pump(capture, enc, done)

	s.log.Info("voice session started", "codec", enc.Name(), "sample_rate", s.opts.CaptureRate)
	return nil
}

func (s *Session) abortStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStarting {
		s.setStateLocked(StateIdle)
	}
}

// Stop ends the session: it tells the server, closes the socket, releases
// the microphone and speaker and clears all buffers. Safe to call repeatedly
// and on teardown.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	transport, capture, playback, done := s.transport, s.capture, s.playback, s.pumpDone
	s.transport, s.capture, s.playback, s.pumpDone = nil, nil, nil, nil
	s.frames = nil
	s.ttsReceiving = false
	s.utterance++
	s.muted = false
	s.setStateLocked(StateIdle)
	log := s.log
	s.mu.Unlock()

	if transport != nil {
		if transport.State() == connection.StateConnected {
			transport.SendJSON(protocol.Stop())
		}
		transport.Disconnect()
		s.onConnection(connection.StateDisconnected)
	}
	if capture != nil {
		_ = capture.Close()
	}
	if done != nil {
		<-done
	}
	if playback != nil {
		playback.Stop()
	}
	log.Info("voice session stopped")
}

// SetMuted withholds outbound audio without closing the microphone.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// Interrupt silences the agent: playback stops and buffered speech is
// dropped. Idempotent.
func (s *Session) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPlaybackLocked()
	s.frames = nil
	s.ttsReceiving = false
	s.utterance++
}

// HandleFrame routes one inbound voice socket frame.
func (s *Session) HandleFrame(kind protocol.Kind, payload []byte) {
	protocol.Route(kind, payload, protocol.Handlers{
		Ready: func(info string) {
			s.logger().Info("voice server ready", "info", info)
		},
		Message: s.forward,
		Voice:   s.onVoiceEvent,
		Audio:   s.onAudio,
	})
}

func (s *Session) onVoiceEvent(ev protocol.VoiceEvent) {
	switch ev.Type {
	case protocol.TypeTTSStart:
		s.mu.Lock()
		s.stopPlaybackLocked()
		s.frames = nil
		s.ttsReceiving = true
		s.utterance++
		s.mu.Unlock()
	case protocol.TypeTTSEnd:
		s.finishUtterance()
	case protocol.TypeTTSError:
		s.mu.Lock()
		s.frames = nil
		s.ttsReceiving = false
		s.utterance++
		s.mu.Unlock()
		s.logger().Warn("speech synthesis failed", "message", ev.Text)
	case protocol.TypeInterrupt:
		s.Interrupt()
	case protocol.TypeTranscription:
		s.forward(protocol.Message{Text: ev.Text, Sender: protocol.SenderUser})
	case protocol.TypeAgentResponse:
		s.forward(protocol.Message{Text: ev.Text, Sender: protocol.SenderAgent})
	}
}

func (s *Session) onAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ttsReceiving || s.state != StateActive {
		s.stats.Discarded++
		return
	}
	s.frames = append(s.frames, bytes.Clone(data))
}

// finishUtterance plays the buffered speech on a fresh output. Speech
// discarded while the output was opening is stopped before it is kept.
func (s *Session) finishUtterance() {
	s.mu.Lock()
	if !s.ttsReceiving {
		s.mu.Unlock()
		return
	}
	s.ttsReceiving = false
	pcm := bytes.Join(s.frames, nil)
	s.frames = nil
	utterance := s.utterance
	s.mu.Unlock()

	samples := audio.DecodePCM16(pcm)
	if len(samples) == 0 {
		return
	}
	playback, err := s.io.Play(samples, s.opts.PlaybackRate)
	if err != nil {
		err = apperrors.Wrap(err, apperrors.Synthesis, "play speech")
		s.logger().Error("playback failed", "error", err)
		s.notice(noticePlaybackFailed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.utterance != utterance {
		playback.Stop()
		return
	}
	s.stopPlaybackLocked()
	s.playback = playback
}

// pump encodes captured audio into fixed chunks and sends them until the
// capture closes.
func (s *Session) pump(capture audio.Capture, enc audio.Encoder, done chan struct{}) {
	defer close(done)
	chunker := audio.NewChunker(s.opts.CaptureRate, s.opts.ChunkDuration)

	for frame := range capture.Frames() {
		for _, chunk := range chunker.Push(frame) {
			data, err := enc.Encode(chunk)
			if err != nil {
				s.logger().Warn("encode failed", "error", err)
				continue
			}
			s.sendChunk(data)
		}
	}

	s.mu.Lock()
	lost := s.capture == capture
	s.mu.Unlock()
	if lost {
		s.logger().Error("capture ended unexpectedly")
		s.notice(noticeMicLost)
		go s.Stop()
	}
}

func (s *Session) sendChunk(data []byte) {
	s.mu.Lock()
	transport, muted := s.transport, s.muted
	if muted {
		s.stats.Muted++
	}
	s.mu.Unlock()
	if muted || transport == nil {
		return
	}

	ok := transport.SendBinary(data)
	s.mu.Lock()
	if ok {
		s.stats.Sent++
	} else {
		s.stats.Dropped++
	}
	s.mu.Unlock()
}

func (s *Session) onConnection(st connection.State) {
	if s.events.OnConnection != nil {
		s.events.OnConnection(st)
	}
}

// onClose runs with the socket locked; Stop must not run inline.
func (s *Session) onClose(ev connection.CloseEvent) {
	if !ev.GaveUp {
		return
	}
	s.notice(noticeConnectionLost)
	go s.Stop()
}

func (s *Session) forward(m protocol.Message) {
	if m.Text == "" || s.events.OnMessage == nil {
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == "" {
		m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	s.events.OnMessage(m)
}

func (s *Session) notice(text string) {
	if s.events.OnNotice != nil {
		s.events.OnNotice(text)
	}
}

func (s *Session) stopPlaybackLocked() {
	if s.playback != nil {
		s.playback.Stop()
		s.playback = nil
	}
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.events.OnState != nil {
		s.events.OnState(st)
	}
}

func (s *Session) logger() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}
