package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/talkback/internal/backend"
	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/trace"
)

// frame is an outbound envelope with its payload under data.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// flatFrame is an outbound voice event with top-level fields.
type flatFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server is the loopback agent.
type Server struct {
	store      *Store
	tokenDelay time.Duration

	mu      sync.RWMutex
	conns   map[*websocket.Conn]struct{}
	uploads map[string]backend.UploadResult
}

// New creates a loopback agent. tokenDelay paces streamed tokens; zero
// streams as fast as the socket allows.
func New(store *Store, tokenDelay time.Duration) *Server {
	if store == nil {
		store = NewStore(MaxStoredMessages)
	}
	return &Server{
		store:      store,
		tokenDelay: tokenDelay,
		conns:      make(map[*websocket.Conn]struct{}),
		uploads:    make(map[string]backend.UploadResult),
	}
}

// Store returns the conversation store.
func (s *Server) Store() *Store { return s.store }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoints
	mux.HandleFunc("/ws/chat/{id}", s.handleChat)
	mux.HandleFunc("/ws/voice/{id}", s.handleVoice)

	// REST API
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleMessages)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /api/upload", s.handleUpload)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Close drops every open socket.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, func(), bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return nil, nil, false
	}
	conn.SetReadLimit(MaxUploadBytes)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	return conn, release, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	conn, release, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer release()

	ctx := trace.WithConversation(r.Context(), conversationID)
	log := trace.Logger(ctx)
	log.Info("chat socket connected", "remote", r.RemoteAddr)
	limiter := &rateLimiter{}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("chat read ended", "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		switch env.Type {
		case protocol.TypeMessage:
			var msg protocol.OutboundMessage
			if err := json.Unmarshal(env.Data, &msg); err != nil || strings.TrimSpace(msg.Text) == "" {
				continue
			}
			if !limiter.allow() {
				log.Warn("rate limit exceeded")
				_ = wsjson.Write(ctx, conn, flatFrame{Type: protocol.TypeError, Message: "Rate limit exceeded. Please slow down."})
				continue
			}
			s.reply(ctx, conn, conversationID, msg)
		case protocol.TypePing:
			_ = wsjson.Write(ctx, conn, frame{Type: protocol.TypePong})
		}
	}
}

// reply stores the user message and streams the scripted answer.
func (s *Server) reply(ctx context.Context, conn *websocket.Conn, conversationID string, msg protocol.OutboundMessage) {
	ctx, span := trace.StartSpan(ctx, "loopback_reply")
	defer span.End()

	s.store.Add(conversationID, msg.Text, protocol.SenderUser, len(msg.Attachments))
	answer := Answer(msg.Text, msg.Attachments)
	for _, att := range msg.Attachments {
		if preview := s.preview(att.FileID); preview != "" {
			answer += "\n" + att.FileName + " begins: " + preview
		}
	}
	id := uuid.NewString()

	if err := wsjson.Write(ctx, conn, frame{
		Type: protocol.TypeStreamStart,
		Data: protocol.StreamStart{ID: id, Sender: protocol.SenderAgent},
	}); err != nil {
		return
	}

	if tool, ok := strings.CutPrefix(strings.TrimSpace(msg.Text), ToolPrefix); ok {
		tool = strings.TrimSpace(tool)
		args, _ := json.Marshal(map[string]string{"query": tool})
		_ = wsjson.Write(ctx, conn, frame{
			Type: protocol.TypeStreamToolUse,
			Data: protocol.ToolCall{ID: id, Tool: "lookup", Args: args},
		})
	}

	for _, token := range Tokenize(answer) {
		if err := wsjson.Write(ctx, conn, frame{
			Type: protocol.TypeStreamToken,
			Data: protocol.StreamToken{ID: id, Token: token},
		}); err != nil {
			return
		}
		if s.tokenDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.tokenDelay):
			}
		}
	}

	_ = wsjson.Write(ctx, conn, frame{
		Type: protocol.TypeStreamEnd,
		Data: protocol.StreamEnd{ID: id, Text: &answer, Sender: protocol.SenderAgent},
	})
	s.store.Add(conversationID, answer, protocol.SenderAgent, 0)
	span.SetAttr("answer_bytes", len(answer))
}

func (s *Server) preview(fileID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads[fileID].ContentPreview
}

// Answer is the agent's scripted reply.
func Answer(text string, attachments []protocol.Attachment) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, ToolPrefix); ok {
		return fmt.Sprintf("I looked up %q for you.", strings.TrimSpace(rest))
	}
	answer := "You said: " + text
	switch n := len(attachments); n {
	case 0:
	case 1:
		answer += fmt.Sprintf(" (with %s attached)", attachments[0].FileName)
	default:
		answer += fmt.Sprintf(" (with %d files attached)", n)
	}
	return answer
}

// Tokenize splits text into word-sized stream tokens whose concatenation is
// the original text.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, " ")
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	conn, release, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer release()

	ctx := trace.WithConversation(r.Context(), conversationID)
	log := trace.Logger(ctx)
	log.Info("voice socket connected", "remote", r.RemoteAddr)

	if err := wsjson.Write(ctx, conn, flatFrame{Type: protocol.TypeReady, Message: "Voice agent ready"}); err != nil {
		return
	}

	var frames, bytesIn int
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		if typ == websocket.MessageBinary {
			frames++
			bytesIn += len(data)
			if frames >= UtteranceFrames {
				if err := s.speak(ctx, conn, conversationID, frames, bytesIn); err != nil {
					log.Debug("voice reply failed", "error", err)
					return
				}
				frames, bytesIn = 0, 0
			}
			continue
		}

		var env protocol.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeStop:
			log.Info("voice stop received")
			return
		case protocol.TypePing:
			_ = wsjson.Write(ctx, conn, flatFrame{Type: protocol.TypePong})
		}
	}
}

// speak answers one utterance: transcript, reply text, then synthesized audio.
func (s *Server) speak(ctx context.Context, conn *websocket.Conn, conversationID string, frames, size int) error {
	heard := fmt.Sprintf("(%d audio frames, %d bytes)", frames, size)
	reply := "I heard you loud and clear."
	s.store.Add(conversationID, heard, protocol.SenderUser, 0)
	s.store.Add(conversationID, reply, protocol.SenderAgent, 0)

	for _, f := range []flatFrame{
		{Type: protocol.TypeTranscription, Text: heard},
		{Type: protocol.TypeAgentResponse, Text: reply},
		{Type: protocol.TypeTTSStart},
	} {
		if err := wsjson.Write(ctx, conn, f); err != nil {
			return err
		}
	}
	for _, chunk := range ToneFrames(ToneFrequency, ToneDuration) {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return err
		}
	}
	return wsjson.Write(ctx, conn, flatFrame{Type: protocol.TypeTTSEnd})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = backend.DefaultHistoryLimit
	}
	writeJSON(w, http.StatusOK, s.store.Messages(r.PathValue("id"), limit))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	n := s.store.Delete(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "deleted_count": n})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"detail": "file too large"})
		return
	}

	res := describeUpload(header.Filename, data)
	s.mu.Lock()
	s.uploads[res.FileID] = res
	s.mu.Unlock()

	trace.Logger(r.Context()).Info("upload stored", "file", res.FileName, "bytes", len(data))
	writeJSON(w, http.StatusOK, res)
}

func describeUpload(name string, data []byte) backend.UploadResult {
	id := uuid.NewString()
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	res := backend.UploadResult{
		Status:   "success",
		FileID:   id,
		FileName: name,
		FileType: fileType(mimeType),
		MimeType: mimeType,
		FilePath: "uploads/" + id + "_" + name,
	}
	if res.FileType == "text" && utf8.Valid(data) {
		res.HasContent = true
		res.ContentPreview = truncate(string(data), PreviewLimit)
	}
	return res
}

func fileType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "text/"), strings.Contains(mimeType, "json"):
		return "text"
	case strings.Contains(mimeType, "pdf"):
		return "pdf"
	default:
		return "document"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
