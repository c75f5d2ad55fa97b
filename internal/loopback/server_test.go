package loopback

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/talkback/internal/backend"
	"github.com/GriffinCanCode/talkback/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(nil, 0)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", path, err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var env protocol.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read error = %v", err)
	}
	return env
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestTokenize(t *testing.T) {
	tests := []string{"", "one", "You said: hello world", "  spaced  out "}
	for _, text := range tests {
		if got := strings.Join(Tokenize(text), ""); got != text {
			t.Errorf("join(Tokenize(%q)) = %q", text, got)
		}
	}
}

func TestAnswer(t *testing.T) {
	tests := []struct {
		text string
		atts []protocol.Attachment
		want string
	}{
		{"hello", nil, "You said: hello"},
		{"look", []protocol.Attachment{{FileName: "a.txt"}}, "You said: look (with a.txt attached)"},
		{"two", []protocol.Attachment{{FileName: "a"}, {FileName: "b"}}, "You said: two (with 2 files attached)"},
		{"lookup weather", nil, `I looked up "weather" for you.`},
	}
	for _, tt := range tests {
		if got := Answer(tt.text, tt.atts); got != tt.want {
			t.Errorf("Answer(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestChatStreamsReply(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/chat/c1")

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, protocol.NewUserMessage("hello there", nil)); err != nil {
		t.Fatal(err)
	}

	start := readEnvelope(t, conn)
	if start.Type != protocol.TypeStreamStart {
		t.Fatalf("first frame = %q, want %q", start.Type, protocol.TypeStreamStart)
	}
	var ss protocol.StreamStart
	_ = json.Unmarshal(start.Data, &ss)

	var text strings.Builder
	for {
		env := readEnvelope(t, conn)
		if env.Type == protocol.TypeStreamEnd {
			var end protocol.StreamEnd
			_ = json.Unmarshal(env.Data, &end)
			if end.ID != ss.ID || end.Text == nil || *end.Text != "You said: hello there" {
				t.Errorf("stream_end = %+v", end)
			}
			break
		}
		var tok protocol.StreamToken
		_ = json.Unmarshal(env.Data, &tok)
		if tok.ID != ss.ID {
			t.Errorf("token id = %q, want %q", tok.ID, ss.ID)
		}
		text.WriteString(tok.Token)
	}
	if got := text.String(); got != "You said: hello there" {
		t.Errorf("streamed text = %q", got)
	}

	if err := wsjson.Write(ctx, conn, protocol.Ping()); err != nil {
		t.Fatal(err)
	}
	if env := readEnvelope(t, conn); env.Type != protocol.TypePong {
		t.Errorf("ping reply = %q, want %q", env.Type, protocol.TypePong)
	}

	msgs := s.Store().Messages("c1", 0)
	if len(msgs) != 2 || msgs[0].Sender != "user" || msgs[1].Sender != "agent" {
		t.Errorf("stored messages = %+v", msgs)
	}
}

func TestChatToolCall(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/chat/c1")
	if err := wsjson.Write(context.Background(), conn, protocol.NewUserMessage("lookup weather", nil)); err != nil {
		t.Fatal(err)
	}

	readEnvelope(t, conn)
	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeStreamToolUse {
		t.Fatalf("frame = %q, want %q", env.Type, protocol.TypeStreamToolUse)
	}
	var tc protocol.ToolCall
	if err := json.Unmarshal(env.Data, &tc); err != nil {
		t.Fatal(err)
	}
	if tc.Tool != "lookup" || string(tc.Args) != `{"query":"weather"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestVoiceAnswersUtterance(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/voice/c1")
	ctx := context.Background()

	if env := readEnvelope(t, conn); env.Type != protocol.TypeReady || env.Message == "" {
		t.Fatalf("greeting = %+v", env)
	}
	for i := 0; i < UtteranceFrames; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 3200)); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range []string{protocol.TypeTranscription, protocol.TypeAgentResponse, protocol.TypeTTSStart} {
		if env := readEnvelope(t, conn); env.Type != want {
			t.Fatalf("frame = %q, want %q", env.Type, want)
		}
	}

	want := ToneFrames(ToneFrequency, ToneDuration)
	for i := range want {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		typ, data, err := conn.Read(rctx)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		if typ != websocket.MessageBinary || !bytes.Equal(data, want[i]) {
			t.Errorf("audio frame %d: type %v, %d bytes", i, typ, len(data))
		}
	}
	if env := readEnvelope(t, conn); env.Type != protocol.TypeTTSEnd {
		t.Errorf("frame = %q, want %q", env.Type, protocol.TypeTTSEnd)
	}

	if err := wsjson.Write(ctx, conn, protocol.Stop()); err != nil {
		t.Fatal(err)
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(rctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("after stop read error = %v, want normal closure", err)
	}
}

func TestToneFrames(t *testing.T) {
	frames := ToneFrames(ToneFrequency, ToneDuration)
	total := 0
	for _, f := range frames {
		total += len(f)
		if len(f) > toneFrameBytes {
			t.Errorf("frame size = %d, want <= %d", len(f), toneFrameBytes)
		}
	}
	if total != 24000*2*400/1000 {
		t.Errorf("total bytes = %d, want %d", total, 24000*2*400/1000)
	}
}

func TestRESTRoundTrip(t *testing.T) {
	s, srv := newTestServer(t)
	s.Store().Add("c1", "first question", "user", 0)
	s.Store().Add("c1", "first answer", "agent", 0)

	client := backend.New(srv.URL+"/api", time.Second)
	ctx := context.Background()

	convs, err := client.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 1 || convs[0].Title != "first question" || convs[0].MessageCount != 2 {
		t.Errorf("ListConversations() = %+v", convs)
	}

	history, err := client.History(ctx, "c1", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Text != "first answer" {
		t.Errorf("History(limit 1) = %+v", history)
	}

	n, err := client.DeleteConversation(ctx, "c1")
	if err != nil || n != 2 {
		t.Errorf("DeleteConversation() = %d, %v, want 2", n, err)
	}
	if history, _ := client.History(ctx, "c1", 0); len(history) != 0 {
		t.Errorf("History() after delete = %+v", history)
	}
}

func TestUploadDescribesFile(t *testing.T) {
	_, srv := newTestServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, _ := w.CreateFormFile("file", "notes.txt")
	_, _ = part.Write([]byte("buy oat milk"))
	_ = w.Close()

	resp, err := http.Post(srv.URL+"/api/upload", w.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var res backend.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.FileID == "" || res.FileName != "notes.txt" || res.FileType != "text" {
		t.Errorf("upload = %+v", res)
	}
	if !res.HasContent || res.ContentPreview != "buy oat milk" {
		t.Errorf("preview = %q (has_content %v)", res.ContentPreview, res.HasContent)
	}
}
