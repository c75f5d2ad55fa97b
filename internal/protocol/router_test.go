package protocol

import (
	"encoding/json"
	"testing"
)

type recorder struct {
	ready    []string
	messages []Message
	starts   []StreamStart
	tokens   []StreamToken
	ends     []StreamEnd
	tools    []ToolCall
	voice    []VoiceEvent
	audio    [][]byte
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Ready:       func(s string) { r.ready = append(r.ready, s) },
		Message:     func(m Message) { r.messages = append(r.messages, m) },
		StreamStart: func(v StreamStart) { r.starts = append(r.starts, v) },
		StreamToken: func(v StreamToken) { r.tokens = append(r.tokens, v) },
		StreamEnd:   func(v StreamEnd) { r.ends = append(r.ends, v) },
		ToolCall:    func(v ToolCall) { r.tools = append(r.tools, v) },
		Voice:       func(v VoiceEvent) { r.voice = append(r.voice, v) },
		Audio:       func(b []byte) { r.audio = append(r.audio, b) },
	}
}

func TestRouteStreamEvents(t *testing.T) {
	r := &recorder{}
	h := r.handlers()

	Route(KindText, []byte(`{"type":"stream_start","data":{"id":"m1","sender":"agent"}}`), h)
	Route(KindText, []byte(`{"type":"stream_token","data":{"id":"m1","token":"Hel"}}`), h)
	Route(KindText, []byte(`{"type":"stream_tool_call","data":{"id":"m1","tool":"search","args":{"q":"go"}}}`), h)
	Route(KindText, []byte(`{"type":"stream_end","data":{"id":"m1","text":"Hello","sender":"agent"}}`), h)

	if len(r.starts) != 1 || r.starts[0].ID != "m1" {
		t.Errorf("starts = %+v, want one for m1", r.starts)
	}
	if len(r.tokens) != 1 || r.tokens[0].Token != "Hel" {
		t.Errorf("tokens = %+v, want one Hel", r.tokens)
	}
	if len(r.tools) != 1 || r.tools[0].Tool != "search" {
		t.Errorf("tools = %+v, want one search", r.tools)
	}
	if len(r.ends) != 1 || r.ends[0].Text == nil || *r.ends[0].Text != "Hello" {
		t.Errorf("ends = %+v, want final text Hello", r.ends)
	}
}

func TestRouteStreamEndWithoutText(t *testing.T) {
	r := &recorder{}
	Route(KindText, []byte(`{"type":"stream_end","data":{"id":"m1"}}`), r.handlers())
	if len(r.ends) != 1 || r.ends[0].Text != nil {
		t.Errorf("ends = %+v, want nil final text", r.ends)
	}
}

func TestRouteMessages(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		text   string
		id     string
		sender string
	}{
		{"data message", `{"type":"message","data":{"id":"a1","text":"hi","sender":"agent","timestamp":"2024-05-01T10:00:00.123456"}}`, "hi", "a1", "agent"},
		{"flat message", `{"type":"message","text":"flat"}`, "flat", "", "agent"},
		{"error in data", `{"type":"error","data":{"message":"agent failed"}}`, "agent failed", "", "agent"},
		{"flat error", `{"type":"error","message":"Failed to connect"}`, "Failed to connect", "", "agent"},
		{"error without text", `{"type":"error"}`, "Unknown error", "", "agent"},
		{"unparseable", `{"type": "message", "data": {`, `{"type": "message", "data": {`, "", "agent"},
		{"plain text", `hello there`, "hello there", "", "agent"},
		{"json without type", `{"text":"x"}`, `{"text":"x"}`, "", "agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			Route(KindText, []byte(tt.frame), r.handlers())
			if len(r.messages) != 1 {
				t.Fatalf("messages = %d, want 1", len(r.messages))
			}
			m := r.messages[0]
			if m.Text != tt.text {
				t.Errorf("Text = %q, want %q", m.Text, tt.text)
			}
			if m.ID != tt.id {
				t.Errorf("ID = %q, want %q", m.ID, tt.id)
			}
			if m.Sender != tt.sender {
				t.Errorf("Sender = %q, want %q", m.Sender, tt.sender)
			}
		})
	}
}

func TestRouteVoiceEvents(t *testing.T) {
	r := &recorder{}
	h := r.handlers()
	frames := []string{
		`{"type":"tts_start"}`,
		`{"type":"tts_end"}`,
		`{"type":"tts_error","message":"tts down"}`,
		`{"type":"interrupt"}`,
		`{"type":"transcription","text":"what time is it"}`,
		`{"type":"agent_response","text":"noon"}`,
	}
	for _, f := range frames {
		Route(KindText, []byte(f), h)
	}

	want := []VoiceEvent{
		{Type: TypeTTSStart},
		{Type: TypeTTSEnd},
		{Type: TypeTTSError, Text: "tts down"},
		{Type: TypeInterrupt},
		{Type: TypeTranscription, Text: "what time is it"},
		{Type: TypeAgentResponse, Text: "noon"},
	}
	if len(r.voice) != len(want) {
		t.Fatalf("voice events = %d, want %d", len(r.voice), len(want))
	}
	for i := range want {
		if r.voice[i] != want[i] {
			t.Errorf("voice[%d] = %+v, want %+v", i, r.voice[i], want[i])
		}
	}
}

func TestRouteControlAndBinary(t *testing.T) {
	r := &recorder{}
	h := r.handlers()

	Route(KindText, []byte(`{"type":"ready","message":"Voice agent ready"}`), h)
	Route(KindText, []byte(`{"type":"pong"}`), h)
	Route(KindText, []byte(`{"type":"something_new"}`), h)
	Route(KindText, []byte("   "), h)
	Route(KindBinary, []byte{0x00, 0x80}, h)

	if len(r.ready) != 1 || r.ready[0] != "Voice agent ready" {
		t.Errorf("ready = %v", r.ready)
	}
	if len(r.messages) != 0 {
		t.Errorf("pong, unknown and blank frames should not produce messages, got %+v", r.messages)
	}
	if len(r.audio) != 1 || len(r.audio[0]) != 2 {
		t.Errorf("audio = %v, want one 2-byte frame", r.audio)
	}
}

func TestRouteMalformedStreamData(t *testing.T) {
	r := &recorder{}
	Route(KindText, []byte(`{"type":"stream_token","data":"oops"}`), r.handlers())
	Route(KindText, []byte(`{"type":"stream_start"}`), r.handlers())
	if len(r.tokens) != 0 || len(r.starts) != 0 || len(r.messages) != 0 {
		t.Errorf("malformed stream frames should be dropped, got %+v", r)
	}
}

func TestRouteNilHandlers(t *testing.T) {
	// must not panic
	Route(KindText, []byte(`{"type":"stream_start","data":{"id":"x"}}`), Handlers{})
	Route(KindBinary, []byte{1}, Handlers{})
	Route(KindText, []byte(`garbage`), Handlers{})
}

func TestOutboundFrames(t *testing.T) {
	b, err := json.Marshal(NewUserMessage("hi", []Attachment{{FileName: "a.pdf", FilePath: "/up/a.pdf", MimeType: "application/pdf"}}))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"message","data":{"text":"hi","attachments":[{"file_name":"a.pdf","mime_type":"application/pdf","file_path":"/up/a.pdf"}]}}`
	if string(b) != want {
		t.Errorf("user message = %s, want %s", b, want)
	}

	b, _ = json.Marshal(Stop())
	if string(b) != `{"type":"stop"}` {
		t.Errorf("stop = %s", b)
	}
	b, _ = json.Marshal(Ping())
	if string(b) != `{"type":"ping"}` {
		t.Errorf("ping = %s", b)
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{"2024-05-01T10:00:00.123456", "2024-05-01T10:00:00Z", "2024-05-01 10:00:00"} {
		if _, ok := ParseTimestamp(s); !ok {
			t.Errorf("ParseTimestamp(%q) failed", s)
		}
	}
	if _, ok := ParseTimestamp("yesterday"); ok {
		t.Error("ParseTimestamp(yesterday) should fail")
	}
}
