package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/talkback/internal/backend"
	"github.com/GriffinCanCode/talkback/internal/config"
	"github.com/GriffinCanCode/talkback/internal/connection"
	"github.com/GriffinCanCode/talkback/internal/loopback"
	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/session"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArg  string
		wantOK   bool
	}{
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/quit", "quit", "", true},
		{"  /Attach  notes.txt ", "attach", "notes.txt", true},
		{"/switch c 2", "switch", "c 2", true},
	}
	for _, tt := range tests {
		name, arg, ok := parseCommand(tt.line)
		if name != tt.wantName || arg != tt.wantArg || ok != tt.wantOK {
			t.Errorf("parseCommand(%q) = %q, %q, %v, want %q, %q, %v",
				tt.line, name, arg, ok, tt.wantName, tt.wantArg, tt.wantOK)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrinterStreamsIncrementally(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

	view := func(e session.Entry) session.View {
		return session.View{Connection: connection.StateConnected, Entries: []session.Entry{e}}
	}
	p.render(view(session.Entry{ID: "m", Sender: "agent", Timestamp: ts, Streaming: true}))
	p.render(view(session.Entry{ID: "m", Text: "Hel", Sender: "agent", Timestamp: ts, Streaming: true}))
	p.render(view(session.Entry{ID: "m", Text: "Hello", Sender: "agent", Timestamp: ts, Streaming: true}))
	p.render(view(session.Entry{ID: "m", Text: "Hello", Sender: "agent", Timestamp: ts}))
	p.render(view(session.Entry{ID: "m", Text: "ignored once done", Sender: "agent", Timestamp: ts}))

	got := out.String()
	if strings.Count(got, "Hel") != 1 || !strings.Contains(got, "Hello\n") {
		t.Errorf("output = %q", got)
	}
	if strings.Count(got, "connected") != 1 {
		t.Errorf("state printed %d times, want once", strings.Count(got, "connected"))
	}
	if strings.Contains(got, "ignored") {
		t.Error("finished entry printed again")
	}
}

func TestPrinterFinalTextRewrite(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	p.render(session.View{Entries: []session.Entry{{ID: "m", Text: "Helo wrld", Sender: "agent", Streaming: true}}})
	p.render(session.View{Entries: []session.Entry{{ID: "m", Text: "Hello world", Sender: "agent"}}})

	if got := out.String(); !strings.Contains(got, "\n  Hello world\n") {
		t.Errorf("output = %q, want the final text on its own line", got)
	}
}

func TestPrinterReset(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)
	v := session.View{Entries: []session.Entry{{ID: "m", Text: "once", Sender: "user"}}}

	p.render(v)
	p.render(v)
	p.reset()
	p.render(v)

	if n := strings.Count(out.String(), "once"); n != 2 {
		t.Errorf("printed %d times, want 2", n)
	}
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, nil)
	if !strings.Contains(out.String(), "no messages") {
		t.Errorf("empty history output = %q", out.String())
	}

	out.Reset()
	printHistory(&out, []backend.HistoryMessage{
		{ID: "1", Text: "hi", Sender: "user", Timestamp: "2024-05-01T10:00:00"},
		{ID: "2", Text: "hello", Sender: "agent", HasAttachments: true, AttachmentCount: 2},
	})
	got := out.String()
	if !strings.Contains(got, "hi") || !strings.Contains(got, "hello") || !strings.Contains(got, "+2 file(s)") {
		t.Errorf("output = %q", got)
	}
}

func TestChatCommands(t *testing.T) {
	agent := loopback.New(nil, 0)
	srv := httptest.NewServer(agent.Handler())
	defer srv.Close()
	defer agent.Close()

	cfg = &config.Config{ServerURL: srv.URL, HTTPTimeout: time.Second}
	client := newClient()
	manager := session.NewManager(func(id string) *session.Session {
		return session.New(id, session.OptionsFromConfig(cfg, id), session.Deps{History: client})
	}, client)
	defer manager.Close()

	var out bytes.Buffer
	c := &chat{client: stubUploader{}, manager: manager, out: &out, printer: newPrinter(&bytes.Buffer{})}
	defer c.stopWatch()

	ctx := context.Background()
	if c.handle(ctx, "/switch c1") {
		t.Fatal("switch quit the loop")
	}
	s := manager.Active()
	if s == nil || s.ID() != "c1" {
		t.Fatalf("active session = %v, want c1", s)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.WaitFor(waitCtx, func(v session.View) bool { return v.Connection == connection.StateConnected }); err != nil {
		t.Fatal("chat socket never connected")
	}

	c.handle(ctx, "/attach notes.txt")
	if len(c.pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(c.pending))
	}
	c.handle(ctx, "hello")
	if len(c.pending) != 0 {
		t.Error("attachments kept after a successful send")
	}
	if _, err := s.WaitFor(waitCtx, func(v session.View) bool {
		return len(v.Entries) == 2 && !v.Entries[1].Streaming && strings.HasPrefix(v.Entries[1].Text, "You said: hello (with notes.txt attached)")
	}); err != nil {
		t.Errorf("no agent reply; entries = %+v", s.View().Entries)
	}

	c.handle(ctx, "/bogus")
	if !strings.Contains(out.String(), "unknown command /bogus") {
		t.Errorf("output = %q", out.String())
	}
	if !c.handle(ctx, "/quit") {
		t.Error("/quit did not quit")
	}
}

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, path string) (protocol.Attachment, error) {
	return protocol.Attachment{FileID: "f1", FileName: path, FilePath: "uploads/f1_" + path}, nil
}
