package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/GriffinCanCode/talkback/internal/connection"
	"github.com/GriffinCanCode/talkback/internal/session"
	"github.com/GriffinCanCode/talkback/internal/voice"
)

// printer writes a session view to a line terminal incrementally. Streaming
// text is printed as it grows; a final text that rewrites the stream is
// printed again in full.
type printer struct {
	out     io.Writer
	shown   map[string]string
	done    map[string]bool
	open    string
	state   connection.State
	voice   voice.State
	waiting bool
}

func newPrinter(out io.Writer) *printer {
	p := &printer{out: out}
	p.reset()
	return p
}

// reset forgets everything printed, for a newly active conversation.
func (p *printer) reset() {
	p.shown = make(map[string]string)
	p.done = make(map[string]bool)
	p.open = ""
	p.state = ""
	p.voice = voice.StateIdle
	p.waiting = false
}

func (p *printer) render(v session.View) {
	if v.Connection != p.state {
		p.line(stateBadge(v.Connection))
		p.state = v.Connection
	}
	if v.Voice != "" && v.Voice != p.voice {
		p.line(dimStyle.Render("voice " + string(v.Voice)))
		p.voice = v.Voice
	}

	for _, e := range v.Entries {
		if p.done[e.ID] {
			continue
		}
		p.entry(e)
	}

	if v.Waiting && !p.waiting && p.open == "" {
		p.line(dimStyle.Render("…"))
	}
	p.waiting = v.Waiting
}

func (p *printer) entry(e session.Entry) {
	shown, started := p.shown[e.ID]
	if !started {
		p.closeOpen()
		fmt.Fprintf(p.out, "%s %s", label(e.Sender), dimStyle.Render(e.Timestamp.Format("15:04")))
		if e.Attachments > 0 {
			fmt.Fprint(p.out, dimStyle.Render(fmt.Sprintf(" +%d file(s)", e.Attachments)))
		}
		fmt.Fprint(p.out, " ")
		p.open = e.ID
	} else if p.open != e.ID {
		p.closeOpen()
		fmt.Fprint(p.out, "  ")
		p.open = e.ID
	}

	switch {
	case strings.HasPrefix(e.Text, shown):
		p.text(e, e.Text[len(shown):])
	default:
		fmt.Fprint(p.out, "\n  ")
		p.text(e, e.Text)
	}
	p.shown[e.ID] = e.Text

	if !e.Streaming {
		for _, tc := range e.ToolCalls {
			fmt.Fprint(p.out, "\n  "+toolStyle.Render(fmt.Sprintf("[%s %s]", tc.Name, string(tc.Args))))
		}
		fmt.Fprintln(p.out)
		p.done[e.ID] = true
		p.open = ""
	}
}

func (p *printer) text(e session.Entry, s string) {
	if s == "" {
		return
	}
	if e.Notice() {
		s = noticeStyle.Render(s)
	}
	fmt.Fprint(p.out, s)
}

func (p *printer) line(s string) {
	p.closeOpen()
	fmt.Fprintln(p.out, s)
}

// closeOpen ends a streaming line that another line interrupts.
func (p *printer) closeOpen() {
	if p.open != "" {
		fmt.Fprintln(p.out)
		p.open = ""
	}
}
