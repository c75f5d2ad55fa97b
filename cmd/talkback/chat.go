package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talkback/internal/audio"
	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/session"
)

const chatHelp = `commands:
  /voice            start talking
  /stop             stop voice
  /mute, /unmute    hold or resume the microphone
  /interrupt        silence the agent
  /attach <path>    upload a file for the next message
  /switch <id>      open another conversation
  /new              start a new conversation
  /quit             leave`

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Open an interactive conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runChat(ctx, id, os.Stdin, cmd.OutOrStdout())
		},
	}
}

// chat is the interactive loop state.
type chat struct {
	client  attachmentUploader
	manager *session.Manager
	out     io.Writer
	printer *printer
	pending []protocol.Attachment

	cancelWatch context.CancelFunc
}

type attachmentUploader interface {
	Upload(ctx context.Context, path string) (protocol.Attachment, error)
}

func runChat(ctx context.Context, conversationID string, in io.Reader, out io.Writer) error {
	client := newClient()

	deps := session.Deps{History: client}
	if dev, err := audio.NewDevice(); err != nil {
		slog.Warn("audio unavailable, voice disabled", "error", err)
	} else {
		deps.Audio = dev
		defer func() { _ = dev.Close() }()
	}

	manager := session.NewManager(func(id string) *session.Session {
		return session.New(id, session.OptionsFromConfig(cfg, id), deps)
	}, client)
	defer manager.Close()

	c := &chat{client: client, manager: manager, out: out, printer: newPrinter(out)}
	defer c.stopWatch()

	var err error
	if conversationID == "" {
		err = c.activate(ctx, func() (*session.Session, error) { return manager.New(ctx) })
	} else {
		err = c.activate(ctx, func() (*session.Session, error) { return manager.Switch(ctx, conversationID) })
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, dimStyle.Render("type /help for commands"))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether to quit.
func (c *chat) handle(ctx context.Context, line string) bool {
	name, arg, isCommand := parseCommand(line)
	s := c.manager.Active()
	if s == nil && name != "new" && name != "switch" && name != "quit" && name != "exit" && name != "help" {
		c.errorf("no active conversation, use /new or /switch <id>")
		return false
	}
	if !isCommand {
		if s.Send(line, c.pending) {
			c.pending = nil
		}
		return false
	}

	switch name {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(c.out, chatHelp)
	case "voice":
		if err := s.StartVoice(ctx); err != nil {
			c.errorf("voice: %v", err)
		}
	case "stop":
		s.StopVoice()
	case "mute":
		s.SetMuted(true)
	case "unmute":
		s.SetMuted(false)
	case "interrupt":
		s.Interrupt()
	case "attach":
		if arg == "" {
			c.errorf("usage: /attach <path>")
			break
		}
		att, err := c.client.Upload(ctx, arg)
		if err != nil {
			c.errorf("attach: %v", err)
			break
		}
		c.pending = append(c.pending, att)
		fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf("attached %s (%d pending)", att.FileName, len(c.pending))))
	case "switch":
		if arg == "" {
			c.errorf("usage: /switch <conversation-id>")
			break
		}
		if err := c.activate(ctx, func() (*session.Session, error) { return c.manager.Switch(ctx, arg) }); err != nil {
			c.errorf("switch: %v", err)
		}
	case "new":
		if err := c.activate(ctx, func() (*session.Session, error) { return c.manager.New(ctx) }); err != nil {
			c.errorf("new: %v", err)
		}
	default:
		c.errorf("unknown command /%s, try /help", name)
	}
	return false
}

// activate opens a session and moves the printer over to it.
func (c *chat) activate(ctx context.Context, open func() (*session.Session, error)) error {
	c.stopWatch()
	s, err := open()
	if err != nil {
		return err
	}
	c.pending = nil
	c.printer.reset()
	fmt.Fprintln(c.out, headerStyle.Render("conversation "+s.ID()))

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watch(watchCtx, s, c.printer)
	}()
	c.cancelWatch = func() {
		cancel()
		<-done
	}
	return nil
}

func (c *chat) stopWatch() {
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
}

func (c *chat) errorf(format string, args ...any) {
	fmt.Fprintln(c.out, errorStyle.Render(fmt.Sprintf(format, args...)))
}

// watch prints every projection change until ctx ends or the session closes.
func watch(ctx context.Context, s *session.Session, p *printer) {
	for {
		changed := s.Changed()
		p.render(s.View())
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			p.render(s.View())
			return
		case <-changed:
		}
	}
}

// parseCommand splits "/name arg" input. Plain text is not a command.
func parseCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || len(line) == 1 {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}
