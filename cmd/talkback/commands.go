package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talkback/internal/backend"
	"github.com/GriffinCanCode/talkback/internal/loopback"
	"github.com/GriffinCanCode/talkback/internal/protocol"
)

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			convs, err := newClient().ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), convs)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := newClient().DeleteConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d messages)\n", args[0], n)
			return nil
		},
	})

	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the stored messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = cfg.HistoryLimit
			}
			msgs, err := newClient().History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of messages (default from config)")
	return cmd
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file for use as an attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().UploadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render(res.FileName), dimStyle.Render(res.FileID))
			fmt.Fprintf(out, "  type %s (%s)\n", res.FileType, res.MimeType)
			if res.HasContent {
				fmt.Fprintf(out, "  %s\n", toolStyle.Render(res.ContentPreview))
			}
			return nil
		},
	}
}

func loopbackCmd() *cobra.Command {
	var (
		addr       string
		tokenDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run a local scripted agent for offline use and testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Loopback.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLoopback(ctx, addr, tokenDelay)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().DurationVar(&tokenDelay, "token-delay", 30*time.Millisecond, "pause between streamed tokens")
	return cmd
}

func runLoopback(ctx context.Context, addr string, tokenDelay time.Duration) error {
	agent := loopback.New(loopback.NewStore(loopback.MaxStoredMessages), tokenDelay)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           agent.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("loopback agent starting", "addr", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	agent.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

func printConversations(out io.Writer, convs []backend.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no conversations"))
		return
	}
	for _, c := range convs {
		updated := c.UpdatedAt
		if t, ok := protocol.ParseTimestamp(c.UpdatedAt); ok {
			updated = t.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "%s  %s  %s\n",
			headerStyle.Render(c.ID),
			c.Title,
			dimStyle.Render(fmt.Sprintf("%d messages, %s", c.MessageCount, updated)))
	}
}

func printHistory(out io.Writer, msgs []backend.HistoryMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no messages"))
		return
	}
	for _, m := range msgs {
		ts := m.Timestamp
		if t, ok := protocol.ParseTimestamp(m.Timestamp); ok {
			ts = t.Local().Format("15:04")
		}
		line := fmt.Sprintf("%s %s %s", label(m.Sender), dimStyle.Render(ts), m.Text)
		if m.HasAttachments {
			line += dimStyle.Render(fmt.Sprintf(" +%d file(s)", m.AttachmentCount))
		}
		fmt.Fprintln(out, line)
	}
}
