// talkback - terminal client for a conversational agent backend
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talkback/internal/backend"
	"github.com/GriffinCanCode/talkback/internal/config"
)

var (
	cfgPath string
	verbose bool
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "talkback",
		Short: "Talk to a conversational agent by text or voice",
		Long: `talkback keeps a live conversation with an agent backend: streamed
replies, full duplex voice and reconnection when the socket drops.

Start chatting:        talkback chat [conversation-id]
List conversations:    talkback conversations list
Run a local agent:     talkback loopback`,
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(loopbackCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and installs the default logger.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfg, err = config.Load(cfgPath); err != nil {
		return err
	}

	level := parseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	slog.Debug("config loaded", "server", cfg.ServerURL, "file", cfgPath)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newClient() *backend.Client {
	return backend.New(cfg.APIURL(), cfg.HTTPTimeout)
}
