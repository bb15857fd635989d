package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/edup2p/nearby/types"
	"github.com/spf13/cobra"
)

var programLevel = new(slog.LevelVar) // Info by default

func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel, AddSource: true})
	slog.SetDefault(slog.New(h))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	config string

	id       string
	tag      string
	manual   bool
	remember string
	listen   string
	logLevel string

	inviteTimeout  time.Duration
	reconnectGrace time.Duration
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "pairsync",
		Short: "Pair with one other instance on the local network and exchange messages",
		Long: "pairsync advertises itself over mDNS, finds other instances with the same service tag,\n" +
			"pairs with exactly one of them, and opens an interactive shell to exchange messages.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}

			programLevel.Set(parseLevel(c.LogLevel))

			return runShell(cmd.Context(), c)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	fl.StringVar(&f.id, "id", "", "identity to announce (random when empty)")
	fl.StringVarP(&f.tag, "tag", "t", "", "service tag to pair on")
	fl.BoolVarP(&f.manual, "manual", "m", false, "ask before inviting or accepting a peer")
	fl.StringVar(&f.remember, "remember", "", "previously paired peer to prefer")
	fl.StringVar(&f.listen, "listen", "", "address for the invitation listener")
	fl.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error")
	fl.DurationVar(&f.inviteTimeout, "invite-timeout", 0, "how long an invitation may stay unanswered")
	fl.DurationVar(&f.reconnectGrace, "reconnect-grace", 0, "how long to wait for a lost peer before searching again")

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "pairsync", version)
		},
	}
}

var version = "dev"

// resolveConfig merges the config file, if any, with the flags that were set explicitly.
func resolveConfig(cmd *cobra.Command, f flags) (*Config, error) {
	c := &Config{}
	if f.config != "" {
		var err error
		if c, err = LoadConfig(f.config); err != nil {
			return nil, err
		}
	}

	fl := cmd.Flags()
	if fl.Changed("id") {
		c.ID = f.id
	}
	if fl.Changed("tag") {
		c.ServiceTag = f.tag
	}
	if fl.Changed("manual") {
		c.Manual = f.manual
	}
	if fl.Changed("remember") {
		c.Remember = f.remember
	}
	if fl.Changed("listen") {
		c.ListenAddr = f.listen
	}
	if fl.Changed("log-level") {
		c.LogLevel = f.logLevel
	}
	if fl.Changed("invite-timeout") {
		c.InviteTimeout = f.inviteTimeout
	}
	if fl.Changed("reconnect-grace") {
		c.ReconnectGrace = f.reconnectGrace
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return types.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
