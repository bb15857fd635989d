package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/edup2p/nearby/discovery"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/spf13/cobra"
	"golang.org/x/net/dns/dnsmessage"
)

const quBit = uint16(1 << 15)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		tag    string
		all    bool
		dedupe time.Duration
	)

	cmd := &cobra.Command{
		Use:          "mdns_monitor",
		Short:        "Print pairsync announcements and queries seen on the local network",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := discovery.ValidServiceTag(tag); err != nil {
				return err
			}
			return monitor(cmd.Context(), cmd.OutOrStdout(), tag, all, dedupe)
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "pairsync", "service tag to watch")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "also print packets for other services")
	cmd.Flags().DurationVar(&dedupe, "dedupe", 20*time.Second, "suppress identical packets for this long")

	return cmd
}

func monitor(ctx context.Context, w io.Writer, tag string, all bool, dedupe time.Duration) error {
	conn, err := discovery.ListenMulticast()
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { conn.Close() })

	store, err := memorystore.New(&memorystore.Config{
		Tokens:        1,
		Interval:      dedupe,
		SweepInterval: time.Minute,
		SweepMinTTL:   time.Minute,
	})
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	buf := make([]byte, 1<<16)

	for {
		n, ap, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		data := buf[:n]

		_, _, _, ok, err := store.Take(ctx, dataToB64Hash(data))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		printPacket(w, tag, all, ap.String(), data)
	}
}

func printPacket(w io.Writer, tag string, all bool, from string, data []byte) {
	var msg dnsmessage.Message
	if err := msg.Unpack(data); err != nil {
		slog.Debug("cannot unpack packet", "from", from, "err", err)
		return
	}

	for _, q := range msg.Questions {
		kind := "QM"
		if uint16(q.Class)&quBit != 0 {
			kind = "QU"
		}
		if all || isFor(tag, q.Name.String()) {
			fmt.Fprintf(w, "%s %s query %s\n", from, kind, q.Name)
		}
	}

	lines, err := discovery.Describe(tag, data)
	if err != nil {
		return
	}
	for _, l := range lines {
		fmt.Fprintf(w, "%s announce %s\n", from, l)
	}

	if all && len(lines) == 0 && len(msg.Answers) > 0 {
		for _, a := range msg.Answers {
			fmt.Fprintf(w, "%s answer %s %s\n", from, a.Header.Name, a.Header.Type)
		}
	}
}

func isFor(tag, name string) bool {
	return strings.EqualFold("_"+tag+"._tcp.local.", name)
}

func dataToB64Hash(b []byte) string {
	h := sha256.Sum256(b)

	return base64.StdEncoding.EncodeToString(h[:])
}
