package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/edup2p/nearby/pairsync"
	"github.com/edup2p/nearby/pairsync/actors"
	"github.com/edup2p/nearby/types"
	"github.com/edup2p/nearby/types/peer"
)

func runShell(ctx context.Context, c *Config) error {
	shell := ishell.New()
	shell.SetHomeHistoryPath(".pairsync_history")

	timeout := c.InviteTimeout
	if timeout == 0 {
		timeout = actors.DefaultInviteTimeout
	}

	prompts := newPrompter(timeout, func(q *question) {
		shell.Printf("%s %s? answer with yes or no\n", q.kind, q.peer)
	})

	opts := pairsync.Options{
		ID:               c.ID,
		ServiceTag:       c.ServiceTag,
		Automatic:        !c.Manual,
		InviteTimeout:    c.InviteTimeout,
		ReconnectGrace:   c.ReconnectGrace,
		Remembered:       c.Remember,
		ListenAddr:       c.ListenAddr,
		AnnounceInterval: c.AnnounceInterval,
		Observer: pairsync.FuncObserver{
			StateChanged: func(id string, state peer.ConnState) {
				shell.Printf("[%s] %s\n", id, state)
			},
			Data: func(id string, payload []byte) {
				shell.Printf("<%s> %s\n", id, payload)
			},
		},
	}
	if c.Manual {
		opts.Decider = prompts.decider()
	}

	s, err := pairsync.New(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	go func() {
		<-ctx.Done()
		shell.Close()
	}()

	shell.Println("pairsync shell, identity", s.Identity())
	if c.Manual {
		shell.Println("manual mode, use search to start looking for peers")
	}

	for _, cmd := range levelCmds() {
		shell.AddCmd(cmd)
	}
	for _, cmd := range syncCmds(s, prompts) {
		shell.AddCmd(cmd)
	}

	shell.Run()

	return nil
}

func levelCmds() []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name: "trace",
			Help: "set log level to trace",
			Func: func(c *ishell.Context) {
				programLevel.Set(types.LevelTrace)
			},
		},
		{
			Name: "debug",
			Help: "set log level to debug",
			Func: func(c *ishell.Context) {
				programLevel.Set(slog.LevelDebug)
			},
		},
		{
			Name: "info",
			Help: "set log level to info",
			Func: func(c *ishell.Context) {
				programLevel.Set(slog.LevelInfo)
			},
		},
	}
}

func syncCmds(s *pairsync.Sync, prompts *prompter) []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name: "id",
			Help: "print our identity",
			Func: func(c *ishell.Context) {
				c.Println(s.Identity())
			},
		},
		{
			Name: "state",
			Help: "print the pairing state",
			Func: func(c *ishell.Context) {
				c.Println(s.State())
				if id, ok := s.RememberedPeer(); ok {
					c.Println("remembered:", id)
				}
			},
		},
		{
			Name: "peers",
			Help: "list peers visible on the network",
			Func: func(c *ishell.Context) {
				peers := s.Peers()
				if len(peers) == 0 {
					c.Println("no peers")
					return
				}
				for _, p := range peers {
					c.Printf("%s\t%s\tseen %s ago\n", p.ID, p.Addr, time.Since(p.LastSeen).Round(time.Second))
				}
			},
		},
		{
			Name: "search",
			Help: "start advertising and browsing",
			Func: func(c *ishell.Context) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := s.StartSearch(ctx); err != nil {
					c.Println("search failed:", err)
				}
			},
		},
		{
			Name: "send",
			Help: "send a message to the paired peer",
			Func: func(c *ishell.Context) {
				msg := strings.Join(c.Args, " ")
				if msg == "" {
					c.Print("message: ")
					msg = c.ReadLine()
				}

				if err := s.Send([]byte(msg)); err != nil {
					if errors.Is(err, pairsync.ErrNotConnected) {
						c.Println("not paired with anyone")
						return
					}
					c.Println("send failed:", err)
				}
			},
		},
		{
			Name: "unpair",
			Help: "end the session and forget the remembered peer",
			Func: func(c *ishell.Context) {
				s.UnPair()
				c.Println(s.State())
			},
		},
		{
			Name: "pending",
			Help: "list unanswered questions",
			Func: func(c *ishell.Context) {
				for _, q := range prompts.list() {
					c.Println(q.kind, q.peer)
				}
			},
		},
		answerCmd("yes", true, prompts),
		answerCmd("no", false, prompts),
	}
}

func answerCmd(name string, ok bool, prompts *prompter) *ishell.Cmd {
	return &ishell.Cmd{
		Name: name,
		Help: fmt.Sprintf("answer %s to the oldest question", name),
		Func: func(c *ishell.Context) {
			q, found := prompts.answer(ok)
			if !found {
				c.Println("nothing to answer")
				return
			}
			c.Println(name, "to", q.kind, q.peer)
		},
	}
}
