package main

import (
	"sync"
	"time"

	"github.com/edup2p/nearby/pairsync"
)

type question struct {
	kind   string
	peer   string
	answer chan bool
}

// prompter parks decisions from the engine until the user answers them with yes or no.
// Unanswered questions resolve to no after timeout.
type prompter struct {
	mu      sync.Mutex
	pending []*question

	timeout time.Duration
	notify  func(q *question)
}

func newPrompter(timeout time.Duration, notify func(q *question)) *prompter {
	return &prompter{timeout: timeout, notify: notify}
}

func (p *prompter) decider() pairsync.FuncDecider {
	return pairsync.FuncDecider{
		Candidate: func(id string) bool {
			return p.ask("invite", id)
		},
		Invitation: func(id string) bool {
			return p.ask("accept invitation from", id)
		},
	}
}

func (p *prompter) ask(kind, id string) bool {
	q := &question{kind: kind, peer: id, answer: make(chan bool, 1)}

	p.mu.Lock()
	p.pending = append(p.pending, q)
	p.mu.Unlock()

	if p.notify != nil {
		p.notify(q)
	}

	t := time.NewTimer(p.timeout)
	defer t.Stop()

	select {
	case ok := <-q.answer:
		return ok
	case <-t.C:
		p.drop(q)
		return false
	}
}

// answer resolves the oldest pending question, and reports whether there was one.
func (p *prompter) answer(ok bool) (*question, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return nil, false
	}

	q := p.pending[0]
	p.pending = p.pending[1:]
	q.answer <- ok

	return q, true
}

func (p *prompter) drop(q *question) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, o := range p.pending {
		if o == q {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

func (p *prompter) list() []*question {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*question(nil), p.pending...)
}
