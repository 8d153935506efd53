package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/i5heu/seedgate/internal/config"
	"github.com/i5heu/seedgate/pkg/recipe"
	"github.com/i5heu/seedgate/pkg/seedAccessor"
)

func consentRequester(policy string, in io.Reader, out io.Writer) seedAccessor.ConsentRequester {
	switch policy {
	case config.ConsentAllow:
		return seedAccessor.ConsentFunc(func(context.Context, recipe.UsersConsent) (bool, error) {
			return true, nil
		})
	case config.ConsentPrompt:
		return &terminalPrompt{in: bufio.NewReader(in), out: out}
	default:
		// a nil requester declines every prompt
		return nil
	}
}

// terminalPrompt asks on the daemon's terminal. Prompts are serialized.
type terminalPrompt struct {
	mu    sync.Mutex
	once  sync.Once
	in    *bufio.Reader
	out   io.Writer
	lines chan string
}

func (p *terminalPrompt) readLines() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if line != "" {
			p.lines <- line
		}
		if err != nil {
			return
		}
	}
}

func (p *terminalPrompt) RequestUserConsent(ctx context.Context, consent recipe.UsersConsent) (bool, error) {
	p.once.Do(func() {
		p.lines = make(chan string)
		go p.readLines()
	})
	p.mu.Lock()
	defer p.mu.Unlock()

	allow := consent.ActionButtonLabels.Allow
	if allow == "" {
		allow = "Allow"
	}
	decline := consent.ActionButtonLabels.Decline
	if decline == "" {
		decline = "Decline"
	}
	fmt.Fprintf(p.out, "\n%s\n  [y] %s\n  [n] %s\n> ", consent.Question, allow, decline)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
