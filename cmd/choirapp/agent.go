package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jrsteele09/choirapp/authstate"
)

// terminalAgent prints the authorization URL and waits for the redirect to be pasted
// back on the console.
type terminalAgent struct {
	out     io.Writer
	mu      sync.Mutex
	pending chan authstate.Outcome
}

func newTerminalAgent(out io.Writer) *terminalAgent {
	return &terminalAgent{out: out}
}

func (a *terminalAgent) Open(ctx context.Context, authURL, redirectURI string) (authstate.Outcome, error) {
	ch := make(chan authstate.Outcome, 1)
	a.mu.Lock()
	a.pending = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.pending == ch {
			a.pending = nil
		}
		a.mu.Unlock()
	}()

	fmt.Fprintf(a.out, "\nOpen this URL in a browser to sign in:\n\n  %s\n\n", authURL)
	fmt.Fprintf(a.out, "Paste the %s URL the browser is sent to, or type 'cancel'.\n", redirectURI)

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return authstate.Outcome{Kind: authstate.OutcomeDismissed}, nil
	}
}

// resolve completes the open round trip, if any.
func (a *terminalAgent) resolve(outcome authstate.Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return false
	}
	select {
	case a.pending <- outcome:
	default:
	}
	return true
}
