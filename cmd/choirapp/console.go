package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jrsteele09/choirapp/apiclient"
	"github.com/jrsteele09/choirapp/authstate"
	"github.com/jrsteele09/choirapp/deeplink"
	"github.com/jrsteele09/choirapp/session"
	"github.com/rs/zerolog/log"
)

const consoleHelp = `commands:
  login          sign in through the browser
  logout         sign out
  cancel         abandon a sign-in in progress
  status         show the signed-in user
  token          show the access token expiry
  get <path>     GET a backend resource
  quit           exit
any other line containing "://" is handled as an opened URL`

// console reads commands and deep links from stdin.
type console struct {
	out          io.Writer
	orchestrator *authstate.Orchestrator
	manager      *session.Manager
	router       *deeplink.Router
	agent        *terminalAgent
	api          *apiclient.Client
	urls         chan<- string
}

func (c *console) run(ctx context.Context, in io.Reader, quit func()) {
	fmt.Fprintln(c.out, consoleHelp)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		c.handle(ctx, line)
	}
	quit()
}

func (c *console) handle(ctx context.Context, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "login":
		go func() {
			if err := c.orchestrator.Login(ctx); err != nil {
				log.Info().Err(err).Msg("sign-in did not complete")
			}
		}()
	case "logout":
		if err := c.orchestrator.Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("signed out locally only")
		}
	case "cancel":
		if !c.agent.resolve(authstate.Outcome{Kind: authstate.OutcomeCancelled}) {
			fmt.Fprintln(c.out, "no sign-in in progress")
		}
	case "status":
		st := c.orchestrator.State()
		fmt.Fprintf(c.out, "%s loading=%t admin=%t roles=%v %s\n",
			st.Status, st.IsLoading, st.IsAdmin, st.Roles, describeUser(st))
	case "token":
		user := c.manager.User()
		if user == nil || c.manager.AccessToken() == "" {
			fmt.Fprintln(c.out, "no access token")
			return
		}
		fmt.Fprintf(c.out, "%s token expires in %s\n", user.TokenType, user.ExpiresIn(c.manager.Now()).Round(time.Second))
	case "get":
		if len(fields) < 2 {
			fmt.Fprintln(c.out, "usage: get <path>")
			return
		}
		var body any
		if err := c.api.GetJSON(ctx, fields[1], &body); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return
		}
		b, _ := json.MarshalIndent(body, "", "  ")
		fmt.Fprintln(c.out, string(b))
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	default:
		if !strings.Contains(line, "://") {
			fmt.Fprintf(c.out, "unknown command %q\n", fields[0])
			return
		}
		// A redirect pasted during sign-in completes the browser round trip.
		if c.router.Matches(line) && c.agent.resolve(authstate.Outcome{Kind: authstate.OutcomeSuccess, URL: line}) {
			return
		}
		select {
		case c.urls <- line:
		case <-ctx.Done():
		}
	}
}

func describeUser(st authstate.AuthState) string {
	if st.User == nil {
		return "signed out"
	}
	name, _ := st.User.Profile["preferred_username"].(string)
	if name == "" {
		name, _ = st.User.Profile["email"].(string)
	}
	if name == "" {
		name = st.User.Subject
	}
	return "signed in as " + name
}
