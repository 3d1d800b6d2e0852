package deeplink_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/choirapp/deeplink"
	"github.com/jrsteele09/choirapp/internal/errors"
	"github.com/jrsteele09/choirapp/session"
	"github.com/stretchr/testify/require"
)

const (
	redirectURI   = "choirapp://callback"
	postLogoutURI = "choirapp://logout"
)

type outcome struct {
	session *session.Session
	err     error
}

// recorder is both the callback handler and the sink. Each state is accepted once.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	consumed map[string]bool
	outcomes []outcome
}

func newRecorder() *recorder {
	return &recorder{consumed: make(map[string]bool)}
}

func (r *recorder) HandleCallback(ctx context.Context, redirectURL string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, redirectURL)
	if r.consumed[redirectURL] {
		return nil, errors.Join(errors.ErrCallback, errors.ErrPendingRequestNotFound)
	}
	r.consumed[redirectURL] = true
	return &session.Session{Subject: "user-1"}, nil
}

func (r *recorder) CallbackResolved(s *session.Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome{session: s, err: err})
}

func (r *recorder) snapshot() ([]string, []outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]outcome(nil), r.outcomes...)
}

func TestDeliver(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		matched bool
	}{
		{name: "callback", url: "choirapp://callback?code=abc&state=xyz", matched: true},
		{name: "unrelated scheme", url: "otherapp://foo", matched: false},
		{name: "post logout", url: "choirapp://logout", matched: false},
		{name: "case sensitive", url: "ChoirApp://callback?code=abc&state=xyz", matched: false},
		{name: "empty", url: "", matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			r := deeplink.NewRouter(redirectURI, rec, rec, deeplink.WithPostLogoutRedirectURI(postLogoutURI))

			require.Equal(t, tt.matched, r.Deliver(context.Background(), tt.url))

			calls, outcomes := rec.snapshot()
			if tt.matched {
				require.Equal(t, []string{tt.url}, calls)
				require.Len(t, outcomes, 1)
				require.NoError(t, outcomes[0].err)
				return
			}
			require.Empty(t, calls)
			require.Empty(t, outcomes)
		})
	}
}

func TestDeliver_DuplicateURL(t *testing.T) {
	rec := newRecorder()
	r := deeplink.NewRouter(redirectURI, rec, rec)
	url := "choirapp://callback?code=abc&state=xyz"

	require.True(t, r.Deliver(context.Background(), url))
	require.True(t, r.Deliver(context.Background(), url))

	calls, outcomes := rec.snapshot()
	require.Len(t, calls, 2)
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].err)
	require.NotNil(t, outcomes[0].session)
	require.ErrorIs(t, outcomes[1].err, errors.ErrCallback)
	require.Nil(t, outcomes[1].session)
}

func TestHandleStartupURL(t *testing.T) {
	rec := newRecorder()
	var resolved []error
	r := deeplink.NewRouter(redirectURI, rec, deeplink.SinkFunc(func(_ *session.Session, err error) {
		resolved = append(resolved, err)
	}))

	require.False(t, r.HandleStartupURL(context.Background(), ""))
	require.True(t, r.HandleStartupURL(context.Background(), "choirapp://callback?code=abc&state=xyz"))
	require.Equal(t, []error{nil}, resolved)
}

func TestRun(t *testing.T) {
	rec := newRecorder()
	r := deeplink.NewRouter(redirectURI, rec, rec)

	urls := make(chan string)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), urls)
		close(done)
	}()

	urls <- "otherapp://foo"
	urls <- "choirapp://callback?code=1&state=a"
	urls <- "choirapp://callback?code=2&state=b"
	close(urls)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}

	calls, _ := rec.snapshot()
	require.Equal(t, []string{
		"choirapp://callback?code=1&state=a",
		"choirapp://callback?code=2&state=b",
	}, calls)
}

func TestRun_ContextCancelled(t *testing.T) {
	rec := newRecorder()
	r := deeplink.NewRouter(redirectURI, rec, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, make(chan string))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
