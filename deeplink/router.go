// Package deeplink routes URLs opened by the operating system to the session manager.
package deeplink

import (
	"context"
	"strings"

	"github.com/jrsteele09/choirapp/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CallbackHandler completes a sign-in from a redirect URL.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, redirectURL string) (*session.Session, error)
}

// Sink receives the outcome of every routed callback.
type Sink interface {
	CallbackResolved(s *session.Session, err error)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(s *session.Session, err error)

func (f SinkFunc) CallbackResolved(s *session.Session, err error) {
	f(s, err)
}

// Router forwards URLs that start with the redirect URI to the callback handler.
type Router struct {
	redirectURI           string
	postLogoutRedirectURI string
	handler               CallbackHandler
	sink                  Sink
	logger                zerolog.Logger
}

type RouterOption func(*Router)

func WithLogger(logger zerolog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithPostLogoutRedirectURI makes the router acknowledge sign-out redirects instead of
// ignoring them as unrelated.
func WithPostLogoutRedirectURI(uri string) RouterOption {
	return func(r *Router) {
		r.postLogoutRedirectURI = uri
	}
}

func NewRouter(redirectURI string, handler CallbackHandler, sink Sink, options ...RouterOption) *Router {
	r := &Router{
		redirectURI: redirectURI,
		handler:     handler,
		sink:        sink,
		logger:      log.Logger.With().Str("component", "deeplink").Logger(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// SetSink replaces the callback sink. It must be called before URLs are delivered.
func (r *Router) SetSink(sink Sink) {
	r.sink = sink
}

func (r *Router) RedirectURI() string {
	return r.redirectURI
}

// Matches reports whether rawURL is a sign-in callback.
func (r *Router) Matches(rawURL string) bool {
	return r.redirectURI != "" && strings.HasPrefix(rawURL, r.redirectURI)
}

// Deliver routes one URL. It reports whether the URL was a sign-in callback; the
// callback outcome, success or failure, goes to the sink.
func (r *Router) Deliver(ctx context.Context, rawURL string) bool {
	if !r.Matches(rawURL) {
		if r.postLogoutRedirectURI != "" && strings.HasPrefix(rawURL, r.postLogoutRedirectURI) {
			r.logger.Debug().Msg("post-logout redirect received")
			return false
		}
		r.logger.Debug().Str("scheme", scheme(rawURL)).Msg("ignoring unrelated url")
		return false
	}

	s, err := r.handler.HandleCallback(ctx, rawURL)
	if err != nil {
		r.logger.Debug().Err(err).Msg("callback failed")
	}
	if r.sink != nil {
		r.sink.CallbackResolved(s, err)
	}
	return true
}

// HandleStartupURL routes the URL that launched the process, if any.
func (r *Router) HandleStartupURL(ctx context.Context, rawURL string) bool {
	if rawURL == "" {
		return false
	}
	return r.Deliver(ctx, rawURL)
}

// Run delivers URLs from urls until the channel is closed or ctx is done.
func (r *Router) Run(ctx context.Context, urls <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-urls:
			if !ok {
				return
			}
			r.Deliver(ctx, u)
		}
	}
}

func scheme(rawURL string) string {
	if i := strings.Index(rawURL, ":"); i > 0 {
		return rawURL[:i]
	}
	return ""
}
