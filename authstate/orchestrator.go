package authstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/choirapp/deeplink"
	"github.com/jrsteele09/choirapp/internal/errors"
	"github.com/jrsteele09/choirapp/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionManager is the part of session.Manager the orchestrator drives.
type SessionManager interface {
	Subscribe(fn func(session.Event)) session.Subscription
	Unsubscribe(sub session.Subscription)
	RestoreSession(ctx context.Context) *session.Session
	InitiateLogin(ctx context.Context) (string, error)
	InitiateLogout(ctx context.Context) error
	User() *session.Session
	Now() time.Time
}

// Router delivers callback URLs and reports their outcome to a sink.
type Router interface {
	Deliver(ctx context.Context, rawURL string) bool
	HandleStartupURL(ctx context.Context, rawURL string) bool
	RedirectURI() string
	SetSink(sink deeplink.Sink)
}

type OutcomeKind int

const (
	// OutcomeSuccess means the user agent reached the redirect URI; URL holds it.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeCancelled means the user closed the browser view.
	OutcomeCancelled
	// OutcomeDismissed means the view was closed by the system.
	OutcomeDismissed
)

type Outcome struct {
	Kind OutcomeKind
	URL  string
}

// UserAgent presents an authorization URL and waits until the user agent is redirected
// to redirectURI or closed. It returns when ctx is done.
type UserAgent interface {
	Open(ctx context.Context, authURL, redirectURI string) (Outcome, error)
}

type eventKind int

const (
	eventRestored eventKind = iota
	eventLoaded
	eventUnloaded
	eventCallbackResolved
	eventLoginStarted
	eventLoginFailed
	eventLogoutCompleted
)

var eventNames = map[eventKind]string{
	eventRestored:         "restored",
	eventLoaded:           "loaded",
	eventUnloaded:         "unloaded",
	eventCallbackResolved: "callback_resolved",
	eventLoginStarted:     "login_started",
	eventLoginFailed:      "login_failed",
	eventLogoutCompleted:  "logout_completed",
}

type sessionEvent struct {
	kind    eventKind
	session *session.Session
	err     error
	attempt uuid.UUID

	// done is closed once the event has been applied.
	done chan struct{}
}

// Orchestrator owns the AuthState. All state changes are applied by a single loop in
// the order events arrive.
type Orchestrator struct {
	manager SessionManager
	router  Router
	agent   UserAgent
	logger  zerolog.Logger

	events    chan sessionEvent
	closed    chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
	started   atomic.Bool
	sub       session.Subscription

	stateMu     sync.RWMutex
	state       AuthState
	subscribers map[uuid.UUID]func(AuthState)

	loginMu      sync.Mutex
	loginAttempt uuid.UUID
	cancelLogin  context.CancelFunc

	// owned by the loop
	initialized bool
	inflight    uuid.UUID
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator registers the orchestrator as the router's sink.
func NewOrchestrator(manager SessionManager, router Router, agent UserAgent, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		manager:     manager,
		router:      router,
		agent:       agent,
		logger:      log.Logger.With().Str("component", "authstate").Logger(),
		events:      make(chan sessionEvent, 16),
		closed:      make(chan struct{}),
		state:       initialState(),
		subscribers: make(map[uuid.UUID]func(AuthState)),
	}
	for _, opt := range options {
		opt(o)
	}
	router.SetSink(o)
	go o.loop()
	return o
}

// Start restores the persisted session and routes startupURL, which may be empty. It
// returns once the restore has been applied. The orchestrator is closed when ctx is done.
func (o *Orchestrator) Start(ctx context.Context, startupURL string) {
	o.startOnce.Do(func() {
		o.sub = o.manager.Subscribe(o.onSessionEvent)
		go func() {
			select {
			case <-ctx.Done():
				o.Close()
			case <-o.closed:
			}
		}()

		restored := o.manager.RestoreSession(ctx)
		o.dispatch(sessionEvent{kind: eventRestored, session: restored})
		o.started.Store(true)
		o.router.HandleStartupURL(ctx, startupURL)
	})
}

// Close stops the event loop and cancels a login in progress.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.manager.Unsubscribe(o.sub)
		o.loginMu.Lock()
		if o.cancelLogin != nil {
			o.cancelLogin()
			o.cancelLogin = nil
		}
		o.loginMu.Unlock()
		close(o.closed)
	})
}

// State returns the current snapshot.
func (o *Orchestrator) State() AuthState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state.clone()
}

// Subscribe calls fn with every new snapshot, from the event loop, so fn must not call
// Login or Logout. The returned function removes the subscription.
func (o *Orchestrator) Subscribe(fn func(AuthState)) func() {
	id := uuid.New()
	o.stateMu.Lock()
	o.subscribers[id] = fn
	o.stateMu.Unlock()

	return func() {
		o.stateMu.Lock()
		defer o.stateMu.Unlock()
		delete(o.subscribers, id)
	}
}

// WaitFor blocks until a snapshot satisfies cond or ctx is done.
func (o *Orchestrator) WaitFor(ctx context.Context, cond func(AuthState) bool) (AuthState, error) {
	matched := make(chan AuthState, 1)
	unsubscribe := o.Subscribe(func(st AuthState) {
		if cond(st) {
			select {
			case matched <- st:
			default:
			}
		}
	})
	defer unsubscribe()

	if st := o.State(); cond(st) {
		return st, nil
	}
	select {
	case st := <-matched:
		return st.clone(), nil
	case <-ctx.Done():
		return o.State(), ctx.Err()
	}
}

// Login starts an interactive sign-in and waits for the user agent round trip. A newer
// Login cancels this one. Failures are reflected in the state; the returned error is
// informational and wraps errors.ErrCancelled when the user closed the browser view.
func (o *Orchestrator) Login(ctx context.Context) error {
	if !o.started.Load() {
		return errors.Wrapf(errors.ErrNotStarted, "login")
	}
	attempt := uuid.New()
	loginCtx, cancel := context.WithCancel(ctx)

	o.loginMu.Lock()
	if o.cancelLogin != nil {
		o.logger.Debug().Msg("superseding login in progress")
		o.cancelLogin()
	}
	o.loginAttempt = attempt
	o.cancelLogin = cancel
	o.loginMu.Unlock()

	defer func() {
		o.loginMu.Lock()
		cancel()
		if o.loginAttempt == attempt {
			o.cancelLogin = nil
		}
		o.loginMu.Unlock()
	}()

	o.dispatch(sessionEvent{kind: eventLoginStarted, attempt: attempt})

	authURL, err := o.manager.InitiateLogin(loginCtx)
	if err != nil {
		o.dispatch(sessionEvent{kind: eventLoginFailed, attempt: attempt, err: err})
		return err
	}

	outcome, err := o.agent.Open(loginCtx, authURL, o.router.RedirectURI())
	switch {
	case err != nil:
		o.dispatch(sessionEvent{kind: eventLoginFailed, attempt: attempt, err: err})
		return err
	case outcome.Kind != OutcomeSuccess:
		err = errors.Wrapf(errors.ErrCancelled, "user agent closed")
		o.dispatch(sessionEvent{kind: eventLoginFailed, attempt: attempt, err: err})
		return err
	case !o.router.Deliver(loginCtx, outcome.URL):
		err = errors.Wrapf(errors.ErrCallback, "user agent returned a url that is not a callback")
		o.dispatch(sessionEvent{kind: eventLoginFailed, attempt: attempt, err: err})
		return err
	}
	return nil
}

// Logout signs out and forces the unauthenticated state whether or not the provider
// could be reached. The returned error wraps errors.ErrLogout and is informational.
// Both Login and Logout fail with errors.ErrNotStarted until Start has returned.
func (o *Orchestrator) Logout(ctx context.Context) error {
	if !o.started.Load() {
		return errors.Wrapf(errors.ErrNotStarted, "logout")
	}
	o.loginMu.Lock()
	if o.cancelLogin != nil {
		o.cancelLogin()
		o.cancelLogin = nil
	}
	o.loginMu.Unlock()

	err := o.manager.InitiateLogout(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("sign-out did not reach the provider")
	}
	o.dispatch(sessionEvent{kind: eventLogoutCompleted})
	return err
}

// CallbackResolved receives routed callback outcomes.
func (o *Orchestrator) CallbackResolved(s *session.Session, err error) {
	o.dispatch(sessionEvent{kind: eventCallbackResolved, session: s, err: err})
}

func (o *Orchestrator) onSessionEvent(ev session.Event) {
	kind := eventUnloaded
	if ev.Kind == session.SessionLoaded {
		kind = eventLoaded
	}
	o.send(sessionEvent{kind: kind, session: ev.Session})
}

// send queues ev without waiting for it to be applied.
func (o *Orchestrator) send(ev sessionEvent) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.closed:
		return false
	}
}

// dispatch queues ev and waits until the loop has applied it.
func (o *Orchestrator) dispatch(ev sessionEvent) {
	ev.done = make(chan struct{})
	if !o.send(ev) {
		return
	}
	select {
	case <-ev.done:
	case <-o.closed:
	}
}

func (o *Orchestrator) loop() {
	for {
		select {
		case <-o.closed:
			return
		case ev := <-o.events:
			o.apply(ev)
			if ev.done != nil {
				close(ev.done)
			}
		}
	}
}

func (o *Orchestrator) apply(ev sessionEvent) {
	logger := o.logger.With().Str("event", eventNames[ev.kind]).Logger()

	var current *session.Session
	switch ev.kind {
	case eventRestored:
		o.initialized = true
		current = ev.session
	case eventLoaded:
		// A logout may have run since the event was raised.
		current = o.manager.User()
	case eventUnloaded:
	case eventLogoutCompleted:
		o.inflight = uuid.Nil
	case eventLoginStarted:
		o.inflight = ev.attempt
		current = o.State().User
	case eventLoginFailed:
		if ev.attempt != o.inflight {
			logger.Debug().Msg("ignoring outcome of superseded login")
			return
		}
		o.inflight = uuid.Nil
		logger.Debug().Err(ev.err).Msg("login failed")
	case eventCallbackResolved:
		if ev.err != nil {
			logger.Debug().Err(ev.err).Bool("login_in_flight", o.inflight != uuid.Nil).Msg("callback failed")
		} else {
			current = o.manager.User()
		}
		o.inflight = uuid.Nil
	}

	o.publish(computeState(current, o.manager.Now(), o.initialized, o.inflight != uuid.Nil))
}

func (o *Orchestrator) publish(state AuthState) {
	o.stateMu.Lock()
	prev := o.state
	o.state = state
	subscribers := make([]func(AuthState), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		subscribers = append(subscribers, fn)
	}
	o.stateMu.Unlock()

	if prev.Status != state.Status {
		o.logger.Info().Str("from", prev.Status.String()).Str("to", state.Status.String()).
			Strs("roles", state.Roles).Msg("auth state changed")
	}
	for _, fn := range subscribers {
		fn(state.clone())
	}
}
