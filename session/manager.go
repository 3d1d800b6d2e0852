package session

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/choirapp/internal/config"
	"github.com/jrsteele09/choirapp/internal/errors"
	"github.com/jrsteele09/choirapp/metrics"
	"github.com/jrsteele09/choirapp/securestore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const stateLength = 32

// Config is fixed at construction.
type Config struct {
	Authority             string
	ClientID              string
	RedirectURI           string
	PostLogoutRedirectURI string
	Scopes                []string
	AutomaticSilentRenew  bool
	LoadUserInfo          bool
	RenewLeadTime         time.Duration
	NetworkTimeout        time.Duration
	PendingRequestTTL     time.Duration
}

// ConfigFrom copies the OIDC settings out of the application config.
func ConfigFrom(c config.OIDCConfig) Config {
	return Config{
		Authority:             c.GetAuthority(),
		ClientID:              c.GetClientID(),
		RedirectURI:           c.GetRedirectURI(),
		PostLogoutRedirectURI: c.GetPostLogoutRedirectURI(),
		Scopes:                c.GetScopes(),
		AutomaticSilentRenew:  c.GetAutomaticSilentRenew(),
		LoadUserInfo:          c.GetLoadUserInfo(),
		RenewLeadTime:         c.GetRenewLeadTime(),
		NetworkTimeout:        c.GetNetworkTimeout(),
		PendingRequestTTL:     c.GetPendingRequestTTL(),
	}
}

func (c Config) validate() error {
	if c.Authority == "" || c.ClientID == "" || c.RedirectURI == "" {
		return errors.Wrapf(errors.ErrInvalidConfig, "authority, client id and redirect uri are required")
	}
	for _, s := range c.Scopes {
		if s == "openid" {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrInvalidConfig, "scopes must include openid")
}

// Manager is the sole owner of the Session.
type Manager struct {
	cfg      Config
	provider IdentityProvider
	store    securestore.Store
	userKey  string
	pending  pendingRepo
	events   *eventHub
	logger   zerolog.Logger
	metrics  *metrics.AuthMetrics
	nowFunc  func() time.Time

	// opMu allows one credential-mutating operation at a time.
	opMu sync.Mutex

	mu         sync.RWMutex
	current    *Session
	renewTimer *time.Timer
	renewCtx   context.Context
}

type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(am *metrics.AuthMetrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = am
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(cfg Config, provider IdentityProvider, store securestore.Store, options ...ManagerOption) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if provider == nil || store == nil {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "provider and store are required")
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = 10 * time.Second
	}
	if cfg.PendingRequestTTL <= 0 {
		cfg.PendingRequestTTL = 15 * time.Minute
	}
	if cfg.RenewLeadTime < 0 {
		cfg.RenewLeadTime = 0
	}

	m := &Manager{
		cfg:      cfg,
		provider: provider,
		store:    store,
		userKey:  securestore.UserKey(cfg.Authority, cfg.ClientID),
		pending:  pendingRepo{store: store, key: securestore.PendingKey(cfg.ClientID)},
		events:   newEventHub(),
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	m.logger = m.logger.With().Str("component", "session").Logger()
	return m, nil
}

// Subscribe registers fn for lifecycle events. fn must not block.
func (m *Manager) Subscribe(fn func(Event)) Subscription {
	return m.events.subscribe(fn)
}

// Unsubscribe removes a handler; unknown subscriptions are ignored.
func (m *Manager) Unsubscribe(sub Subscription) {
	m.events.unsubscribe(sub)
}

// InitiateLogin persists a new pending request, replacing any earlier one, and returns
// the authorization URL to present to the user agent.
func (m *Manager) InitiateLogin(ctx context.Context) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	pending := &PendingRequest{
		State:        generateRandomString(stateLength),
		Nonce:        generateRandomString(stateLength),
		CodeVerifier: oauth2.GenerateVerifier(),
		RedirectURI:  m.cfg.RedirectURI,
		CreatedAt:    m.nowFunc(),
	}
	if err := m.pending.Upsert(pending); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist pending authorization request")
		return "", errors.Wrapf(err, "[Manager InitiateLogin]")
	}

	m.metrics.LoginStarted()
	m.logger.Debug().Msg("authorization request created")
	return m.provider.AuthCodeURL(pending.State, pending.Nonce, pending.CodeVerifier), nil
}

// HandleCallback completes the code flow for redirectURL. Any failure wraps
// errors.ErrCallback and leaves the current session untouched.
func (m *Manager) HandleCallback(ctx context.Context, redirectURL string) (*Session, error) {
	s, err := m.handleCallback(ctx, redirectURL)
	if err != nil {
		m.metrics.Callback(metrics.ResultFailure)
		m.logger.Warn().Err(err).Msg("signin callback failed")
		return nil, errors.Join(errors.ErrCallback, err)
	}
	m.metrics.Callback(metrics.ResultSuccess)
	m.logger.Info().Str("sub", s.Subject).Msg("user signed in")
	m.events.emit(Event{Kind: SessionLoaded, Session: s})
	return s.Clone(), nil
}

func (m *Manager) handleCallback(ctx context.Context, redirectURL string) (*Session, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, errors.Join(errors.ErrMissingParameters, err)
	}
	query := u.Query()
	if errorParam := query.Get("error"); errorParam != "" {
		m.consumePendingIfState(query.Get("state"))
		return nil, errors.Wrapf(errors.ErrProviderRejected, "%s - %s", errorParam, query.Get("error_description"))
	}
	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		return nil, errors.ErrMissingParameters
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	pending, err := m.pending.Get()
	if err != nil {
		return nil, err
	}
	// A callback for another request does not consume the one in flight.
	if pending.State != state {
		return nil, errors.ErrStateMismatch
	}
	if err := m.pending.Delete(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to remove consumed pending request")
	}
	if m.nowFunc().Sub(pending.CreatedAt) > m.cfg.PendingRequestTTL {
		return nil, errors.ErrPendingRequestExpired
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, m.cfg.NetworkTimeout)
	defer cancel()

	token, err := m.provider.Exchange(exchangeCtx, code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}
	if token.IDToken == "" {
		return nil, errors.ErrNoIDToken
	}
	idClaims, err := m.provider.VerifyIDToken(exchangeCtx, token.IDToken, pending.Nonce)
	if err != nil {
		return nil, err
	}

	var userInfo map[string]any
	if m.cfg.LoadUserInfo {
		userInfo, err = m.provider.UserInfo(exchangeCtx, token.AccessToken)
		if err != nil {
			return nil, err
		}
		if sub := subject(userInfo); sub != "" && sub != subject(idClaims) {
			return nil, errors.New("userinfo subject does not match id token subject")
		}
	}

	s := m.newSession(token, buildProfile(idClaims, userInfo, token.AccessToken))
	m.setCurrentLocked(s)
	return s, nil
}

// consumePendingIfState drops the pending request an error redirect belongs to.
func (m *Manager) consumePendingIfState(state string) {
	if state == "" {
		return
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if pending, err := m.pending.Get(); err == nil && pending.State == state {
		if err := m.pending.Delete(); err != nil {
			m.logger.Warn().Err(err).Msg("failed to remove consumed pending request")
		}
	}
}

func (m *Manager) newSession(token *TokenResponse, profile map[string]any) *Session {
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		// No expires_in: fall back to the access token's exp claim.
		if exp, ok := accessTokenClaims(token.AccessToken)["exp"].(float64); ok {
			expiresAt = time.Unix(int64(exp), 0)
		}
	}
	return &Session{
		Subject:      subject(profile),
		Profile:      profile,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      token.IDToken,
		TokenType:    token.TokenType,
		Scopes:       append([]string(nil), m.cfg.Scopes...),
		ExpiresAt:    expiresAt,
	}
}

// setCurrentLocked persists s and makes it current. A failed write keeps the session
// for this process only. Callers hold opMu.
func (m *Manager) setCurrentLocked(s *Session) {
	if raw, err := s.marshal(); err != nil {
		m.logger.Error().Err(err).Msg("failed to encode session")
	} else if err := m.store.Set(m.userKey, raw); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist session, keeping it in memory")
	}

	m.mu.Lock()
	m.current = s
	m.scheduleRenewalLocked(s)
	m.mu.Unlock()
}

// clearLocked removes the session and any pending request from memory and the store.
// Callers hold opMu. It reports whether a session was loaded.
func (m *Manager) clearLocked() bool {
	if err := m.store.Remove(m.userKey); err != nil {
		m.logger.Warn().Err(err).Msg("failed to remove persisted session")
	}
	if err := m.pending.Delete(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to remove pending request")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	hadSession := m.current != nil
	m.current = nil
	m.stopRenewalLocked()
	return hadSession
}

// RestoreSession loads the persisted session. It returns nil when there is none, when it
// cannot be read or decoded, or when it has expired. It raises no event.
func (m *Manager) RestoreSession(ctx context.Context) *Session {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	raw, err := m.store.Get(m.userKey)
	if errors.Is(err, securestore.ErrNotFound) {
		m.metrics.Restore(metrics.ResultEmpty)
		return nil
	}
	if err != nil {
		m.metrics.Restore(metrics.ResultFailure)
		m.logger.Warn().Err(errors.Join(errors.ErrRestore, err)).Msg("persisted session unreadable")
		return nil
	}

	s, err := unmarshalSession(raw)
	if err != nil {
		m.metrics.Restore(metrics.ResultFailure)
		m.logger.Warn().Err(errors.Join(errors.ErrRestore, err)).Msg("persisted session corrupt, discarding")
		m.removeUserRecord()
		return nil
	}
	if s.Expired(m.nowFunc()) {
		m.metrics.Restore(metrics.ResultEmpty)
		m.logger.Info().Time("expired_at", s.ExpiresAt).Msg("persisted session expired, discarding")
		m.removeUserRecord()
		return nil
	}

	m.mu.Lock()
	m.current = s
	m.scheduleRenewalLocked(s)
	m.mu.Unlock()

	m.metrics.Restore(metrics.ResultSuccess)
	m.logger.Info().Str("sub", s.Subject).Msg("session restored")
	return s.Clone()
}

func (m *Manager) removeUserRecord() {
	if err := m.store.Remove(m.userKey); err != nil {
		m.logger.Warn().Err(err).Msg("failed to remove persisted session")
	}
}

// InitiateLogout ends the provider-side session when one exists and always clears the
// local session. The returned error wraps errors.ErrLogout and is informational: the
// local session is gone either way.
func (m *Manager) InitiateLogout(ctx context.Context) error {
	m.opMu.Lock()

	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	var logoutErr error
	if cur != nil {
		endCtx, cancel := context.WithTimeout(ctx, m.cfg.NetworkTimeout)
		if err := m.provider.EndSession(endCtx, cur.IDToken); err != nil {
			logoutErr = errors.Join(errors.ErrLogout, err)
			m.metrics.Logout(metrics.ResultFailure)
			m.logger.Warn().Err(err).Msg("provider sign-out failed, clearing local session")
		} else {
			m.metrics.Logout(metrics.ResultSuccess)
		}
		cancel()
	} else {
		m.metrics.Logout(metrics.ResultEmpty)
	}

	hadSession := m.clearLocked()
	m.opMu.Unlock()

	if hadSession {
		m.logger.Info().Msg("user signed out")
		m.events.emit(Event{Kind: SessionUnloaded})
	}
	return logoutErr
}

// AccessToken returns the current session's access token, or "" when there is no valid
// session.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.current.Valid(m.nowFunc()) {
		return ""
	}
	return m.current.AccessToken
}

// User returns a copy of the current session, or nil.
func (m *Manager) User() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Now is the manager's clock.
func (m *Manager) Now() time.Time {
	return m.nowFunc()
}
