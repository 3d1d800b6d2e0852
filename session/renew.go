package session

import (
	"context"
	"time"

	"github.com/jrsteele09/choirapp/internal/errors"
	"github.com/jrsteele09/choirapp/metrics"
)

// Start arms the renewal timer for the current session and for every session that
// becomes current until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.renewCtx = ctx
	if m.current != nil {
		m.scheduleRenewalLocked(m.current)
	}
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.renewCtx == ctx {
			m.stopRenewalLocked()
			m.renewCtx = nil
		}
	}()
}

// Close stops the renewal timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRenewalLocked()
	m.renewCtx = nil
}

// scheduleRenewalLocked arms the timer for s. With automatic silent renew and a refresh
// token it fires RenewLeadTime before expiry and renews; otherwise it fires at expiry
// and unloads. Callers hold mu.
func (m *Manager) scheduleRenewalLocked(s *Session) {
	m.stopRenewalLocked()
	if m.renewCtx == nil {
		return
	}

	renew := m.cfg.AutomaticSilentRenew && s.RefreshToken != ""
	delay := s.ExpiresIn(m.nowFunc())
	if renew {
		delay -= m.cfg.RenewLeadTime
	}
	if delay < 0 {
		delay = 0
	}

	ctx := m.renewCtx
	m.renewTimer = time.AfterFunc(delay, func() {
		if ctx.Err() != nil || !m.isCurrent(s) {
			return
		}
		if renew {
			if _, err := m.SignInSilent(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("automatic silent renew failed")
			}
			return
		}
		m.expire(s)
	})
}

func (m *Manager) stopRenewalLocked() {
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
}

func (m *Manager) isCurrent(s *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == s
}

// expire unloads s if it is still current and has run out.
func (m *Manager) expire(s *Session) {
	m.opMu.Lock()
	if !m.isCurrent(s) {
		m.opMu.Unlock()
		return
	}
	if s.Valid(m.nowFunc()) {
		m.mu.Lock()
		m.scheduleRenewalLocked(s)
		m.mu.Unlock()
		m.opMu.Unlock()
		return
	}
	hadSession := m.clearLocked()
	m.opMu.Unlock()

	if hadSession {
		m.logger.Info().Str("sub", s.Subject).Msg("session expired")
		m.events.emit(Event{Kind: SessionUnloaded})
	}
}

// SignInSilent exchanges the refresh token for a new session. On failure the session is
// removed and SessionUnloaded raised; the error wraps errors.ErrRenewal.
func (m *Manager) SignInSilent(ctx context.Context) (*Session, error) {
	s, err := m.signInSilent(ctx)
	if err != nil {
		m.metrics.Renewal(metrics.ResultFailure)
		return nil, errors.Join(errors.ErrRenewal, err)
	}
	m.metrics.Renewal(metrics.ResultSuccess)
	m.logger.Debug().Str("sub", s.Subject).Time("expires_at", s.ExpiresAt).Msg("session renewed")
	m.events.emit(Event{Kind: SessionLoaded, Session: s})
	return s.Clone(), nil
}

func (m *Manager) signInSilent(ctx context.Context) (*Session, error) {
	m.opMu.Lock()

	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	if cur == nil {
		m.opMu.Unlock()
		return nil, errors.ErrNoSession
	}

	s, err := m.refreshLocked(ctx, cur)
	if err != nil {
		hadSession := m.clearLocked()
		m.opMu.Unlock()
		if hadSession {
			m.events.emit(Event{Kind: SessionUnloaded})
		}
		return nil, err
	}

	m.setCurrentLocked(s)
	m.opMu.Unlock()
	return s, nil
}

func (m *Manager) refreshLocked(ctx context.Context, cur *Session) (*Session, error) {
	if cur.RefreshToken == "" {
		return nil, errors.ErrNoRefresh
	}

	refreshCtx, cancel := context.WithTimeout(ctx, m.cfg.NetworkTimeout)
	defer cancel()

	token, err := m.provider.Refresh(refreshCtx, cur.RefreshToken)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = cur.RefreshToken
	}

	idClaims := cur.Profile
	reusedIDToken := token.IDToken == ""
	if reusedIDToken {
		token.IDToken = cur.IDToken
	} else {
		verified, err := m.provider.VerifyIDToken(refreshCtx, token.IDToken, "")
		if err != nil {
			return nil, err
		}
		if subject(verified) != cur.Subject {
			return nil, errors.New("refreshed id token subject changed")
		}
		idClaims = verified
	}

	profile := buildProfile(idClaims, nil, token.AccessToken)
	if reusedIDToken {
		// Roles may have changed since sign-in; the new access token is authoritative.
		atClaims := accessTokenClaims(token.AccessToken)
		for _, key := range accessTokenClaimKeys {
			if v, ok := atClaims[key]; ok {
				profile[key] = v
			}
		}
	}
	return m.newSession(token, profile), nil
}
