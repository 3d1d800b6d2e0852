package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/choirapp/internal/errors"
	"golang.org/x/oauth2"
)

// TokenResponse is the subset of a token endpoint response the session needs.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Expiry       time.Time
}

// IdentityProvider is the OIDC client library as seen by the Manager.
type IdentityProvider interface {
	// AuthCodeURL builds the authorization URL for a code + PKCE (S256) request.
	AuthCodeURL(state, nonce, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*TokenResponse, error)
	// VerifyIDToken checks the signature, issuer, audience and expiry of rawIDToken and,
	// when nonce is not empty, its nonce claim. It returns the token's claims.
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (map[string]any, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)
	// EndSession ends the provider-side session identified by idTokenHint.
	EndSession(ctx context.Context, idTokenHint string) error
}

// OIDCProvider implements IdentityProvider with go-oidc and x/oauth2.
type OIDCProvider struct {
	provider              *oidc.Provider
	oauth2Config          *oauth2.Config
	verifier              *oidc.IDTokenVerifier
	endSessionEndpoint    string
	postLogoutRedirectURI string
	httpClient            *http.Client
}

var _ IdentityProvider = (*OIDCProvider)(nil)

// NewOIDCProvider runs discovery against cfg.Authority. A nil httpClient uses one with
// cfg.NetworkTimeout.
func NewOIDCProvider(ctx context.Context, cfg Config, httpClient *http.Client) (*OIDCProvider, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.NetworkTimeout}
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Authority)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var discovery struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	return &OIDCProvider{
		provider: provider,
		oauth2Config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			Endpoint:    provider.Endpoint(),
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
		},
		verifier: provider.Verifier(&oidc.Config{
			ClientID: cfg.ClientID,
		}),
		endSessionEndpoint:    discovery.EndSessionEndpoint,
		postLogoutRedirectURI: cfg.PostLogoutRedirectURI,
		httpClient:            httpClient,
	}, nil
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

func (p *OIDCProvider) AuthCodeURL(state, nonce, verifier string) string {
	return p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.S256ChallengeOption(verifier))
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	token, err := p.oauth2Config.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, providerError("token exchange", err)
	}
	return tokenResponse(token), nil
}

func (p *OIDCProvider) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	// An empty access token forces the token source to use the refresh grant.
	ts := p.oauth2Config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := ts.Token()
	if err != nil {
		return nil, providerError("refresh", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return tokenResponse(token), nil
}

func (p *OIDCProvider) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (map[string]any, error) {
	idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, errors.ErrInvalidNonce
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}
	return claims, nil
}

func (p *OIDCProvider) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	info, err := p.provider.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	claims := map[string]any{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract userinfo claims: %w", err)
	}
	return claims, nil
}

// EndSessionURL builds the RP-initiated logout URL for idTokenHint.
func (p *OIDCProvider) EndSessionURL(idTokenHint string) (string, error) {
	if p.endSessionEndpoint == "" {
		return "", errors.ErrNoEndpoint
	}
	u, err := url.Parse(p.endSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid end_session_endpoint: %w", err)
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if p.postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", p.postLogoutRedirectURI)
	}
	q.Set("client_id", p.oauth2Config.ClientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *OIDCProvider) EndSession(ctx context.Context, idTokenHint string) error {
	endSessionURL, err := p.EndSessionURL(idTokenHint)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endSessionURL, nil)
	if err != nil {
		return err
	}

	// The post-logout redirect targets the app's custom scheme and cannot be followed.
	client := *p.httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("end session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: end session returned %s", errors.ErrProviderRejected, resp.Status)
	}
	return nil
}

func tokenResponse(token *oauth2.Token) *TokenResponse {
	idToken, _ := token.Extra("id_token").(string)
	return &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      idToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
}

func providerError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %s: %s %s", errors.ErrProviderRejected, op, retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
