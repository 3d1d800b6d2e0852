package providerfake

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"maps"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/choirapp/session"
	"github.com/pkg/errors"
)

var _ session.IdentityProvider = (*FakeProvider)(nil)

var (
	ErrInvalidGrant = errors.New("invalid_grant")
	ErrInvalidToken = errors.New("invalid id token")
	ErrPKCE         = errors.New("code_verifier does not match code_challenge")
)

const AuthorizeURL = "https://id.example.com/realms/choir/protocol/openid-connect/auth"

// Grant is what the fake provider issues for a code or refresh token.
type Grant struct {
	Token  session.TokenResponse
	Claims map[string]any
}

type authRequest struct {
	nonce     string
	challenge string
}

// FakeProvider is an in-memory identity provider. Codes are single use, ID tokens carry
// the nonce of the authorization request they were issued for.
type FakeProvider struct {
	lock sync.Mutex

	requests  map[string]authRequest // state -> request
	codes     map[string]Grant
	codeState map[string]string // code -> state it was issued for
	refreshes map[string]Grant
	idTokens  map[string]map[string]any
	userInfo  map[string]any

	ExchangeErr   error
	RefreshErr    error
	UserInfoErr   error
	EndSessionErr error

	// Delay blocks network calls until it elapses or the context is done.
	Delay time.Duration

	exchanges   int
	refreshCall int
	endSessions []string
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		requests:  make(map[string]authRequest),
		codes:     make(map[string]Grant),
		codeState: make(map[string]string),
		refreshes: make(map[string]Grant),
		idTokens:  make(map[string]map[string]any),
	}
}

// AuthCodeURL records the request so a later code can be bound to its nonce.
func (fp *FakeProvider) AuthCodeURL(state, nonce, verifier string) string {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	fp.requests[state] = authRequest{nonce: nonce, challenge: challenge(verifier)}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("code_challenge", challenge(verifier))
	q.Set("code_challenge_method", "S256")
	return AuthorizeURL + "?" + q.Encode()
}

// IssueCode simulates the user authenticating for the request identified by state.
func (fp *FakeProvider) IssueCode(state, code string, grant Grant) {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	req := fp.requests[state]
	claims := maps.Clone(grant.Claims)
	if claims == nil {
		claims = map[string]any{}
	}
	claims["nonce"] = req.nonce

	fp.codes[code] = grant
	fp.codeState[code] = state
	fp.idTokens[grant.Token.IDToken] = claims
	if grant.Token.RefreshToken != "" {
		fp.refreshes[grant.Token.RefreshToken] = grant
	}
}

// AddRefresh makes refreshToken redeemable for grant.
func (fp *FakeProvider) AddRefresh(refreshToken string, grant Grant) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.refreshes[refreshToken] = grant
	if grant.Token.IDToken != "" {
		fp.idTokens[grant.Token.IDToken] = maps.Clone(grant.Claims)
	}
}

// SetUserInfo sets the claims returned by the userinfo endpoint.
func (fp *FakeProvider) SetUserInfo(claims map[string]any) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.userInfo = claims
}

func (fp *FakeProvider) wait(ctx context.Context) error {
	if fp.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(fp.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (fp *FakeProvider) Exchange(ctx context.Context, code, verifier string) (*session.TokenResponse, error) {
	if err := fp.wait(ctx); err != nil {
		return nil, errors.Wrap(err, "FakeProvider.Exchange")
	}

	fp.lock.Lock()
	defer fp.lock.Unlock()

	fp.exchanges++
	if fp.ExchangeErr != nil {
		return nil, fp.ExchangeErr
	}
	grant, ok := fp.codes[code]
	if !ok {
		return nil, ErrInvalidGrant
	}
	delete(fp.codes, code)

	if fp.requests[fp.codeState[code]].challenge != challenge(verifier) {
		return nil, ErrPKCE
	}
	token := grant.Token
	return &token, nil
}

func (fp *FakeProvider) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (map[string]any, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	claims, ok := fp.idTokens[rawIDToken]
	if !ok {
		return nil, ErrInvalidToken
	}
	if nonce != "" && claims["nonce"] != nonce {
		return nil, errors.New("invalid nonce")
	}
	return maps.Clone(claims), nil
}

func (fp *FakeProvider) Refresh(ctx context.Context, refreshToken string) (*session.TokenResponse, error) {
	if err := fp.wait(ctx); err != nil {
		return nil, errors.Wrap(err, "FakeProvider.Refresh")
	}

	fp.lock.Lock()
	defer fp.lock.Unlock()

	fp.refreshCall++
	if fp.RefreshErr != nil {
		return nil, fp.RefreshErr
	}
	grant, ok := fp.refreshes[refreshToken]
	if !ok {
		return nil, ErrInvalidGrant
	}
	token := grant.Token
	return &token, nil
}

func (fp *FakeProvider) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	if fp.UserInfoErr != nil {
		return nil, fp.UserInfoErr
	}
	return maps.Clone(fp.userInfo), nil
}

func (fp *FakeProvider) EndSession(ctx context.Context, idTokenHint string) error {
	if err := fp.wait(ctx); err != nil {
		return errors.Wrap(err, "FakeProvider.EndSession")
	}

	fp.lock.Lock()
	defer fp.lock.Unlock()

	fp.endSessions = append(fp.endSessions, idTokenHint)
	return fp.EndSessionErr
}

// Exchanges reports how many code exchanges were attempted.
func (fp *FakeProvider) Exchanges() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.exchanges
}

// Refreshes reports how many refresh grants were attempted.
func (fp *FakeProvider) Refreshes() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.refreshCall
}

// EndSessionHints returns the id_token_hint of every end-session call.
func (fp *FakeProvider) EndSessionHints() []string {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return append([]string(nil), fp.endSessions...)
}

func challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// StateFromURL extracts the state parameter of an authorization URL.
func StateFromURL(authURL string) string {
	u, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}
