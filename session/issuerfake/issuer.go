// Package issuerfake runs a Keycloak-like OIDC provider on an httptest server.
package issuerfake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RealmPath    = "/realms/choir"
	ValidCode    = "good-code"
	RefreshToken = "refresh-1"
	TokenExpiry  = 5 * time.Minute
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Issuer accepts ValidCode (with any PKCE verifier) and RefreshToken, and signs ID
// tokens with the nonce set by SetNonce.
type Issuer struct {
	ClientID string
	Subject  string
	Roles    []string
	UserInfo map[string]any

	server *httptest.Server
	keys   *KeyPair

	mu               sync.Mutex
	nonce            string
	endSessionStatus int
	endSessionHints  []string
}

// New starts an issuer; call Close when done.
func New(clientID, subject string) (*Issuer, error) {
	keys, err := GenerateRSAKeyPair(uuid.NewString(), 2048)
	if err != nil {
		return nil, err
	}

	i := &Issuer{
		ClientID:         clientID,
		Subject:          subject,
		Roles:            []string{"SINGER", "ADMIN"},
		UserInfo:         map[string]any{"sub": subject},
		keys:             keys,
		endSessionStatus: http.StatusFound,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(RealmPath+"/.well-known/openid-configuration", i.discovery)
	mux.HandleFunc(RealmPath+"/protocol/openid-connect/certs", i.jwks)
	mux.HandleFunc(RealmPath+"/protocol/openid-connect/token", i.token)
	mux.HandleFunc(RealmPath+"/protocol/openid-connect/userinfo", i.userInfo)
	mux.HandleFunc(RealmPath+"/protocol/openid-connect/logout", i.logout)
	i.server = httptest.NewServer(mux)
	return i, nil
}

func (i *Issuer) Close() {
	i.server.Close()
}

// URL is the issuer identifier, used as the authority.
func (i *Issuer) URL() string {
	return i.server.URL + RealmPath
}

func (i *Issuer) Client() *http.Client {
	return i.server.Client()
}

// SetNonce sets the nonce claim of ID tokens issued for ValidCode.
func (i *Issuer) SetNonce(nonce string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nonce = nonce
}

// SetEndSessionStatus sets the end-session response; http.StatusFound redirects to the
// post_logout_redirect_uri.
func (i *Issuer) SetEndSessionStatus(status int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.endSessionStatus = status
}

// EndSessionHints returns the id_token_hint of every end-session request.
func (i *Issuer) EndSessionHints() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.endSessionHints...)
}

// CreateIDToken signs an ID token with identity claims only; roles belong in the access
// token.
func (i *Issuer) CreateIDToken(nonce string) (string, error) {
	now := NowTimeFunc()
	claims := jwt.MapClaims{
		"iss": i.URL(),
		"sub": i.Subject,
		"aud": i.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(TokenExpiry).Unix(),
		"jti": uuid.NewString(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return i.keys.Sign(claims)
}

// CreateAccessToken signs an access token with Keycloak realm roles.
func (i *Issuer) CreateAccessToken() (string, error) {
	now := NowTimeFunc()
	return i.keys.Sign(jwt.MapClaims{
		"iss":          i.URL(),
		"sub":          i.Subject,
		"azp":          i.ClientID,
		"iat":          now.Unix(),
		"exp":          now.Add(TokenExpiry).Unix(),
		"jti":          uuid.NewString(),
		"realm_access": map[string]any{"roles": i.Roles},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code, "error_description": description})
}

func (i *Issuer) discovery(w http.ResponseWriter, r *http.Request) {
	base := i.URL() + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                i.URL(),
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"userinfo_endpoint":                     base + "/userinfo",
		"jwks_uri":                              base + "/certs",
		"end_session_endpoint":                  base + "/logout",
		"id_token_signing_alg_values_supported": []string{RS256},
	})
}

func (i *Issuer) jwks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JWKS{Keys: []JWK{i.keys.ToJWK()}})
}

func (i *Issuer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", err.Error())
		return
	}

	var nonce string
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != ValidCode || r.PostForm.Get("code_verifier") == "" {
			writeOAuthError(w, "invalid_grant", "Code not valid")
			return
		}
		i.mu.Lock()
		nonce = i.nonce
		i.mu.Unlock()
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != RefreshToken {
			writeOAuthError(w, "invalid_grant", "Token is not active")
			return
		}
	default:
		writeOAuthError(w, "unsupported_grant_type", "")
		return
	}

	idToken, err := i.CreateIDToken(nonce)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	accessToken, err := i.CreateAccessToken()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(TokenExpiry.Seconds()),
		"refresh_token": RefreshToken,
		"id_token":      idToken,
	})
}

func (i *Issuer) userInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, i.UserInfo)
}

func (i *Issuer) logout(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	i.endSessionHints = append(i.endSessionHints, r.URL.Query().Get("id_token_hint"))
	status := i.endSessionStatus
	i.mu.Unlock()

	if status == http.StatusFound {
		http.Redirect(w, r, r.URL.Query().Get("post_logout_redirect_uri"), http.StatusFound)
		return
	}
	w.WriteHeader(status)
}
