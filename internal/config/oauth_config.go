package config

import "time"

const (
	authorityVar         = "OIDC_AUTHORITY"
	clientIDVar          = "OIDC_CLIENT_ID"
	redirectURIVar       = "OIDC_REDIRECT_URI"
	postLogoutURIVar     = "OIDC_POST_LOGOUT_REDIRECT_URI"
	scopesVar            = "OIDC_SCOPES"
	silentRenewVar       = "OIDC_AUTOMATIC_SILENT_RENEW"
	loadUserInfoVar      = "OIDC_LOAD_USER_INFO"
	renewLeadTimeVar     = "OIDC_RENEW_LEAD_TIME"
	networkTimeoutVar    = "OIDC_NETWORK_TIMEOUT"
	pendingRequestTTLVar = "OIDC_PENDING_REQUEST_TTL"
)

type OIDCConfig interface {
	GetAuthority() string
	GetClientID() string
	GetRedirectURI() string
	GetPostLogoutRedirectURI() string
	GetScopes() []string
	GetAutomaticSilentRenew() bool
	GetLoadUserInfo() bool
	GetRenewLeadTime() time.Duration
	GetNetworkTimeout() time.Duration
	GetPendingRequestTTL() time.Duration
}

type OIDC struct {
	src source
}

var _ OIDCConfig = OIDC{}

// GetAuthority returns the realm URL of the identity provider, e.g.
// "https://keycloak.example.com/realms/choir".
func (o OIDC) GetAuthority() string {
	return o.src.get(authorityVar, "http://localhost:8080/realms/choir")
}

func (o OIDC) GetClientID() string {
	return o.src.get(clientIDVar, "choir-mobile")
}

func (o OIDC) GetRedirectURI() string {
	return o.src.get(redirectURIVar, "choirapp://callback")
}

func (o OIDC) GetPostLogoutRedirectURI() string {
	return o.src.get(postLogoutURIVar, "choirapp://logout")
}

// GetScopes must include openid; offline_access is needed for refresh tokens.
func (o OIDC) GetScopes() []string {
	return o.src.getList(scopesVar, []string{"openid", "profile", "email", "offline_access"})
}

func (o OIDC) GetAutomaticSilentRenew() bool {
	return o.src.getBool(silentRenewVar, true)
}

func (o OIDC) GetLoadUserInfo() bool {
	return o.src.getBool(loadUserInfoVar, true)
}

func (o OIDC) GetRenewLeadTime() time.Duration {
	return o.src.getDuration(renewLeadTimeVar, 60*time.Second)
}

func (o OIDC) GetNetworkTimeout() time.Duration {
	return o.src.getDuration(networkTimeoutVar, 10*time.Second)
}

func (o OIDC) GetPendingRequestTTL() time.Duration {
	return o.src.getDuration(pendingRequestTTLVar, 15*time.Minute)
}
