package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of the optional config file.
type File struct {
	AppName     string `yaml:"app_name"`
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
	OIDC        struct {
		Authority             string   `yaml:"authority"`
		ClientID              string   `yaml:"client_id"`
		RedirectURI           string   `yaml:"redirect_uri"`
		PostLogoutRedirectURI string   `yaml:"post_logout_redirect_uri"`
		Scopes                []string `yaml:"scopes"`
		AutomaticSilentRenew  *bool    `yaml:"automatic_silent_renew"`
		LoadUserInfo          *bool    `yaml:"load_user_info"`
		RenewLeadTime         string   `yaml:"renew_lead_time"`
		NetworkTimeout        string   `yaml:"network_timeout"`
		PendingRequestTTL     string   `yaml:"pending_request_ttl"`
	} `yaml:"oidc"`
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Store struct {
		Folder     string `yaml:"folder"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"store"`
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config readFile] %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("[config readFile] parse %s: %w", path, err)
	}
	return f.values(), nil
}

// values flattens the file onto the environment variable names it shadows.
func (f File) values() map[string]string {
	v := map[string]string{
		appNameVar:           f.AppName,
		envVar:               f.Env,
		logLevelVar:          f.LogLevel,
		metricsAddrVar:       f.MetricsAddr,
		authorityVar:         f.OIDC.Authority,
		clientIDVar:          f.OIDC.ClientID,
		redirectURIVar:       f.OIDC.RedirectURI,
		postLogoutURIVar:     f.OIDC.PostLogoutRedirectURI,
		scopesVar:            strings.Join(f.OIDC.Scopes, " "),
		renewLeadTimeVar:     f.OIDC.RenewLeadTime,
		networkTimeoutVar:    f.OIDC.NetworkTimeout,
		pendingRequestTTLVar: f.OIDC.PendingRequestTTL,
		apiBaseURLVar:        f.API.BaseURL,
		apiTimeoutVar:        f.API.Timeout,
		storeFolderVar:       f.Store.Folder,
		storePassphraseVar:   f.Store.Passphrase,
	}
	if f.OIDC.AutomaticSilentRenew != nil {
		v[silentRenewVar] = strconv.FormatBool(*f.OIDC.AutomaticSilentRenew)
	}
	if f.OIDC.LoadUserInfo != nil {
		v[loadUserInfoVar] = strconv.FormatBool(*f.OIDC.LoadUserInfo)
	}
	return v
}
