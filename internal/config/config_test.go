package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/choirapp/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := config.New()

	require.Equal(t, "choirapp://callback", c.GetRedirectURI())
	require.Equal(t, "choirapp://logout", c.GetPostLogoutRedirectURI())
	require.Equal(t, []string{"openid", "profile", "email", "offline_access"}, c.GetScopes())
	require.True(t, c.GetAutomaticSilentRenew())
	require.True(t, c.GetLoadUserInfo())
	require.Equal(t, 60*time.Second, c.GetRenewLeadTime())
	require.Equal(t, 10*time.Second, c.GetNetworkTimeout())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OIDC_CLIENT_ID", "env-client")
	t.Setenv("OIDC_SCOPES", "openid,profile")
	t.Setenv("OIDC_AUTOMATIC_SILENT_RENEW", "false")
	t.Setenv("OIDC_NETWORK_TIMEOUT", "not-a-duration")

	c := config.New()

	require.Equal(t, "env-client", c.GetClientID())
	require.Equal(t, []string{"openid", "profile"}, c.GetScopes())
	require.False(t, c.GetAutomaticSilentRenew())
	require.Equal(t, 10*time.Second, c.GetNetworkTimeout())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "choirapp.yaml")
	err := os.WriteFile(path, []byte(`
app_name: Choir Test
oidc:
  authority: https://id.example.com/realms/choir
  client_id: file-client
  scopes: [openid, offline_access]
  load_user_info: false
  renew_lead_time: 30s
api:
  base_url: https://api.example.com/api
`), 0o600)
	require.NoError(t, err)

	t.Run("file values apply", func(t *testing.T) {
		c, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, "Choir Test", c.GetAppName())
		require.Equal(t, "https://id.example.com/realms/choir", c.GetAuthority())
		require.Equal(t, "file-client", c.GetClientID())
		require.Equal(t, []string{"openid", "offline_access"}, c.GetScopes())
		require.False(t, c.GetLoadUserInfo())
		require.True(t, c.GetAutomaticSilentRenew())
		require.Equal(t, 30*time.Second, c.GetRenewLeadTime())
		require.Equal(t, "https://api.example.com/api", c.GetAPIBaseURL())
	})

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("OIDC_CLIENT_ID", "env-client")
		c, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, "env-client", c.GetClientID())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}
