package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingRealmNames(t *testing.T) {
	t.Setenv("REALM_NAMES", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("REALM_NAMES", "acme")
	t.Setenv("REALM_ACME_MFA_ENCRYPTION_KEY_HEX", "deadbeef")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REALM_NAMES", "acme")
	t.Setenv("REALM_ACME_SECRET_HEX", "a1b2c3")
	t.Setenv("REALM_ACME_MFA_ENCRYPTION_KEY_HEX", "d4e5f6")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Realms, 1)

	r := cfg.Realms[0]
	require.Equal(t, "acme", r.Name)
	require.Equal(t, "acme", r.Issuer)
	require.Equal(t, "a1b2c3", r.SecretHex)
	require.Equal(t, "d4e5f6", r.MFAEncryptionKeyHex)
	require.Equal(t, 15*time.Minute, r.AccessTokenTTL)
	require.Equal(t, 5, r.LockoutThreshold)
	require.Equal(t, "development", cfg.Env)
}

func TestLoad_MultipleRealmsAreIndependent(t *testing.T) {
	t.Setenv("REALM_NAMES", "acme, globex")
	t.Setenv("REALM_ACME_SECRET_HEX", "aaaa")
	t.Setenv("REALM_ACME_MFA_ENCRYPTION_KEY_HEX", "aaaa")
	t.Setenv("REALM_GLOBEX_SECRET_HEX", "bbbb")
	t.Setenv("REALM_GLOBEX_MFA_ENCRYPTION_KEY_HEX", "bbbb")
	t.Setenv("REALM_GLOBEX_ACCESS_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Realms, 2)
	require.Equal(t, 15*time.Minute, cfg.Realms[0].AccessTokenTTL)
	require.Equal(t, time.Hour, cfg.Realms[1].AccessTokenTTL)
}
